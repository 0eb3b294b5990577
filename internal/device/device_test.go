package device

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nbstack/nbstack/internal/nb"
)

type nullDriver struct{}

func (nullDriver) Read(ctx context.Context, dev *Device, max int) (int, error) { return 0, nil }
func (nullDriver) Write(dev *Device, b *nb.Buffer) error                       { return nil }
func (nullDriver) Available(dev *Device) (int, error)                         { return 0, nil }

func newTestDevice(rxMax int) *Device {
	return New(Config{
		Name:             "eth-test",
		MTU:              1500,
		HWAddr:           net.HardwareAddr{0, 1, 2, 3, 4, 5},
		RXMax:            rxMax,
		ProcessingWeight: 1 << 20,
	}, nullDriver{})
}

func frame(n int) *nb.Buffer {
	b := nb.Alloc(nb.MaskDatalink, 14)
	b.CpyData(nb.Datalink, make([]byte, 14))
	return b
}

// TestPollHonorsRXMax reproduces spec §8's backpressure scenario:
// rx_max=5, 20 buffers enqueued, one poll() call returns 5 and leaves 15
// queued, with rx_packets incremented by 5.
func TestPollHonorsRXMax(t *testing.T) {
	d := newTestDevice(5)
	d.SetRXHandler(func(b *nb.Buffer) { b.MarkArrived() })

	for i := 0; i < 20; i++ {
		d.AddBacklog(frame(i))
	}

	n, err := d.Poll()
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if n != 5 {
		t.Fatalf("Poll() = %d, want 5", n)
	}
	if got := d.BacklogLen(); got != 15 {
		t.Fatalf("BacklogLen() = %d, want 15", got)
	}
	if got := d.Stats().RXPackets; got != 5 {
		t.Fatalf("RXPackets = %d, want 5", got)
	}
}

// TestPollHonorsProcessingWeight checks the byte-budget axis independent
// of rx_max: a tiny weight should stop draining after the first buffer
// even though rx_max would allow many more.
func TestPollHonorsProcessingWeight(t *testing.T) {
	d := New(Config{
		Name:             "eth-weight",
		MTU:              1500,
		HWAddr:           net.HardwareAddr{0, 1, 2, 3, 4, 5},
		RXMax:            100,
		ProcessingWeight: 14, // exactly one 14-byte frame
	}, nullDriver{})
	d.SetRXHandler(func(b *nb.Buffer) { b.MarkArrived() })

	for i := 0; i < 10; i++ {
		d.AddBacklog(frame(i))
	}

	n, err := d.Poll()
	if err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("Poll() = %d, want 1 (weight budget should stop draining)", n)
	}
}

// TestDisposableBuffersCountedFreed checks the accounting invariant from
// spec §8 for dropped buffers: both buffers the handler marks DROPPED are
// counted as freed and as drops.
func TestDisposableBuffersCountedFreed(t *testing.T) {
	d := newTestDevice(10)
	d.SetRXHandler(func(b *nb.Buffer) {
		if b.Len(nb.Datalink) > 0 {
			b.MarkDropped()
		}
	})
	d.AddBacklog(frame(0))
	d.AddBacklog(frame(1))

	if _, err := d.Poll(); err != nil {
		t.Fatalf("Poll() error: %v", err)
	}
	if got := d.Stats().Freed; got != 2 {
		t.Fatalf("Freed = %d, want 2", got)
	}
	if got := d.Stats().Drops; got != 2 {
		t.Fatalf("Drops = %d, want 2", got)
	}
}

// TestDestroyDrainsBacklogThenExits ensures Run terminates once draining
// is requested and the backlog has emptied.
func TestDestroyDrainsBacklogThenExits(t *testing.T) {
	d := newTestDevice(10)
	d.SetRXHandler(func(b *nb.Buffer) { b.MarkArrived() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.AddBacklog(frame(0))
	d.Destroy()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Destroy drained the backlog")
	}
}
