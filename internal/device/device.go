// Package device implements the per-interface backlog and poll loop (spec
// §4.B): buffers arrive from a driver, queue on a FIFO backlog guarded by a
// single per-device mutex, and are drained by Poll under two budgets (a
// maximum buffer count and a maximum byte weight) that bound the work of
// each Poll call.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbstack/nbstack/internal/destcache"
	"github.com/nbstack/nbstack/internal/metrics"
	"github.com/nbstack/nbstack/internal/nb"
)

// Driver is the capture/injection backend a Device is bound to (spec §6):
// a pcap file reader, a future live-capture source, or a test fake. Read
// must enqueue whatever it reads directly onto dev's backlog via
// AddBacklog — it does not return buffers to the caller — matching the
// spec's description of the driver as the producer side of the backlog.
type Driver interface {
	Read(ctx context.Context, dev *Device, max int) (int, error)
	Write(dev *Device, b *nb.Buffer) error
	Available(dev *Device) (int, error)
}

// NetIF records the network-layer identity assigned to this device: its
// own address, the subnet mask used to classify destinations as local vs.
// routed, and the default gateway for everything else (spec §4.F).
type NetIF struct {
	LocalIP net.IP
	Mask    net.IPMask
	Gateway net.IP
}

// Config describes one device at construction time (see
// internal/config for the file-level structure these come from).
type Config struct {
	Name             string
	MTU              uint16
	HWAddr           net.HardwareAddr
	NetIF            NetIF
	RXMax            int
	ProcessingWeight int
}

// Stats holds the per-device atomic counters returned by Device.Stats and
// exercised by the backpressure test in spec §8 (internal/metrics keeps
// its own Prometheus counters alongside them).
type Stats struct {
	RXPackets uint64
	TXPackets uint64
	RXBytes   uint64
	TXBytes   uint64
	Drops     uint64
	Freed     uint64
}

// Device is one network interface: a backlog, a destination cache, a
// protocol table, and the budgets Poll enforces while draining it.
type Device struct {
	name   string
	mtu    uint16
	hwaddr net.HardwareAddr
	netif  NetIF

	mu      *timedMutex
	backlog *nb.List

	rxMax            int
	processingWeight int

	driver Driver
	dest   *destcache.Cache

	// rxHandler is the datalink input entry point (ethernet_input),
	// assigned externally by the stack wiring layer so that this package
	// never imports internal/link/ethernet.
	rxHandler func(*nb.Buffer)

	stats Stats

	event    chan struct{}
	draining atomic.Bool
	wg       sync.WaitGroup
}

// New constructs a Device bound to driver, with an empty destination
// cache and no protocol handlers registered.
func New(cfg Config, driver Driver) *Device {
	rxMax := cfg.RXMax
	if rxMax <= 0 {
		rxMax = 64
	}
	weight := cfg.ProcessingWeight
	if weight <= 0 {
		weight = 1 << 20
	}
	return &Device{
		name:             cfg.Name,
		mtu:              cfg.MTU,
		hwaddr:           cfg.HWAddr,
		netif:            cfg.NetIF,
		mu:               newTimedMutex(),
		backlog:          nb.NewList(nb.OwnerBacklog),
		rxMax:            rxMax,
		processingWeight: weight,
		driver:           driver,
		dest:             destcache.New(),
		event:            make(chan struct{}, 1),
	}
}

// Name implements nb.DeviceHandle.
func (d *Device) Name() string { return d.name }

// MTU returns the configured maximum transmission unit.
func (d *Device) MTU() uint16 { return d.mtu }

// HWAddr returns this device's link address.
func (d *Device) HWAddr() net.HardwareAddr { return d.hwaddr }

// NetIF returns this device's network-layer identity.
func (d *Device) NetIF() NetIF { return d.netif }

// LocalIP returns this device's configured network address.
func (d *Device) LocalIP() net.IP { return d.netif.LocalIP }

// Mask returns this device's configured subnet mask.
func (d *Device) Mask() net.IPMask { return d.netif.Mask }

// Gateway returns this device's configured default gateway.
func (d *Device) Gateway() net.IP { return d.netif.Gateway }

// Destinations returns this device's destination cache (spec §4.C).
func (d *Device) Destinations() *destcache.Cache { return d.dest }

// Stats returns a snapshot of this device's counters.
func (d *Device) Stats() Stats {
	return Stats{
		RXPackets: atomic.LoadUint64(&d.stats.RXPackets),
		TXPackets: atomic.LoadUint64(&d.stats.TXPackets),
		RXBytes:   atomic.LoadUint64(&d.stats.RXBytes),
		TXBytes:   atomic.LoadUint64(&d.stats.TXBytes),
		Drops:     atomic.LoadUint64(&d.stats.Drops),
		Freed:     atomic.LoadUint64(&d.stats.Freed),
	}
}

// SetRXHandler assigns the datalink input function (ethernet_input)
// invoked by Poll for each drained buffer.
func (d *Device) SetRXHandler(fn func(*nb.Buffer)) { d.rxHandler = fn }

func (d *Device) lock(timeout time.Duration) bool { return d.mu.Lock(timeout) }
func (d *Device) unlock()                          { d.mu.Unlock() }

// AddBacklog enqueues b on this device's backlog and wakes Run. Called by
// a Driver after it reads a frame, or by loopback/test code injecting
// synthetic traffic.
func (d *Device) AddBacklog(b *nb.Buffer) {
	b.SetDevice(d)
	b.SetFlag(nb.RX)
	d.lock(0)
	d.backlog.PushBack(b)
	depth := d.backlog.Len()
	d.unlock()

	metrics.BacklogDepth.WithLabelValues(d.name).Set(float64(depth))

	select {
	case d.event <- struct{}{}:
	default:
	}
}

// BacklogLen reports the number of buffers currently queued.
func (d *Device) BacklogLen() int {
	d.lock(0)
	defer d.unlock()
	return d.backlog.Len()
}

// Poll drains up to rxMax buffers, or until the cumulative byte weight of
// drained buffers would exceed processingWeight, whichever comes first —
// the dual budget from spec §4.B's backpressure design. The weight check
// is skipped for the first buffer of a call, so one call can drain a
// single buffer larger than processingWeight. It returns the
// number of buffers processed. The device mutex is released before each
// invocation of rxHandler and reacquired after, per the concurrency model
// in spec §5: handlers must never run while holding the device lock, so a
// slow handler cannot block AddBacklog producers.
func (d *Device) Poll() (int, error) {
	if d.rxHandler == nil {
		return 0, fmt.Errorf("device %s: no rx handler installed", d.name)
	}

	processed := 0
	weight := 0

	for processed < d.rxMax {
		d.lock(0)
		b := d.backlog.Front()
		if b == nil {
			d.unlock()
			break
		}
		if processed > 0 && weight+b.Len(nb.Datalink) > d.processingWeight {
			d.unlock()
			break
		}
		d.backlog.Remove(b)
		depth := d.backlog.Len()
		d.unlock()

		metrics.BacklogDepth.WithLabelValues(d.name).Set(float64(depth))

		weight += b.Len(nb.Datalink)
		processed++
		atomic.AddUint64(&d.stats.RXPackets, 1)
		atomic.AddUint64(&d.stats.RXBytes, uint64(b.Len(nb.Datalink)))

		d.rxHandler(b)

		if b.Disposable() {
			atomic.AddUint64(&d.stats.Freed, 1)
			if b.Is(nb.DROPPED) {
				atomic.AddUint64(&d.stats.Drops, 1)
				metrics.DropsTotal.WithLabelValues(d.name, "datalink").Inc()
			}
		}
	}

	metrics.RXPacketsTotal.WithLabelValues(d.name).Add(float64(processed))
	metrics.PollBatchSize.WithLabelValues(d.name).Observe(float64(processed))
	return processed, nil
}

// Transmit hands b to the driver's Write and updates tx counters (the
// output half of spec §4.E/§4.F composing a frame onto the wire).
func (d *Device) Transmit(b *nb.Buffer) error {
	b.SetFlag(nb.TX)
	if err := d.driver.Write(d, b); err != nil {
		return fmt.Errorf("device %s: write: %w", d.name, err)
	}
	atomic.AddUint64(&d.stats.TXPackets, 1)
	atomic.AddUint64(&d.stats.TXBytes, uint64(b.Len(nb.Datalink)))
	metrics.TXPacketsTotal.WithLabelValues(d.name).Add(1)
	return nil
}

// Run drives the poll loop until ctx is cancelled or Destroy is called:
// it waits on the event channel (signalled by AddBacklog and Destroy) or
// a 50ms ticker, asks the driver to Read as many frames as Available
// reports, then polls until the backlog is empty (one Poll per wakeup
// once draining), repeating. Intended to run as its own goroutine per device, matching
// the one-goroutine-per-partition shape of the teacher's capture loop.
func (d *Device) Run(ctx context.Context) {
	d.wg.Add(1)
	defer d.wg.Done()

	pollInterval := 50 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if d.draining.Load() && d.BacklogLen() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-d.event:
		case <-ticker.C:
		}

		if d.driver != nil {
			if n, err := d.driver.Available(d); err == nil && n > 0 {
				if _, err := d.driver.Read(ctx, d, n); err != nil {
					slog.Error("device read error", "device", d.name, "error", err)
				}
			}
		}

		for d.BacklogLen() > 0 {
			if _, err := d.Poll(); err != nil {
				slog.Error("device poll error", "device", d.name, "error", err)
				break
			}
			if d.draining.Load() {
				break
			}
		}
	}
}

// Destroy marks the device as draining: Run will exit once the backlog
// empties rather than accepting new work indefinitely, and any blocked
// Run goroutine is woken immediately to observe the flag.
func (d *Device) Destroy() {
	d.draining.Store(true)
	select {
	case d.event <- struct{}{}:
	default:
	}
	d.wg.Wait()
}
