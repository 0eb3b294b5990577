// Package pcapfile implements a device.Driver backed by PCAP capture
// files (spec §6): frames are read from a sequence of input files and
// every frame that crosses the device, inbound or outbound, is mirrored
// to an output capture for offline inspection — the same dual
// read/record behavior as pcapdev_read/pcapdev_write in
// original_source/source/drivers/pcap.c. Uses gopacket/pcapgo, a
// pure-Go PCAP codec, so this driver needs no cgo or libpcap shared
// library — appropriate since the spec describes the wire format itself
// (24-byte global header, 16-byte per-record header) rather than naming
// a capture library.
package pcapfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/nbstack/nbstack/internal/device"
	"github.com/nbstack/nbstack/internal/nb"
)

// Driver reads frames from a list of input PCAP files in order and
// mirrors every frame (inbound and outbound) into an output PCAP file.
type Driver struct {
	mu      sync.Mutex
	sources []string
	srcIdx  int
	reader  *pcapgo.Reader
	srcFile *os.File

	out       *pcapgo.Writer
	outFile   *os.File
	available int
}

// Open creates a Driver reading from sources in order and mirroring
// traffic to dstPath. snaplen is written into the output capture's global
// header, matching the 65535 dead-handle snaplen pcapdev_setup_output
// opens with; frames are recorded whole, not truncated to it.
func Open(sources []string, dstPath string, snaplen uint32) (*Driver, error) {
	outFile, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("pcapfile: create %s: %w", dstPath, err)
	}
	writer := pcapgo.NewWriter(outFile)
	if err := writer.WriteFileHeader(snaplen, gopacket.LinkTypeEthernet); err != nil {
		outFile.Close()
		return nil, fmt.Errorf("pcapfile: write header: %w", err)
	}

	d := &Driver{
		sources:   append([]string(nil), sources...),
		out:       writer,
		outFile:   outFile,
		available: -1,
	}
	return d, nil
}

// Close flushes and closes the output capture and any open input file.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srcFile != nil {
		d.srcFile.Close()
	}
	return d.outFile.Close()
}

func (d *Driver) openNextSource() error {
	if d.srcFile != nil {
		d.srcFile.Close()
		d.srcFile = nil
		d.reader = nil
	}
	if d.srcIdx >= len(d.sources) {
		return nil
	}
	f, err := os.Open(d.sources[d.srcIdx])
	if err != nil {
		return fmt.Errorf("pcapfile: open %s: %w", d.sources[d.srcIdx], err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("pcapfile: parse %s: %w", d.sources[d.srcIdx], err)
	}
	d.srcFile = f
	d.reader = r
	return nil
}

// maxBatch bounds how many frames a single Read call drains per Run tick
// (pcapgo exposes no peek/count primitive the way libpcap's pcap_next_ex
// loop in pcapdev_available does, so Available reports a fixed batch
// size instead of an exact byte count whenever a source remains open).
const maxBatch = 64

// Available reports whether a source remains to be read, and if so how
// large a batch Read should attempt next.
func (d *Driver) Available(dev *device.Device) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reader == nil {
		if err := d.openNextSource(); err != nil {
			return 0, err
		}
		if d.reader == nil {
			return 0, nil
		}
	}
	return maxBatch, nil
}

// Read drains up to max frames from the current source (advancing to
// the next source file on EOF) and enqueues each onto dev's backlog via
// AddBacklog, exactly as pcapdev_read does — the driver is the producer
// side of the backlog, never a return value to the caller.
func (d *Driver) Read(ctx context.Context, dev *device.Device, max int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if max <= 0 {
		max = 1
	}
	count := 0
	for count < max {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		default:
		}

		if d.reader == nil {
			if err := d.openNextSource(); err != nil {
				return count, err
			}
			if d.reader == nil {
				return count, nil
			}
		}

		data, _, err := d.reader.ReadPacketData()
		if err != nil {
			d.srcIdx++
			if cerr := d.openNextSource(); cerr != nil {
				return count, cerr
			}
			if d.reader == nil {
				return count, nil
			}
			continue
		}

		b := nb.Alloc(nb.MaskDatalink, len(data))
		b.CpyData(nb.Datalink, data)
		dev.AddBacklog(b)

		d.mirror(data)
		count++
	}
	return count, nil
}

// Write mirrors an outbound frame to the output capture (pcapdev_write's
// behavior is purely a recorder — estack has no live link to transmit
// onto when its source is a capture file).
func (d *Driver) Write(dev *device.Device, b *nb.Buffer) error {
	frame := b.Window(nb.Datalink)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
}

func (d *Driver) mirror(frame []byte) {
	_ = d.out.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
}
