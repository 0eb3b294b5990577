// Package stack wires the device, demux, datalink, network, transport
// and socket layers together into a running instance (spec §4, the
// module graph as a whole), grounded on the teacher's
// internal/pipeline.Pipeline and internal/daemon.Daemon for the
// Start/Stop/ctx/wg lifecycle shape.
package stack

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nbstack/nbstack/internal/config"
	"github.com/nbstack/nbstack/internal/demux"
	"github.com/nbstack/nbstack/internal/device"
	"github.com/nbstack/nbstack/internal/driver/pcapfile"
	"github.com/nbstack/nbstack/internal/link/ethernet"
	"github.com/nbstack/nbstack/internal/metrics"
	"github.com/nbstack/nbstack/internal/nb"
	"github.com/nbstack/nbstack/internal/network/ipv4"
	"github.com/nbstack/nbstack/internal/network/ipv4/reassembly"
	"github.com/nbstack/nbstack/internal/socket"
	"github.com/nbstack/nbstack/internal/transport/udp"
)

// driver is the narrow view of *pcapfile.Driver the poll loop and
// shutdown path need: the device.Driver contract plus Close, so tests can
// substitute a fake without pulling in the real PCAP codec.
type driver interface {
	device.Driver
	Close() error
}

// managedDevice bundles one device with the per-device demux tables and
// driver it was built with, plus the datagram identifier counter Output
// uses (spec §4.F: each host-originated datagram gets a fresh IP ID).
type managedDevice struct {
	dev      *device.Device
	driver   driver
	datalink *demux.Table
	network  *demux.Table
	nextID   uint32
	identMu  sync.Mutex
}

// Stack is one running instance of the network stack: a set of devices,
// a shared fragment-reassembly engine, a socket table applications bind
// against, and the background goroutines (per-device poll loop,
// reassembly sweeper, metrics server) that keep it alive.
type Stack struct {
	devices map[string]*managedDevice
	reasm   *reassembly.Engine
	sockets *socket.Table
	metrics *metrics.Server

	sweepInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Stack from cfg: one device per cfg.Devices entry, each
// backed by a pcapfile.Driver reading cfg.PcapCapture.Sources and
// mirroring traffic to cfg.PcapCapture.Output, and a shared reassembly
// engine and socket table spanning all devices.
func New(cfg *config.GlobalConfig) (*Stack, error) {
	reasmTTL, err := time.ParseDuration(cfg.Reassembly.Timeout)
	if err != nil {
		return nil, fmt.Errorf("stack: invalid reassembly.timeout: %w", err)
	}

	s := &Stack{
		devices:       make(map[string]*managedDevice),
		reasm:         reassembly.NewEngine(reasmTTL),
		sockets:       socket.New(),
		sweepInterval: reasmTTL,
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = 30 * time.Second
	}

	for _, dc := range cfg.Devices {
		if err := s.addDevice(dc, cfg.PcapCapture); err != nil {
			return nil, fmt.Errorf("stack: device %s: %w", dc.Name, err)
		}
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
	}

	return s, nil
}

func (s *Stack) addDevice(dc config.DeviceConfig, pc config.PcapCaptureConfig) error {
	hw, err := net.ParseMAC(dc.HWAddr)
	if err != nil {
		return fmt.Errorf("invalid hw_addr: %w", err)
	}

	drv, err := pcapfile.Open(pc.Sources, pc.Output, uint32(pc.Snaplen))
	if err != nil {
		return fmt.Errorf("open pcap driver: %w", err)
	}

	dev := device.New(device.Config{
		Name:   dc.Name,
		MTU:    uint16(dc.MTU),
		HWAddr: hw,
		NetIF: device.NetIF{
			LocalIP: net.ParseIP(dc.LocalIP),
			Mask:    net.IPMask(net.ParseIP(dc.Mask).To4()),
			Gateway: net.ParseIP(dc.Gateway),
		},
		RXMax:            dc.RXMax,
		ProcessingWeight: dc.ProcessingWeight,
	}, drv)

	s.devices[dc.Name] = s.wireDevice(dc.Name, dev, drv)
	return nil
}

// wireDevice builds the demux tables for dev and registers the
// handler chain a running device needs: ethernet.Input as dev's rxHandler,
// ipv4.Input behind the datalink table's IPv4 entry, and udp.Input behind
// the network table's UDP entry, delivering into s's shared socket table.
// Split out from addDevice so tests can wire a fake driver without a real
// PCAP source.
func (s *Stack) wireDevice(name string, dev *device.Device, drv driver) *managedDevice {
	md := &managedDevice{
		dev:      dev,
		driver:   drv,
		datalink: demux.NewTable(name + ":datalink"),
		network:  demux.NewTable(name + ":network"),
	}

	md.network.Register(uint16(ipv4.ProtoUDP), func(b *nb.Buffer) {
		srcAddr, dstAddr := addrFromHeader(b)
		udp.Input(dev.Name(), b, srcAddr, dstAddr, s.sockets)
	})

	md.datalink.Register(ethernet.TypeIPv4, func(b *nb.Buffer) {
		ipv4.Input(dev, b, s.reasm, md.network)
	})

	dev.SetRXHandler(func(b *nb.Buffer) {
		ethernet.Input(dev, b, md.datalink)
	})

	return md
}

// addrFromHeader recovers the source/destination IPv4 addresses from the
// datagram header sitting in b's network window. ipv4.Input has already
// validated and narrowed that window before dispatching here.
func addrFromHeader(b *nb.Buffer) (src, dst [4]byte) {
	data := b.Window(nb.Network)
	if len(data) < ipv4.MinHeaderLen {
		return src, dst
	}
	h, err := ipv4.ParseHeader(data)
	if err != nil {
		return src, dst
	}
	return h.Src, h.Dst
}

// Start brings every device's poll loop up in its own goroutine, plus
// the reassembly sweeper and (if enabled) the metrics server. Start
// returns once everything has been launched; it does not block.
func (s *Stack) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.metrics != nil {
		if err := s.metrics.Start(s.ctx); err != nil {
			return fmt.Errorf("stack: start metrics server: %w", err)
		}
	}

	for name, md := range s.devices {
		s.wg.Add(1)
		go func(name string, md *managedDevice) {
			defer s.wg.Done()
			md.dev.Run(s.ctx)
		}(name, md)

		s.wg.Add(1)
		go s.pollLoop(md)
	}

	s.wg.Add(1)
	go s.sweepLoop()

	slog.Info("stack started", "devices", len(s.devices))
	return nil
}

// pollLoop drives Driver.Read -> Device.AddBacklog and Device.Poll for
// one device, pacing itself off Driver.Available so an exhausted pcap
// source doesn't spin.
func (s *Stack) pollLoop(md *managedDevice) {
	defer s.wg.Done()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			avail, err := md.driver.Available(md.dev)
			if err != nil {
				slog.Error("driver availability check failed", "device", md.dev.Name(), "error", err)
				continue
			}
			if avail > 0 {
				if _, err := md.driver.Read(s.ctx, md.dev, avail); err != nil && s.ctx.Err() == nil {
					slog.Warn("driver read failed", "device", md.dev.Name(), "error", err)
				}
			}
			if _, err := md.dev.Poll(); err != nil {
				slog.Error("poll failed", "device", md.dev.Name(), "error", err)
			}
		}
	}
}

// sweepLoop periodically evicts stale, incomplete reassembly buckets
// (spec §4.G: a fragment that never completes must not hold memory
// forever).
func (s *Stack) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.reasm.Sweep(time.Now()); n > 0 {
				slog.Debug("swept stale reassembly buckets", "count", n)
			}
		}
	}
}

// Stop signals every device and background goroutine to drain and exit,
// and blocks until they have.
func (s *Stack) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	for _, md := range s.devices {
		md.dev.Destroy()
	}
	s.wg.Wait()
	for _, md := range s.devices {
		_ = md.driver.Close()
	}
	if s.metrics != nil {
		_ = s.metrics.Stop()
	}
	slog.Info("stack stopped")
}

// Sockets exposes the shared socket table so applications can Bind
// receivers for inbound UDP datagrams.
func (s *Stack) Sockets() *socket.Table { return s.sockets }

// DeviceNames returns the configured device names, for callers (the CLI's
// stats command) that need to enumerate every device without reaching
// into the Stack's internals.
func (s *Stack) DeviceNames() []string {
	names := make([]string, 0, len(s.devices))
	for name := range s.devices {
		names = append(names, name)
	}
	return names
}

// Device returns the named managed device's stats-capable handle, or
// false if no such device was configured.
func (s *Stack) Device(name string) (*device.Device, bool) {
	md, ok := s.devices[name]
	if !ok {
		return nil, false
	}
	return md.dev, true
}

// SendUDP composes a UDP datagram addressed to (dstAddr, dstPort) from
// devName and transmits it, running the full reverse path (spec §1):
// udp.Output -> udp.ChecksumOver -> ipv4.Output -> ethernet.Output ->
// the device's driver.
func (s *Stack) SendUDP(devName string, srcPort, dstPort uint16, dstAddr [4]byte, payload []byte) error {
	md, ok := s.devices[devName]
	if !ok {
		return fmt.Errorf("stack: unknown device %q", devName)
	}

	local := md.dev.NetIF().LocalIP.To4()
	if local == nil {
		return fmt.Errorf("stack: device %q has no IPv4 local address configured", devName)
	}
	var srcAddr [4]byte
	copy(srcAddr[:], local)

	segment := udp.Output(srcPort, dstPort, payload)
	udp.ChecksumOver(segment, srcAddr, dstAddr)

	b := nb.Alloc(nb.MaskNetwork, 0)
	id := md.nextIdentifier()

	return ipv4.Output(md.dev, b, srcAddr, dstAddr, ipv4.ProtoUDP, id, 64, segment,
		func(nextHop []byte, b *nb.Buffer) error {
			return ethernet.Output(md.dev, b, md.dev.Destinations(), nextHop, ethernet.TypeIPv4, md.dev.Transmit)
		})
}

func (md *managedDevice) nextIdentifier() uint16 {
	md.identMu.Lock()
	defer md.identMu.Unlock()
	md.nextID++
	return uint16(md.nextID)
}
