package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	// readBufferSize fits the largest device response with room to spare.
	readBufferSize = 2048

	dispatchQueueSize = 256
	writeTimeout      = 2 * time.Second
)

// Config holds socket settings.
type Config struct {
	// BindAddr is the local address to bind. The zero value binds all
	// interfaces.
	BindAddr netip.Addr

	// ListenPort is the response port. 0 picks an ephemeral port.
	ListenPort int

	// Group and ScanPort form the destination of Broadcast.
	Group    netip.Addr
	ScanPort int

	// Interface names the NIC for outgoing multicast. Empty uses the
	// system default route.
	Interface string

	// MulticastTTL bounds how many hops a scan travels. Default 1.
	MulticastTTL int
}

// Packet is one received datagram.
type Packet struct {
	From     netip.AddrPort
	Payload  []byte
	Received time.Time
}

// Stats holds socket counters.
type Stats struct {
	PacketsTx      uint64
	PacketsRx      uint64
	PacketsDropped uint64
	SendErrors     uint64
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transport is the subset of Socket used by discovery and the command
// channel.
type Transport interface {
	SendTo(ctx context.Context, dst netip.AddrPort, payload []byte) error
	Broadcast(ctx context.Context, payload []byte) error
	Subscribe(fn func(Packet)) (unsubscribe func())
}

var _ Transport = (*Socket)(nil)

// Socket is the shared LAN socket. Safe for concurrent use.
type Socket struct {
	conn  *net.UDPConn
	group netip.AddrPort

	subMu  sync.RWMutex
	subs   map[uint64]func(Packet)
	nextID uint64

	queue chan Packet
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	packetsTx      atomic.Uint64
	packetsRx      atomic.Uint64
	packetsDropped atomic.Uint64
	sendErrors     atomic.Uint64
}

// Listen binds the socket and starts its receive and dispatch loops.
func Listen(cfg Config) (*Socket, error) {
	if cfg.MulticastTTL <= 0 {
		cfg.MulticastTTL = 1
	}

	bind := cfg.BindAddr
	if !bind.IsValid() {
		bind = netip.IPv4Unspecified()
	}
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(netip.AddrPortFrom(bind, uint16(cfg.ListenPort)))) //nolint:gosec // port validated by config
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s:%d: %w", ErrTransport, bind, cfg.ListenPort, err)
	}

	if cfg.Group.IsMulticast() {
		if err := configureMulticast(conn, cfg); err != nil {
			conn.Close() //nolint:errcheck // already failing
			return nil, err
		}
	}

	s := &Socket{
		conn:   conn,
		group:  netip.AddrPortFrom(cfg.Group, uint16(cfg.ScanPort)), //nolint:gosec // port validated by config
		subs:   make(map[uint64]func(Packet)),
		queue:  make(chan Packet, dispatchQueueSize),
		done:   make(chan struct{}),
		logger: noopLogger{},
	}

	s.wg.Add(2)
	go s.receiveLoop()
	go s.dispatchLoop()

	return s, nil
}

func configureMulticast(conn *net.UDPConn, cfg Config) error {
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(cfg.MulticastTTL); err != nil {
		return fmt.Errorf("%w: multicast ttl: %w", ErrTransport, err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		return fmt.Errorf("%w: multicast loopback: %w", ErrTransport, err)
	}
	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return fmt.Errorf("%w: interface %q: %w", ErrTransport, cfg.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("%w: multicast interface %q: %w", ErrTransport, cfg.Interface, err)
		}
	}
	return nil
}

// SetLogger sets the logger for read errors and dropped packets.
func (s *Socket) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Socket) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort() //nolint:forcetypeassert // always UDP
}

// SendTo writes one datagram to dst.
func (s *Socket) SendTo(ctx context.Context, dst netip.AddrPort, payload []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTransport, err)
	}

	if _, err := s.conn.WriteToUDPAddrPort(payload, dst); err != nil {
		s.sendErrors.Add(1)
		if s.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("%w: send to %s: %w", ErrTransport, dst, err)
	}
	s.packetsTx.Add(1)
	return nil
}

// Broadcast sends payload to the scan group.
func (s *Socket) Broadcast(ctx context.Context, payload []byte) error {
	return s.SendTo(ctx, s.group, payload)
}

// Subscribe registers fn for every received packet until unsubscribe is
// called. fn runs on the dispatch goroutine.
func (s *Socket) Subscribe(fn func(Packet)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Stats returns a snapshot of the counters.
func (s *Socket) Stats() Stats {
	return Stats{
		PacketsTx:      s.packetsTx.Load(),
		PacketsRx:      s.packetsRx.Load(),
		PacketsDropped: s.packetsDropped.Load(),
		SendErrors:     s.sendErrors.Load(),
	}
}

// Close stops both loops and closes the socket. Safe to call repeatedly.
func (s *Socket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("closing socket: %w", err)
	}
	return nil
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// receiveLoop reads until the socket is closed. Closing the conn
// unblocks the pending read.
func (s *Socket) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log().Warn("lan read failed", "error", err)
			continue
		}

		s.packetsRx.Add(1)
		pkt := Packet{
			From:     netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			Payload:  append([]byte(nil), buf[:n]...),
			Received: time.Now(),
		}

		select {
		case s.queue <- pkt:
		default:
			s.packetsDropped.Add(1)
			s.log().Warn("lan dispatch queue full, dropping packet", "from", pkt.From)
		}
	}
}

func (s *Socket) dispatchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case pkt := <-s.queue:
			s.dispatch(pkt)
		}
	}
}

func (s *Socket) dispatch(pkt Packet) {
	s.subMu.RLock()
	fns := make([]func(Packet), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log().Error("lan subscriber panic", "panic", r, "from", pkt.From)
				}
			}()
			fn(pkt)
		}()
	}
}
