// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	udpBufferSize    = SNMP_MAXMSGSIZE
	udpQueueSize     = 256
	udpTaskQueueSize = 64
	DefaultTimerTick = 500 * time.Millisecond
)

// ErrTransportClosed is returned by a closed UDPTransport.
var ErrTransportClosed = errors.New("transport closed")

type udpDatagram struct {
	data []byte
	from net.Addr
}

// UDPTransport is a TransportDispatcher over one UDP socket. Run reads the
// socket in one goroutine and runs every engine callback from a single
// loop goroutine.
type UDPTransport struct {
	conn *net.UDPConn
	log  *slog.Logger
	tick time.Duration

	mu      sync.Mutex
	recv    RecvCallback
	timer   TimerCallback
	closed  bool
	packets chan udpDatagram
	tasks   chan func()
	pool    *sync.Pool
}

func newUDPTransport(conn *net.UDPConn, logger *slog.Logger) *UDPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPTransport{
		conn:    conn,
		log:     logger,
		tick:    DefaultTimerTick,
		packets: make(chan udpDatagram, udpQueueSize),
		tasks:   make(chan func(), udpTaskQueueSize),
		pool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, udpBufferSize)
				return &buf
			},
		},
	}
}

// OpenServerMode listens on addr (":161" for an agent, ":162" for a
// notification receiver).
func OpenServerMode(addr string, logger *slog.Logger) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return newUDPTransport(conn, logger), nil
}

// OpenClientMode binds an ephemeral port for a command generator.
func OpenClientMode(logger *slog.Logger) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket: %w", err)
	}
	return newUDPTransport(conn, logger), nil
}

// SetTimerInterval changes the tick period; call before Run.
func (t *UDPTransport) SetTimerInterval(d time.Duration) {
	if d > 0 {
		t.tick = d
	}
}

func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *UDPTransport) SendMessage(msg []byte, to net.Addr) error {
	ua, ok := to.(*net.UDPAddr)
	if !ok {
		var err error
		if ua, err = net.ResolveUDPAddr("udp", addrString(to)); err != nil {
			return err
		}
	}
	n, err := t.conn.WriteToUDP(msg, ua)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("short write to %s: %d of %d bytes", ua, n, len(msg))
	}
	return nil
}

func (t *UDPTransport) RegisterRecvCallback(cb RecvCallback) {
	t.mu.Lock()
	t.recv = cb
	t.mu.Unlock()
}

func (t *UDPTransport) UnregisterRecvCallback() {
	t.mu.Lock()
	t.recv = nil
	t.mu.Unlock()
}

func (t *UDPTransport) RegisterTimerCallback(cb TimerCallback) {
	t.mu.Lock()
	t.timer = cb
	t.mu.Unlock()
}

func (t *UDPTransport) UnregisterTimerCallback() {
	t.mu.Lock()
	t.timer = nil
	t.mu.Unlock()
}

// Do runs fn on the loop goroutine, serialised with the engine callbacks.
// Use it to call the engine (SendPdu, MIB updates) from other goroutines.
func (t *UDPTransport) Do(ctx context.Context, fn func()) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	select {
	case t.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *UDPTransport) callbacks() (RecvCallback, TimerCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recv, t.timer
}

func (t *UDPTransport) readLoop(ctx context.Context) {
	defer close(t.packets)
	for {
		bufPtr := t.pool.Get().(*[]byte)
		buffer := *bufPtr
		n, from, err := t.conn.ReadFromUDP(buffer)
		if err != nil {
			t.pool.Put(bufPtr)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warn("failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buffer[:n])
		t.pool.Put(bufPtr)

		select {
		case t.packets <- udpDatagram{data: datagram, from: from}:
		case <-ctx.Done():
			return
		default:
			t.log.Warn("receive queue full, dropping packet", slog.String("peer", from.String()))
		}
	}
}

// Run serves until ctx is cancelled or the socket is closed.
func (t *UDPTransport) Run(ctx context.Context) error {
	go t.readLoop(ctx)
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	defer t.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case dg, ok := <-t.packets:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrTransportClosed
			}
			if recv, _ := t.callbacks(); recv != nil {
				recv(dg.data, dg.from)
			}
		case now := <-ticker.C:
			if _, timer := t.callbacks(); timer != nil {
				timer(now)
			}
		case fn := <-t.tasks:
			fn()
		}
	}
}
