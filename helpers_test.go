//go:build !integration

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type testAddr string

func (a testAddr) Network() string { return "test" }
func (a testAddr) String() string  { return string(a) }

type datagram struct {
	msg  []byte
	from net.Addr
	to   net.Addr
}

// loopNet connects fake transports by address. Messages are queued and
// delivered by pump, so a test decides when the other side runs.
type loopNet struct {
	queue []datagram
	nodes map[string]*fakeTransport
}

func newLoopNet() *loopNet {
	return &loopNet{nodes: make(map[string]*fakeTransport)}
}

func (n *loopNet) attach(addr string) *fakeTransport {
	t := &fakeTransport{net: n, addr: testAddr(addr)}
	n.nodes[addr] = t
	return t
}

// pump delivers queued datagrams, including the ones sent while
// delivering, and returns how many were delivered.
func (n *loopNet) pump() int {
	delivered := 0
	for len(n.queue) > 0 && delivered < 1000 {
		d := n.queue[0]
		n.queue = n.queue[1:]
		node, ok := n.nodes[d.to.String()]
		if !ok || node.recv == nil {
			continue
		}
		delivered++
		node.recv(d.msg, d.from)
	}
	return delivered
}

// discard forgets everything in flight, a lost datagram.
func (n *loopNet) discard() {
	n.queue = nil
}

// fakeTransport is a TransportDispatcher recording every send.
type fakeTransport struct {
	net     *loopNet
	addr    testAddr
	recv    RecvCallback
	timer   TimerCallback
	sent    []datagram
	sendErr error
	closed  bool
}

func (t *fakeTransport) SendMessage(msg []byte, to net.Addr) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	d := datagram{msg: append([]byte(nil), msg...), from: t.addr, to: to}
	t.sent = append(t.sent, d)
	if t.net != nil {
		t.net.queue = append(t.net.queue, d)
	}
	return nil
}

func (t *fakeTransport) RegisterRecvCallback(cb RecvCallback)   { t.recv = cb }
func (t *fakeTransport) UnregisterRecvCallback()                { t.recv = nil }
func (t *fakeTransport) RegisterTimerCallback(cb TimerCallback) { t.timer = cb }
func (t *fakeTransport) UnregisterTimerCallback()               { t.timer = nil }

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

// tick fires the timer callback at now.
func (t *fakeTransport) tick(now time.Time) {
	if t.timer != nil {
		t.timer(now)
	}
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engineOption func(*EngineConfig)

func withACM(id int) engineOption {
	return func(c *EngineConfig) { c.AccessControlModel = id }
}

func withBootStore(s BootStore) engineOption {
	return func(c *EngineConfig) { c.BootStore = s }
}

func withEngineID(id []byte) engineOption {
	return func(c *EngineConfig) { c.EngineID = id }
}

func newTestEngine(t *testing.T, clock *fakeClock, opts ...engineOption) *Engine {
	t.Helper()
	cfg := EngineConfig{
		Logger:     discardLogger(),
		Registerer: prometheus.NewRegistry(),
		Clock:      clock.Now,
		BootStore:  NewMemoryBootStore(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

// bound creates an engine attached to the loop network at addr.
func bound(t *testing.T, n *loopNet, clock *fakeClock, addr string, opts ...engineOption) (*Engine, *fakeTransport) {
	t.Helper()
	e := newTestEngine(t, clock, opts...)
	tr := n.attach(addr)
	require.NoError(t, e.RegisterTransportDispatcher(tr))
	return e, tr
}

// result captures the callback of one confirmed request.
type result struct {
	calls int
	rid   int32
	pdu   *PDU
	err   error
}

func (r *result) handler() ResponseHandler {
	return func(requestID int32, pdu *PDU, err error) {
		r.calls++
		r.rid = requestID
		r.pdu = pdu
		r.err = err
	}
}

func mustOID(t *testing.T, s string) []int {
	t.Helper()
	oid, err := ParseOID(s)
	require.NoError(t, err)
	return oid
}
