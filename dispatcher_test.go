//go:build !integration

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RetriesThenTimeout(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	mgr, tr := bound(t, n, clock, managerAddr)
	require.NoError(t, mgr.Community().AddCommunity("public", "public", nil, ""))

	res := &result{}
	rid, err := mgr.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv2c,
		Address:       testAddr("nowhere:161"),
		SecurityModel: SEC_MODEL_SNMPv2c,
		SecurityName:  "public",
		PDU:           getPDU(sysOID(1, 0)),
		Retries:       2,
		Timeout:       time.Second,
		Callback:      res.handler(),
	})
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)

	pending, ok := mgr.Dispatcher().Lookup(rid)
	require.True(t, ok)
	assert.Equal(t, 2, pending.RetriesLeft)
	assert.Equal(t, clock.Now().Add(time.Second), pending.Deadline)

	clock.Advance(999 * time.Millisecond)
	tr.tick(clock.Now())
	assert.Len(t, tr.sent, 1, "deadline not reached")

	clock.Advance(time.Millisecond)
	tr.tick(clock.Now())
	require.Len(t, tr.sent, 2)
	assert.Equal(t, tr.sent[0].msg, tr.sent[1].msg, "retransmission is verbatim")
	pending, _ = mgr.Dispatcher().Lookup(rid)
	assert.Equal(t, clock.Now().Add(2*time.Second), pending.Deadline, "second wait is two timeouts")

	clock.Advance(2 * time.Second)
	tr.tick(clock.Now())
	require.Len(t, tr.sent, 3)

	clock.Advance(3 * time.Second)
	tr.tick(clock.Now())
	assert.Len(t, tr.sent, 3)
	require.Equal(t, 1, res.calls)
	assert.Equal(t, rid, res.rid)
	assert.Nil(t, res.pdu)
	assert.ErrorIs(t, res.err, ErrRequestTimeout)
	assert.Zero(t, mgr.Dispatcher().Pending())
	assert.Equal(t, 2.0, testutil.ToFloat64(mgr.metrics.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(mgr.metrics.Timeouts))

	// callbacks fire once
	clock.Advance(time.Minute)
	tr.tick(clock.Now())
	assert.Equal(t, 1, res.calls)
}

func TestDispatcher_RetryDefaults(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	mgr, _ := bound(t, n, clock, managerAddr)
	require.NoError(t, mgr.Community().AddCommunity("public", "public", nil, ""))

	tests := []struct {
		retries     int
		timeout     time.Duration
		wantRetries int
		wantTimeout time.Duration
	}{
		{0, 200 * time.Millisecond, 0, 200 * time.Millisecond},
		{-1, 0, SNMP_DEFAULTRETRY, time.Second},
		{11, 61 * time.Second, SNMP_DEFAULTRETRY, time.Second},
		{10, time.Minute, 10, time.Minute},
	}
	for _, tt := range tests {
		rid, err := mgr.SendPdu(SendRequest{
			MPModel:      MP_MODEL_SNMPv2c,
			Address:      testAddr("nowhere:161"),
			SecurityName: "public",
			PDU:          getPDU(sysOID(1, 0)),
			Retries:      tt.retries,
			Timeout:      tt.timeout,
		})
		require.NoError(t, err)
		p, ok := mgr.Dispatcher().Lookup(rid)
		require.True(t, ok)
		assert.Equal(t, tt.wantRetries, p.RetriesLeft)
		assert.Equal(t, tt.wantTimeout, p.Timeout)
	}
}

func TestDispatcher_RequestIDsUnique(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	mgr, _ := bound(t, n, clock, managerAddr)
	require.NoError(t, mgr.Community().AddCommunity("public", "public", nil, ""))
	// wrap around the top of the range
	mgr.Dispatcher().nextRequestID = 1<<31 - 3

	seen := make(map[int32]bool)
	for i := 0; i < 10; i++ {
		rid, err := mgr.SendPdu(SendRequest{MPModel: MP_MODEL_SNMPv2c, Address: testAddr("nowhere:161"), SecurityName: "public", PDU: getPDU(sysOID(1, 0))})
		require.NoError(t, err)
		assert.Positive(t, rid)
		assert.False(t, seen[rid], "request-id %d reused", rid)
		seen[rid] = true
	}
	assert.Equal(t, 10, mgr.Dispatcher().Pending())
}

func TestDispatcher_CancelAndUnmatched(t *testing.T) {
	p := newCommunityPair(t, nil, "public")

	res := &result{}
	rid, err := p.manager.SendPdu(SendRequest{
		MPModel:      MP_MODEL_SNMPv2c,
		Address:      testAddr(agentAddr),
		SecurityName: "public",
		PDU:          getPDU(sysOID(1, 0)),
		Callback:     res.handler(),
	})
	require.NoError(t, err)
	assert.True(t, p.manager.Cancel(rid))
	assert.False(t, p.manager.Cancel(rid))
	assert.Zero(t, p.manager.Dispatcher().Pending())

	// the agent still answers, the response has nothing to match
	p.net.pump()
	assert.Zero(t, res.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.manager.metrics.Dropped.WithLabelValues("unmatched_response")))
}

func TestDispatcher_ResponseFromOtherAddress(t *testing.T) {
	p := newCommunityPair(t, nil, "public")
	impostor, _ := bound(t, p.net, p.clock, "impostor:161")
	require.NoError(t, impostor.Community().AddCommunity("public", "public", nil, ""))

	res := &result{}
	rid, err := p.manager.SendPdu(SendRequest{
		MPModel:      MP_MODEL_SNMPv2c,
		Address:      testAddr(agentAddr),
		SecurityName: "public",
		PDU:          getPDU(sysOID(1, 0)),
		Callback:     res.handler(),
	})
	require.NoError(t, err)
	p.net.discard()

	_, err = impostor.SendPdu(SendRequest{
		MPModel:      MP_MODEL_SNMPv2c,
		Address:      testAddr(managerAddr),
		SecurityName: "public",
		PDU:          &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: rid, VarBinds: NullBindings(sysOID(1, 0))},
	})
	require.NoError(t, err)
	p.net.pump()
	assert.Zero(t, res.calls)
	assert.Equal(t, 1, p.manager.Dispatcher().Pending())
}

func TestDispatcher_SendErrors(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	mgr, tr := bound(t, n, clock, managerAddr)
	require.NoError(t, mgr.Community().AddCommunity("public", "public", nil, ""))
	req := SendRequest{MPModel: MP_MODEL_SNMPv2c, Address: testAddr(agentAddr), SecurityName: "public", PDU: getPDU(sysOID(1, 0))}

	tr.sendErr = errors.New("network unreachable")
	_, err := mgr.SendPdu(req)
	assert.EqualError(t, err, "network unreachable")
	assert.Zero(t, mgr.Dispatcher().Pending(), "failed sends are not registered")
	tr.sendErr = nil

	bad := req
	bad.MPModel = 2
	_, err = mgr.SendPdu(bad)
	assert.ErrorIs(t, err, ErrUnknownModel)

	bad = req
	bad.SecurityName = "nobody"
	_, err = mgr.SendPdu(bad)
	assert.ErrorIs(t, err, ErrUnknownCommunity)

	bad = req
	bad.PDU = nil
	_, err = mgr.SendPdu(bad)
	assert.Error(t, err)

	bad = req
	bad.Address = nil
	_, err = mgr.SendPdu(bad)
	assert.Error(t, err)
}

func TestDispatcher_UnknownContextReport(t *testing.T) {
	p := newUSMPair(t)
	p.addUser(t, "admin", "sha", "authpass123", "aes", "privpass123")
	p.agent.RegisterContext("vrf-red")

	res := p.send(t, "admin", SECLEVEL_AUTHPRIV, "vrf-red", getPDU(sysOID(1, 0)))
	require.NoError(t, res.err)

	res = p.send(t, "admin", SECLEVEL_AUTHPRIV, "vrf-blue", getPDU(sysOID(1, 0)))
	require.Equal(t, 1, res.calls)
	assert.ErrorIs(t, res.err, ErrReportReceived)
	assert.ErrorIs(t, res.err, ErrUnknownContext)
	var se *SecurityError
	require.ErrorAs(t, res.err, &se)
	require.NotNil(t, se.Report)
	assert.Equal(t, oidSnmpUnknownContexts, se.Report.OID)
	assert.EqualValues(t, 1, se.Report.Value)
	assert.Equal(t, SECLEVEL_AUTHPRIV, se.Report.SecurityLevel)
	assert.EqualValues(t, 1, p.agent.counters.unknownContexts)
	assert.Zero(t, p.manager.Dispatcher().Pending())
}

func TestDispatcher_AgentEngineIDChanged(t *testing.T) {
	p := newUSMPair(t)
	p.addUser(t, "admin", "sha", "authpass123", "", "")

	res := p.send(t, "admin", SECLEVEL_AUTHNOPRIV, "", getPDU(sysOID(1, 0)))
	require.NoError(t, res.err)

	// the agent comes back with another engine ID on the same address
	require.NoError(t, p.agent.CloseDispatcher())
	delete(p.net.nodes, agentAddr)
	newID := []byte{0x80, 0x00, 0x1f, 0x88, 0x04, 'n', 'e', 'w'}
	agent2, _ := bound(t, p.net, p.clock, agentAddr, withEngineID(newID))
	addTestObjects(t, agent2.MIB())
	u, _ := p.manager.USM().User("admin")
	require.NoError(t, agent2.USM().AddUser(u))

	res = p.send(t, "admin", SECLEVEL_AUTHNOPRIV, "", getPDU(sysOID(1, 0)))
	require.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
	cached, _ := p.manager.getEngineContext(engineIDCacheKey(testAddr(agentAddr)))
	assert.Equal(t, newID, cached)
	assert.EqualValues(t, 1, agent2.USM().Stat("unknownEngineIDs"))
}

func TestDispatcher_V3ResponseError(t *testing.T) {
	p := newUSMPair(t)
	p.addUser(t, "admin", "sha512", "authpass123", "aes256", "privpass123")

	res := p.send(t, "admin", SECLEVEL_AUTHPRIV, "", &PDU{Type: SNMPv2_REQUEST_SET, VarBinds: []VarBind{
		{OID: sysOID(4, 0), Value: Concrete(SetSNMPVar_OctetString("x"))},
		{OID: ifOID(1, 1), Value: Concrete(SetSNMPVar_Int(5))},
	}})
	require.Equal(t, 1, res.calls)
	var fe SNMPfe_Errors
	require.ErrorAs(t, res.err, &fe)
	assert.EqualValues(t, SNMP_ErrNotWritable, fe.ErrorStatusRaw)
	assert.EqualValues(t, 2, fe.ErrorIndexRaw)
	assert.Equal(t, ifOID(1, 1), fe.FailedOID)
	require.NotNil(t, res.pdu)
	assert.Equal(t, "sysContact", p.agent.MIB().Read(sysOID(4, 0)).String())
}

func TestDispatcher_DiscoveryTimeout(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	mgr, tr := bound(t, n, clock, managerAddr)
	u, err := NewUsmUser("admin", "sha", "authpass123", "", "")
	require.NoError(t, err)
	require.NoError(t, mgr.USM().AddUser(u))

	res := &result{}
	_, err = mgr.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv3,
		Address:       testAddr("nowhere:161"),
		SecurityModel: SEC_MODEL_USM,
		SecurityName:  "admin",
		SecurityLevel: SECLEVEL_AUTHNOPRIV,
		PDU:           getPDU(sysOID(1, 0)),
		Retries:       0,
		Timeout:       500 * time.Millisecond,
		Callback:      res.handler(),
	})
	require.NoError(t, err)
	clock.Advance(500 * time.Millisecond)
	tr.tick(clock.Now())
	assert.ErrorIs(t, res.err, ErrRequestTimeout)
	_, cached := mgr.getEngineContext(engineIDCacheKey(testAddr("nowhere:161")))
	assert.False(t, cached)
}

// Notification receiver side.

type notificationSink struct {
	got []*Notification
}

func (s *notificationSink) HandleNotification(n *Notification) {
	s.got = append(s.got, n)
}

func trapPDU(pduType int) *PDU {
	return &PDU{Type: pduType, VarBinds: []VarBind{
		{OID: []int{1, 3, 6, 1, 2, 1, 1, 3, 0}, Value: Concrete(SetSNMPVar_TimeTicks(4200))},
		{OID: []int{1, 3, 6, 1, 6, 3, 1, 1, 4, 1, 0}, Value: Concrete(mustVarOID([]int{1, 3, 6, 1, 6, 3, 1, 1, 5, 3}))},
		{OID: ifOID(1, 2), Value: Concrete(SetSNMPVar_Int(2))},
	}}
}

func mustVarOID(oid []int) SNMPVar {
	v, err := SetSNMPVar_OID(oid)
	if err != nil {
		panic(err)
	}
	return v
}

func TestNotifications_V2c(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	receiver, rtr := bound(t, n, clock, "receiver:162")
	sender, _ := bound(t, n, clock, "router:161")
	for _, e := range []*Engine{receiver, sender} {
		require.NoError(t, e.Community().AddCommunity("traps", "traps", nil, ""))
	}
	sink := &notificationSink{}
	receiver.SetNotificationHandler(sink)

	_, err := sender.SendPdu(SendRequest{MPModel: MP_MODEL_SNMPv2c, Address: testAddr("receiver:162"), SecurityName: "traps", PDU: trapPDU(SNMPv2_REQUEST_TRAP)})
	require.NoError(t, err)
	assert.Zero(t, sender.Dispatcher().Pending(), "traps are not confirmed")
	n.pump()
	require.Len(t, sink.got, 1)
	assert.False(t, sink.got[0].Confirmed())
	assert.Equal(t, SNMP_VERSION_2C, sink.got[0].Version)
	assert.Equal(t, "traps", sink.got[0].SecurityName)
	assert.Equal(t, "router:161", sink.got[0].Address.String())
	assert.Len(t, sink.got[0].PDU.VarBinds, 3)
	assert.Empty(t, rtr.sent, "no response to a trap")

	res := &result{}
	_, err = sender.SendPdu(SendRequest{MPModel: MP_MODEL_SNMPv2c, Address: testAddr("receiver:162"), SecurityName: "traps", PDU: trapPDU(SNMPv2_REQUEST_INFORM), Callback: res.handler()})
	require.NoError(t, err)
	n.pump()
	require.Len(t, sink.got, 2)
	assert.True(t, sink.got[1].Confirmed())
	require.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
	assert.Len(t, res.pdu.VarBinds, 3)
	assert.True(t, res.pdu.VarBinds[0].Value.Equal(Concrete(SetSNMPVar_TimeTicks(4200))))

	// SNMPv1 carries no v2 notifications
	_, err = sender.SendPdu(SendRequest{MPModel: MP_MODEL_SNMPv1, Address: testAddr("receiver:162"), SecurityName: "traps", PDU: trapPDU(SNMPv2_REQUEST_TRAP)})
	assert.ErrorIs(t, err, ErrUnsupportedPDU)
}

func TestNotifications_V3(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	receiver, _ := bound(t, n, clock, "receiver:162")
	sender, _ := bound(t, n, clock, "router:161")
	u, err := NewUsmUser("trapuser", "sha256", "authpass123", "aes", "privpass123")
	require.NoError(t, err)
	require.NoError(t, receiver.USM().AddUser(u))
	require.NoError(t, sender.USM().AddUser(u))
	sink := &notificationSink{}
	receiver.SetNotificationHandler(NotificationHandlerFunc(sink.HandleNotification))

	// a trap is sent by its authoritative engine
	_, err = sender.SendPdu(SendRequest{
		MPModel:          MP_MODEL_SNMPv3,
		Address:          testAddr("receiver:162"),
		SecurityModel:    SEC_MODEL_USM,
		SecurityName:     "trapuser",
		SecurityLevel:    SECLEVEL_AUTHPRIV,
		SecurityEngineID: sender.EngineID(),
		PDU:              trapPDU(SNMPv2_REQUEST_TRAP),
	})
	require.NoError(t, err)
	n.pump()
	require.Len(t, sink.got, 1)
	assert.Equal(t, SNMP_VERSION_3, sink.got[0].Version)
	assert.Equal(t, "trapuser", sink.got[0].SecurityName)

	// an inform discovers the receiver first
	res := &result{}
	_, err = sender.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv3,
		Address:       testAddr("receiver:162"),
		SecurityModel: SEC_MODEL_USM,
		SecurityName:  "trapuser",
		SecurityLevel: SECLEVEL_AUTHPRIV,
		PDU:           trapPDU(SNMPv2_REQUEST_INFORM),
		Callback:      res.handler(),
	})
	require.NoError(t, err)
	n.pump()
	require.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
	require.Len(t, sink.got, 2)
	assert.True(t, sink.got[1].Confirmed())
	cached, ok := sender.getEngineContext(engineIDCacheKey(testAddr("receiver:162")))
	require.True(t, ok)
	assert.Equal(t, receiver.EngineID(), cached)
}

func TestNotifications_NoHandler(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	receiver, rtr := bound(t, n, clock, "receiver:162")
	sender, _ := bound(t, n, clock, "router:161")
	for _, e := range []*Engine{receiver, sender} {
		require.NoError(t, e.Community().AddCommunity("traps", "traps", nil, ""))
	}

	res := &result{}
	_, err := sender.SendPdu(SendRequest{MPModel: MP_MODEL_SNMPv2c, Address: testAddr("receiver:162"), SecurityName: "traps", PDU: trapPDU(SNMPv2_REQUEST_INFORM), Callback: res.handler()})
	require.NoError(t, err)
	n.pump()
	// the inform is still acknowledged
	assert.Len(t, rtr.sent, 1)
	assert.NoError(t, res.err)
}

func TestDispatcher_CancelFromExpiryCallback(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	mgr, tr := bound(t, n, clock, managerAddr)
	require.NoError(t, mgr.Community().AddCommunity("public", "public", nil, ""))

	// whichever request expires first cancels the other one
	var rids [2]int32
	var calls [2]int
	for i := range rids {
		rid, err := mgr.SendPdu(SendRequest{
			MPModel:       MP_MODEL_SNMPv2c,
			Address:       testAddr("nowhere:161"),
			SecurityModel: SEC_MODEL_SNMPv2c,
			SecurityName:  "public",
			PDU:           getPDU(sysOID(1, 0)),
			Retries:       0,
			Timeout:       time.Second,
			Callback: func(int32, *PDU, error) {
				calls[i]++
				mgr.Cancel(rids[1-i])
			},
		})
		require.NoError(t, err)
		rids[i] = rid
	}
	require.Len(t, tr.sent, 2)

	clock.Advance(time.Second)
	tr.tick(clock.Now())
	assert.Equal(t, 1, calls[0]+calls[1], "the cancelled request is never resolved")
	assert.Zero(t, mgr.Dispatcher().Pending())
	assert.Len(t, tr.sent, 2)

	clock.Advance(10 * time.Second)
	tr.tick(clock.Now())
	assert.Equal(t, 1, calls[0]+calls[1])
}

func TestDispatcher_BadCommunityResponse(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	mgr, mgrTr := bound(t, n, clock, managerAddr)
	require.NoError(t, mgr.Community().AddCommunity("public", "public", nil, ""))
	agent, _ := bound(t, n, clock, agentAddr)
	require.NoError(t, agent.Community().AddCommunity("secret", "secret", nil, ""))

	res := &result{}
	rid, err := mgr.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv2c,
		Address:       testAddr(agentAddr),
		SecurityModel: SEC_MODEL_SNMPv2c,
		SecurityName:  "public",
		PDU:           getPDU(sysOID(1, 0)),
		Retries:       2,
		Timeout:       time.Second,
		Callback:      res.handler(),
	})
	require.NoError(t, err)
	n.pump()
	assert.EqualValues(t, 1, agent.counters.inBadCommunityNames)
	assert.Zero(t, res.calls, "a request with a bad community is not answered")

	// a response with the right request-id but a community the manager does not know
	_, err = agent.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv2c,
		Address:       testAddr(managerAddr),
		SecurityModel: SEC_MODEL_SNMPv2c,
		SecurityName:  "secret",
		PDU:           &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: rid, VarBinds: NullBindings(sysOID(1, 0))},
	})
	require.NoError(t, err)
	n.pump()

	require.Equal(t, 1, res.calls)
	assert.Nil(t, res.pdu)
	assert.ErrorIs(t, res.err, ErrUnknownCommunity)
	var se *SecurityError
	assert.ErrorAs(t, res.err, &se)
	assert.EqualValues(t, 1, mgr.counters.inBadCommunityNames)
	assert.Zero(t, mgr.Dispatcher().Pending())

	clock.Advance(time.Minute)
	mgrTr.tick(clock.Now())
	assert.Len(t, mgrTr.sent, 1, "no retransmission after the failure")
	assert.Equal(t, 1, res.calls)
}

func TestNotifications_V3TrapDefaultsToLocalEngine(t *testing.T) {
	n := newLoopNet()
	clock := newFakeClock()
	receiver, _ := bound(t, n, clock, "receiver:162")
	sender, _ := bound(t, n, clock, "router:161")
	u, err := NewUsmUser("trapuser", "sha", "authpass123", "", "")
	require.NoError(t, err)
	require.NoError(t, receiver.USM().AddUser(u))
	require.NoError(t, sender.USM().AddUser(u))
	sink := &notificationSink{}
	receiver.SetNotificationHandler(NotificationHandlerFunc(sink.HandleNotification))

	clock.Advance(30 * time.Second)
	_, err = sender.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv3,
		Address:       testAddr("receiver:162"),
		SecurityModel: SEC_MODEL_USM,
		SecurityName:  "trapuser",
		SecurityLevel: SECLEVEL_AUTHNOPRIV,
		PDU:           trapPDU(SNMPv2_REQUEST_TRAP),
	})
	require.NoError(t, err)
	n.pump()

	require.Len(t, sink.got, 1)
	assert.Zero(t, receiver.USM().Stat("wrongDigests"))
	boots, engineTime, ok := receiver.USM().RemoteTime(receiver, sender.EngineID())
	require.True(t, ok, "the trap carries the sender's engine ID")
	assert.Equal(t, sender.EngineBoots(), boots)
	assert.Equal(t, int32(30), engineTime)
}
