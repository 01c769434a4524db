//go:build !integration

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"testing"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAgentEngineID = []byte{0x80, 0x00, 0x1f, 0x88, 0x80, 0xe9, 0xbd, 0x0c, 0x1d, 0x12, 0x66, 0x7a, 0x51}

// usmPair is an authoritative agent and a manager over the loop network.
type usmPair struct {
	net     *loopNet
	clock   *fakeClock
	agent   *Engine
	agentTr *fakeTransport
	manager *Engine
	mgrTr   *fakeTransport
}

func newUSMPair(t *testing.T) *usmPair {
	t.Helper()
	p := &usmPair{net: newLoopNet(), clock: newFakeClock()}
	p.agent, p.agentTr = bound(t, p.net, p.clock, agentAddr, withEngineID(testAgentEngineID))
	p.manager, p.mgrTr = bound(t, p.net, p.clock, managerAddr)
	addTestObjects(t, p.agent.MIB())
	return p
}

// addUser configures the same user on both sides.
func (p *usmPair) addUser(t *testing.T, name, auth, authKey, priv, privKey string) {
	t.Helper()
	u, err := NewUsmUser(name, auth, authKey, priv, privKey)
	require.NoError(t, err)
	require.NoError(t, p.agent.USM().AddUser(u))
	require.NoError(t, p.manager.USM().AddUser(u))
}

func (p *usmPair) send(t *testing.T, user string, level int, contextName string, pdu *PDU) *result {
	t.Helper()
	res := &result{}
	_, err := p.manager.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv3,
		Address:       testAddr(agentAddr),
		SecurityModel: SEC_MODEL_USM,
		SecurityName:  user,
		SecurityLevel: level,
		ContextName:   contextName,
		PDU:           pdu,
		Retries:       1,
		Timeout:       time.Second,
		Callback:      res.handler(),
	})
	require.NoError(t, err)
	p.net.pump()
	return res
}

func TestUSM_DiscoveryAndAuthPriv(t *testing.T) {
	tests := []struct {
		auth, priv string
	}{
		{"md5", "des"},
		{"sha", "aes"},
		{"sha224", "aes192"},
		{"sha256", "aes256"},
		{"sha384", "aes192a"},
		{"sha512", "aes256a"},
	}
	for _, tt := range tests {
		t.Run(tt.auth+"/"+tt.priv, func(t *testing.T) {
			p := newUSMPair(t)
			p.addUser(t, "admin", tt.auth, "authpass123", tt.priv, "privpass123")

			res := p.send(t, "admin", SECLEVEL_AUTHPRIV, "", getPDU(sysOID(1, 0), sysOID(5, 0)))
			require.Equal(t, 1, res.calls)
			require.NoError(t, res.err)
			assert.Equal(t, "test agent", res.pdu.VarBinds[0].Value.String())
			assert.Equal(t, "sysName", res.pdu.VarBinds[1].Value.String())

			// discovery and request
			assert.Len(t, p.mgrTr.sent, 2)
			assert.EqualValues(t, 1, p.agent.USM().Stat("unknownEngineIDs"))
			cached, ok := p.manager.getEngineContext(engineIDCacheKey(testAddr(agentAddr)))
			require.True(t, ok)
			assert.Equal(t, testAgentEngineID, cached)
			boots, _, ok := p.manager.USM().RemoteTime(p.manager, testAgentEngineID)
			require.True(t, ok)
			assert.Equal(t, p.agent.EngineBoots(), boots)

			// the engine ID is cached: one message per request now
			res = p.send(t, "admin", SECLEVEL_AUTHPRIV, "", &PDU{Type: SNMPv2_REQUEST_SET, VarBinds: []VarBind{
				{OID: sysOID(6, 0), Value: Concrete(SetSNMPVar_OctetString("dc-2"))},
			}})
			require.NoError(t, res.err)
			assert.Len(t, p.mgrTr.sent, 3)
			assert.Equal(t, "dc-2", p.agent.MIB().Read(sysOID(6, 0)).String())
		})
	}
}

func TestUSM_LowerLevels(t *testing.T) {
	p := newUSMPair(t)
	p.addUser(t, "monitor", "sha", "authpass123", "", "")
	p.addUser(t, "guest", "", "", "", "")

	res := p.send(t, "monitor", SECLEVEL_AUTHNOPRIV, "", getPDU(sysOID(1, 0)))
	require.NoError(t, res.err)
	assert.Equal(t, "test agent", res.pdu.VarBinds[0].Value.String())

	res = p.send(t, "guest", SECLEVEL_NOAUTH_NOPRIV, "", getPDU(sysOID(4, 0)))
	require.NoError(t, res.err)
	assert.Equal(t, "sysContact", res.pdu.VarBinds[0].Value.String())

	// priv for a user without a priv protocol fails locally
	_, err := p.manager.SendPdu(SendRequest{
		MPModel:          MP_MODEL_SNMPv3,
		Address:          testAddr(agentAddr),
		SecurityModel:    SEC_MODEL_USM,
		SecurityName:     "monitor",
		SecurityLevel:    SECLEVEL_AUTHPRIV,
		SecurityEngineID: testAgentEngineID,
		PDU:              getPDU(sysOID(1, 0)),
	})
	assert.ErrorIs(t, err, ErrUnsupportedSecLevel)
}

func TestUSM_SilentFailures(t *testing.T) {
	t.Run("wrong digest", func(t *testing.T) {
		p := newUSMPair(t)
		u, err := NewUsmUser("admin", "sha", "authpass123", "aes", "privpass123")
		require.NoError(t, err)
		require.NoError(t, p.agent.USM().AddUser(u))
		u.AuthPassword = "otherpass123"
		require.NoError(t, p.manager.USM().AddUser(u))

		res := p.send(t, "admin", SECLEVEL_AUTHPRIV, "", getPDU(sysOID(1, 0)))
		assert.Zero(t, res.calls)
		assert.EqualValues(t, 1, p.agent.USM().Stat("wrongDigests"))
		assert.Len(t, p.agentTr.sent, 1, "only the discovery report")
	})
	t.Run("unknown user", func(t *testing.T) {
		p := newUSMPair(t)
		u, err := NewUsmUser("ghost", "sha", "authpass123", "", "")
		require.NoError(t, err)
		require.NoError(t, p.manager.USM().AddUser(u))

		res := p.send(t, "ghost", SECLEVEL_AUTHNOPRIV, "", getPDU(sysOID(1, 0)))
		assert.Zero(t, res.calls)
		assert.EqualValues(t, 1, p.agent.USM().Stat("unknownUserNames"))
	})
	t.Run("level above user", func(t *testing.T) {
		p := newUSMPair(t)
		u, err := NewUsmUser("admin", "sha", "authpass123", "", "")
		require.NoError(t, err)
		require.NoError(t, p.agent.USM().AddUser(u))
		u, err = NewUsmUser("admin", "sha", "authpass123", "aes", "privpass123")
		require.NoError(t, err)
		require.NoError(t, p.manager.USM().AddUser(u))

		res := p.send(t, "admin", SECLEVEL_AUTHPRIV, "", getPDU(sysOID(1, 0)))
		assert.Zero(t, res.calls)
		assert.EqualValues(t, 1, p.agent.USM().Stat("unsupportedSecLevels"))
	})
	t.Run("wrong priv key", func(t *testing.T) {
		p := newUSMPair(t)
		u, err := NewUsmUser("admin", "sha", "authpass123", "aes", "privpass123")
		require.NoError(t, err)
		require.NoError(t, p.agent.USM().AddUser(u))
		u.PrivPassword = "otherpriv123"
		require.NoError(t, p.manager.USM().AddUser(u))

		res := p.send(t, "admin", SECLEVEL_AUTHPRIV, "", getPDU(sysOID(1, 0)))
		assert.Zero(t, res.calls)
		// garbage starting with a SEQUENCE tag fails in the ScopedPDU parser instead
		assert.EqualValues(t, 1, p.agent.USM().Stat("decryptionErrors")+p.agent.counters.inASNParseErrs)
	})
}

func TestUSM_NotInTimeWindowResync(t *testing.T) {
	p := newUSMPair(t)
	p.addUser(t, "admin", "sha256", "authpass123", "aes", "privpass123")

	res := p.send(t, "admin", SECLEVEL_AUTHPRIV, "", getPDU(sysOID(1, 0)))
	require.NoError(t, res.err)

	// the manager's idea of the agent clock drifts far behind
	p.clock.Advance(10 * time.Minute)
	p.manager.USM().timeline[string(testAgentEngineID)].time -= 1000
	sentBefore := len(p.mgrTr.sent)

	res = p.send(t, "admin", SECLEVEL_AUTHPRIV, "", getPDU(sysOID(5, 0)))
	require.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
	assert.Equal(t, "sysName", res.pdu.VarBinds[0].Value.String())
	assert.EqualValues(t, 1, p.agent.USM().Stat("notInTimeWindows"))
	assert.Equal(t, 2, len(p.mgrTr.sent)-sentBefore, "request and one resend")
	_, remoteTime, _ := p.manager.USM().RemoteTime(p.manager, testAgentEngineID)
	assert.Equal(t, p.agent.EngineTime(), remoteTime)
}

// v3PDUType decodes the PDU type of a plaintext v3 message.
func v3PDUType(t *testing.T, msg []byte) int {
	t.Helper()
	var pkt SNMPv3_Packet
	_, err := ASNber.Unmarshal(msg, &pkt)
	require.NoError(t, err)
	var scoped SNMPv3_PDU
	_, err = ASNber.Unmarshal(pkt.PtData.FullBytes, &scoped)
	require.NoError(t, err)
	pdu, err := decodePDU(scoped.V2VarBind)
	require.NoError(t, err)
	return pdu.Type
}

func TestUSM_OutOfWindowMessageReplayed(t *testing.T) {
	p := newUSMPair(t)
	p.addUser(t, "admin", "sha", "authpass123", "", "")
	require.NoError(t, p.send(t, "admin", SECLEVEL_AUTHNOPRIV, "", getPDU(sysOID(1, 0))).err)

	// same boots, time one second outside the window
	p.manager.USM().timeline[string(testAgentEngineID)].time -= SNMP_TIMEWINDOW + 1
	res := &result{}
	_, err := p.manager.SendPdu(SendRequest{
		MPModel:       MP_MODEL_SNMPv3,
		Address:       testAddr(agentAddr),
		SecurityModel: SEC_MODEL_USM,
		SecurityName:  "admin",
		SecurityLevel: SECLEVEL_AUTHNOPRIV,
		PDU:           &PDU{Type: SNMPv2_REQUEST_SET, VarBinds: []VarBind{{OID: sysOID(4, 0), Value: Concrete(SetSNMPVar_OctetString("replayed"))}}},
		Retries:       0,
		Timeout:       time.Second,
		Callback:      res.handler(),
	})
	require.NoError(t, err)
	msg := p.mgrTr.sent[len(p.mgrTr.sent)-1].msg
	p.net.discard()

	sentBefore := len(p.agentTr.sent)
	for range 2 {
		p.agent.ReceiveMessage(msg, testAddr(managerAddr))
	}
	assert.EqualValues(t, 2, p.agent.USM().Stat("notInTimeWindows"))
	require.Len(t, p.agentTr.sent, sentBefore+2)
	for _, d := range p.agentTr.sent[sentBefore:] {
		assert.Equal(t, SNMPv2_REQUEST_REPORT, v3PDUType(t, d.msg), "only reports, never a response")
	}
	assert.Equal(t, "sysContact", p.agent.MIB().Read(sysOID(4, 0)).String())
	assert.Zero(t, res.calls)
}

func TestUSM_CheckTimeWindowAuthoritative(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)
	usm := e.USM()
	id := e.EngineID()

	assert.True(t, usm.checkTimeWindow(e, id, true, 1, 0))
	assert.True(t, usm.checkTimeWindow(e, id, true, 1, SNMP_TIMEWINDOW))
	assert.False(t, usm.checkTimeWindow(e, id, true, 1, SNMP_TIMEWINDOW+1))
	assert.False(t, usm.checkTimeWindow(e, id, true, 2, 0), "boots must match")

	clock.Advance(400 * time.Second)
	assert.False(t, usm.checkTimeWindow(e, id, true, 1, 249))
	assert.True(t, usm.checkTimeWindow(e, id, true, 1, 250))
	assert.True(t, usm.checkTimeWindow(e, id, true, 1, 550))
	assert.False(t, usm.checkTimeWindow(e, id, true, 1, 551))
	assert.False(t, usm.checkTimeWindow(e, id, true, SNMP_MAXENGINEBOOTS, 400))
}

func TestUSM_CheckTimeWindowNonAuthoritative(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)
	usm := e.USM()
	remote := []byte{0x80, 0x00, 0x00, 0x09, 0x04, 'r', 't', 'r', '1'}

	require.True(t, usm.checkTimeWindow(e, remote, false, 5, 1000))
	assert.True(t, usm.checkTimeWindow(e, remote, false, 5, 900), "older but inside the window")
	assert.False(t, usm.checkTimeWindow(e, remote, false, 5, 849), "replayed message")
	assert.False(t, usm.checkTimeWindow(e, remote, false, 4, 5000), "boots went back")
	assert.Equal(t, int32(1000), usm.timeline[string(remote)].time, "old messages never move the timeline")

	assert.True(t, usm.checkTimeWindow(e, remote, false, 6, 10), "reboot")
	assert.False(t, usm.checkTimeWindow(e, remote, false, 5, 1200))
	assert.False(t, usm.checkTimeWindow(e, remote, false, SNMP_MAXENGINEBOOTS, 0))

	clock.Advance(30 * time.Second)
	boots, remoteTime, ok := usm.RemoteTime(e, remote)
	require.True(t, ok)
	assert.Equal(t, int32(6), boots)
	assert.Equal(t, int32(40), remoteTime)
}

func TestUSM_TimelineExpiry(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)
	usm := e.USM()
	remote := []byte{0x80, 0x00, 0x00, 0x09, 0x04, 's', 'w', '1'}
	require.True(t, usm.checkTimeWindow(e, remote, false, 1, 100))

	clock.Advance(usmTimelineExpiry)
	e.ReceiveTimerTick(clock.Now())
	_, _, ok := usm.RemoteTime(e, remote)
	assert.True(t, ok)

	clock.Advance(time.Second)
	e.ReceiveTimerTick(clock.Now())
	_, _, ok = usm.RemoteTime(e, remote)
	assert.False(t, ok)
}

func TestUSM_AddUserValidation(t *testing.T) {
	usm := NewUSMSecurityModel()
	tests := []struct {
		name string
		user UsmUser
		ok   bool
	}{
		{"noauth", UsmUser{Name: "guest"}, true},
		{"empty name", UsmUser{}, false},
		{"priv without auth", UsmUser{Name: "u", PrivProtocol: PRIV_PROTOCOL_AES128, PrivPassword: "privpass123"}, false},
		{"short auth key", UsmUser{Name: "u", AuthProtocol: AUTH_PROTOCOL_SHA, AuthPassword: "short"}, false},
		{"short priv key", UsmUser{Name: "u", AuthProtocol: AUTH_PROTOCOL_SHA, AuthPassword: "authpass123", PrivProtocol: PRIV_PROTOCOL_DES, PrivPassword: "x"}, false},
		{"unknown auth", UsmUser{Name: "u", AuthProtocol: 42, AuthPassword: "authpass123"}, false},
		{"authpriv", UsmUser{Name: "u", AuthProtocol: AUTH_PROTOCOL_SHA512, AuthPassword: "authpass123", PrivProtocol: PRIV_PROTOCOL_AES256, PrivPassword: "privpass123"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := usm.AddUser(tt.user)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	u, ok := usm.User("u")
	require.True(t, ok)
	assert.Equal(t, SECLEVEL_AUTHPRIV, u.SecurityLevel())
	usm.DelUser("u")
	_, ok = usm.User("u")
	assert.False(t, ok)
}

func TestParseAuthPrivProtocols(t *testing.T) {
	level, auth, priv, err := ParseAuthPrivProtocols("SHA256", "authpass123", " AES192 ", "privpass123")
	require.NoError(t, err)
	assert.Equal(t, SECLEVEL_AUTHPRIV, level)
	assert.Equal(t, AUTH_PROTOCOL_SHA256, auth)
	assert.Equal(t, PRIV_PROTOCOL_AES192, priv)

	level, _, priv, err = ParseAuthPrivProtocols("", "", "aes", "privpass123")
	require.NoError(t, err)
	assert.Equal(t, SECLEVEL_NOAUTH_NOPRIV, level)
	assert.Equal(t, PRIV_PROTOCOL_NONE, priv)

	_, _, _, err = ParseAuthPrivProtocols("sha3", "authpass123", "", "")
	assert.Error(t, err)
	_, _, _, err = ParseAuthPrivProtocols("md5", "short", "", "")
	assert.Error(t, err)
}
