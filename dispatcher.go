// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"math/rand"
	"net"
	"slices"
	"time"
)

// ResponseHandler receives the outcome of a confirmed request: the
// response PDU, or an error (ErrRequestTimeout, *SecurityError,
// SNMPfe_Errors together with the PDU).
type ResponseHandler func(requestID int32, pdu *PDU, err error)

// SendRequest describes one PDU to send.
type SendRequest struct {
	MPModel          int
	Address          net.Addr
	SecurityModel    int
	SecurityName     string
	SecurityLevel    int
	SecurityEngineID []byte // v3: discovered when empty
	ContextEngineID  []byte
	ContextName      string
	PDU              *PDU
	// Retries is the number of retransmissions after the first send.
	// Values outside 0..SNMP_MAXIMUM_RETRY become SNMP_DEFAULTRETRY.
	Retries int
	// Timeout before the first retransmission. Each next wait is one
	// Timeout longer.
	Timeout  time.Duration
	Callback ResponseHandler
}

// PendingRequest is an outstanding confirmed request.
type PendingRequest struct {
	RequestID   int32
	MsgID       int32
	Address     net.Addr
	RetriesLeft int
	Timeout     time.Duration
	Deadline    time.Time

	attempts    int
	callback    ResponseHandler
	req         SendRequest
	msg         []byte
	discovering bool
	resynced    bool
}

// Dispatcher keeps the pending request table and routes incoming messages
// (RFC3412 §4).
type Dispatcher struct {
	pending       map[int32]*PendingRequest
	byMsgID       map[int32]int32
	nextRequestID int32
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pending:       make(map[int32]*PendingRequest),
		byMsgID:       make(map[int32]int32),
		nextRequestID: rand.Int31(),
	}
}

// allocRequestID returns the next request-id in 1..2^31-1 that is not
// pending.
func (d *Dispatcher) allocRequestID() int32 {
	for {
		if d.nextRequestID >= math.MaxInt32 || d.nextRequestID <= 0 {
			d.nextRequestID = 1
		} else {
			d.nextRequestID++
		}
		if _, busy := d.pending[d.nextRequestID]; !busy {
			return d.nextRequestID
		}
	}
}

func engineIDCacheKey(addr net.Addr) string {
	return "authEngineID:" + addrString(addr)
}

// SendPdu encodes and sends req.PDU. Confirmed PDUs are registered and
// their callback fires exactly once; unconfirmed PDUs are sent and
// forgotten.
func (d *Dispatcher) SendPdu(e *Engine, req SendRequest) (int32, error) {
	if req.PDU == nil {
		return 0, errors.New("SendPdu: no PDU")
	}
	if req.Address == nil {
		return 0, errors.New("SendPdu: no address")
	}
	mp, err := e.messageProcessingModel(req.MPModel)
	if err != nil {
		return 0, err
	}
	if req.Retries < 0 || req.Retries > SNMP_MAXIMUM_RETRY {
		req.Retries = SNMP_DEFAULTRETRY
	}
	if req.Timeout <= 0 || req.Timeout > SNMP_MAXTIMEOUT_MS*time.Millisecond {
		req.Timeout = SNMP_DEFAULTTIMEOUT_MS * time.Millisecond
	}
	pdu := *req.PDU
	req.PDU = &pdu

	if !pdu.IsConfirmed() {
		// отправитель уведомления сам является authoritative engine
		if req.MPModel == MP_MODEL_SNMPv3 && len(req.SecurityEngineID) == 0 {
			req.SecurityEngineID = e.EngineID()
		}
		if pdu.RequestID == 0 {
			pdu.RequestID = d.allocRequestID()
		}
		msg, err := mp.PrepareOutgoingMessage(e, d.outgoing(req))
		if err != nil {
			return 0, err
		}
		return pdu.RequestID, e.sendMessage(msg, req.Address)
	}

	pdu.RequestID = d.allocRequestID()
	p := &PendingRequest{
		RequestID:   pdu.RequestID,
		Address:     req.Address,
		RetriesLeft: req.Retries,
		Timeout:     req.Timeout,
		callback:    req.Callback,
		req:         req,
	}
	if req.MPModel == MP_MODEL_SNMPv3 && len(req.SecurityEngineID) == 0 {
		if cached, ok := e.getEngineContext(engineIDCacheKey(req.Address)); ok {
			p.req.SecurityEngineID = cached.([]byte)
		} else {
			p.discovering = true
		}
	}
	if err := d.transmit(e, mp, p); err != nil {
		return 0, err
	}
	d.pending[p.RequestID] = p
	e.metrics.pending(len(d.pending))
	return p.RequestID, nil
}

func (d *Dispatcher) outgoing(req SendRequest) *OutgoingMessage {
	return &OutgoingMessage{
		SecurityModel:    req.SecurityModel,
		SecurityName:     req.SecurityName,
		SecurityLevel:    req.SecurityLevel,
		SecurityEngineID: req.SecurityEngineID,
		ContextEngineID:  req.ContextEngineID,
		ContextName:      req.ContextName,
		PDU:              req.PDU,
	}
}

// transmit encodes the request (or its discovery probe) and sends it with
// a fresh msgID.
func (d *Dispatcher) transmit(e *Engine, mp MessageProcessingModel, p *PendingRequest) error {
	out := d.outgoing(p.req)
	if p.discovering {
		// Probe RFC3414 §4: Get без привязок, noAuthNoPriv, пустой user
		out = &OutgoingMessage{
			SecurityModel: SEC_MODEL_USM,
			SecurityLevel: SECLEVEL_NOAUTH_NOPRIV,
			PDU:           &PDU{Type: SNMPv2_REQUEST_GET, RequestID: p.RequestID},
		}
	}
	msg, err := mp.PrepareOutgoingMessage(e, out)
	if err != nil {
		return err
	}
	if err := e.sendMessage(msg, p.Address); err != nil {
		return err
	}
	if p.MsgID != 0 {
		delete(d.byMsgID, p.MsgID)
	}
	p.MsgID = out.MsgID
	if p.MsgID != 0 {
		d.byMsgID[p.MsgID] = p.RequestID
	}
	p.msg = msg
	p.attempts = 1
	p.Deadline = e.now().Add(p.Timeout)
	return nil
}

// Cancel removes a pending request without calling its callback.
func (d *Dispatcher) Cancel(e *Engine, requestID int32) bool {
	p, ok := d.pending[requestID]
	if !ok {
		return false
	}
	d.remove(p)
	e.metrics.pending(len(d.pending))
	return true
}

// Pending is the number of outstanding requests.
func (d *Dispatcher) Pending() int {
	return len(d.pending)
}

// Lookup returns a copy of a pending request.
func (d *Dispatcher) Lookup(requestID int32) (PendingRequest, bool) {
	p, ok := d.pending[requestID]
	if !ok {
		return PendingRequest{}, false
	}
	return *p, true
}

func (d *Dispatcher) remove(p *PendingRequest) {
	delete(d.pending, p.RequestID)
	if d.byMsgID[p.MsgID] == p.RequestID {
		delete(d.byMsgID, p.MsgID)
	}
}

func (d *Dispatcher) resolve(e *Engine, p *PendingRequest, pdu *PDU, err error) {
	d.remove(p)
	e.metrics.pending(len(d.pending))
	if p.callback != nil {
		p.callback(p.RequestID, pdu, err)
	}
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

// match finds the pending request of a response: v3 by msgID then
// request-id, v1/v2c by request-id. The source address must be the one
// the request went to.
func (d *Dispatcher) match(in *IncomingMessage) *PendingRequest {
	var p *PendingRequest
	if in.Version == SNMP_VERSION_3 {
		if rid, ok := d.byMsgID[in.MsgID]; ok {
			p = d.pending[rid]
		}
	}
	if p == nil && in.PDU != nil {
		p = d.pending[in.PDU.RequestID]
	}
	if p == nil || p.req.MPModel != in.Version || !sameAddr(p.Address, in.Address) {
		return nil
	}
	return p
}

func dropReason(err error) string {
	var se *SecurityError
	switch {
	case errors.Is(err, ErrUnknownCommunity):
		return "bad_community"
	case errors.Is(err, ErrUnknownContext):
		return "unknown_context"
	case errors.As(err, &se):
		return "security"
	case errors.Is(err, ErrMalformedMessage):
		return "parse_error"
	case errors.Is(err, ErrUnsupportedPDU):
		return "unsupported_pdu"
	default:
		return "invalid"
	}
}

// ReceiveMessage routes one incoming datagram. Errors never propagate to
// the transport: failed messages are counted and dropped.
func (d *Dispatcher) ReceiveMessage(e *Engine, msg []byte, from net.Addr) {
	e.counters.inPkts++
	e.metrics.packet("in")

	version, err := peekVersion(msg)
	if err != nil {
		e.counters.inASNParseErrs++
		e.drop("parse_error", from, err)
		return
	}
	// Номер MP модели совпадает с версией в сообщении
	mp, ok := e.mpModels[version]
	if !ok {
		e.counters.inBadVersions++
		e.drop("bad_version", from, fmt.Errorf("%w: %d", ErrUnknownVersion, version))
		return
	}

	in, err := mp.PrepareDataElements(e, msg, from)
	if err != nil {
		var se *SecurityError
		if in != nil && errors.As(err, &se) && se.Report == nil {
			// ответ на наш запрос не прошёл проверку безопасности
			if p := d.match(in); p != nil {
				if in.Version == SNMP_VERSION_3 {
					if _, byMsg := d.byMsgID[in.MsgID]; byMsg {
						d.resolve(e, p, nil, err)
					}
				} else if in.PDU != nil && in.PDU.IsResponseClass() {
					d.resolve(e, p, nil, err)
				}
			}
		}
		e.drop(dropReason(err), from, err)
		return
	}

	if in.PDU.IsResponseClass() {
		d.handleResponse(e, mp, in)
		return
	}
	e.respond(mp, in)
}

func (d *Dispatcher) handleResponse(e *Engine, mp MessageProcessingModel, in *IncomingMessage) {
	p := d.match(in)
	if p == nil {
		e.drop("unmatched_response", in.Address, nil)
		return
	}
	if in.PDU.Type == SNMPv2_REQUEST_REPORT {
		d.handleReport(e, mp, p, in)
		return
	}
	if in.Version == SNMP_VERSION_3 && !p.discovering && in.SecurityLevel < p.req.SecurityLevel {
		e.drop("security_level_mismatch", in.Address, nil)
		return
	}
	var err error
	if in.PDU.ErrorStatus != SNMP_ErrNoError {
		fe := SNMPfe_Errors{ErrorStatusRaw: in.PDU.ErrorStatus, ErrorIndexRaw: in.PDU.ErrorIndex, RequestType: uint32(p.req.PDU.Type)}
		if idx := int(in.PDU.ErrorIndex) - 1; idx >= 0 && idx < len(p.req.PDU.VarBinds) {
			fe.FailedOID = copyOID(p.req.PDU.VarBinds[idx].OID)
		}
		err = fe
	}
	d.resolve(e, p, in.PDU, err)
}

var reportErrors = []struct {
	oid []int
	err error
}{
	{oidUsmStatsUnsupportedSecLevels, ErrUnsupportedSecLevel},
	{oidUsmStatsNotInTimeWindows, ErrNotInTimeWindow},
	{oidUsmStatsUnknownUserNames, ErrUnknownUserName},
	{oidUsmStatsUnknownEngineIDs, ErrUnknownEngineID},
	{oidUsmStatsWrongDigests, ErrWrongDigest},
	{oidUsmStatsDecryptionErrors, ErrDecryption},
	{oidSnmpUnknownContexts, ErrUnknownContext},
	{oidSnmpUnknownSecurityModels, ErrUnknownSecModel},
}

// handleReport drives discovery and time synchronisation. Any other
// report fails the request.
func (d *Dispatcher) handleReport(e *Engine, mp MessageProcessingModel, p *PendingRequest, in *IncomingMessage) {
	var oid []int
	var value uint32
	if len(in.PDU.VarBinds) > 0 {
		oid = in.PDU.VarBinds[0].OID
		if v := in.PDU.VarBinds[0].Value; !v.IsException() {
			value = Convert_snmpint_to_uint32(v.Data.Value)
		}
	}

	retry := func(reason string) {
		if err := d.transmit(e, mp, p); err != nil {
			d.resolve(e, p, nil, err)
			return
		}
		e.log.Debug("request resent after report", slog.String("reason", reason), slog.Int("request_id", int(p.RequestID)), slog.String("peer", addrString(p.Address)))
	}

	switch {
	case p.discovering && len(in.SecurityEngineID) > 0:
		e.setEngineContext(engineIDCacheKey(p.Address), append([]byte(nil), in.SecurityEngineID...))
		p.req.SecurityEngineID = append([]byte(nil), in.SecurityEngineID...)
		p.discovering = false
		retry("discovery")
		return
	case !p.resynced && slices.Equal(oid, oidUsmStatsNotInTimeWindows):
		// отчёт уже обновил timeline, повторяем один раз
		p.resynced = true
		retry("notInTimeWindow")
		return
	case !p.resynced && slices.Equal(oid, oidUsmStatsUnknownEngineIDs) && len(in.SecurityEngineID) > 0:
		// агент сменил EngineID
		p.resynced = true
		e.setEngineContext(engineIDCacheKey(p.Address), append([]byte(nil), in.SecurityEngineID...))
		p.req.SecurityEngineID = append([]byte(nil), in.SecurityEngineID...)
		retry("engineID changed")
		return
	}

	cause := ErrReportReceived
	for _, r := range reportErrors {
		if slices.Equal(oid, r.oid) {
			cause = fmt.Errorf("%w: %w", ErrReportReceived, r.err)
			break
		}
	}
	if slices.Equal(oid, oidUsmStatsUnknownEngineIDs) {
		e.delEngineContext(engineIDCacheKey(p.Address))
	}
	d.resolve(e, p, in.PDU, &SecurityError{
		Op:           "report",
		SecurityName: in.SecurityName,
		MsgID:        in.MsgID,
		Report:       &ReportInfo{OID: copyOID(oid), Value: value, SecurityLevel: in.SecurityLevel},
		Err:          cause,
	})
}

// ReceiveTimerTick retransmits expired requests while retries remain and
// times out the rest.
func (d *Dispatcher) ReceiveTimerTick(e *Engine, now time.Time) {
	var expired []*PendingRequest
	for _, rid := range slices.Sorted(maps.Keys(d.pending)) {
		if p := d.pending[rid]; !now.Before(p.Deadline) {
			expired = append(expired, p)
		}
	}
	for _, p := range expired {
		// колбэк предыдущего запроса мог отменить этот
		if d.pending[p.RequestID] != p {
			continue
		}
		if p.RetriesLeft <= 0 {
			e.metrics.Timeouts.Inc()
			e.log.Debug("request timed out", slog.Int("request_id", int(p.RequestID)), slog.String("peer", addrString(p.Address)), slog.Int("attempts", p.attempts))
			d.resolve(e, p, nil, ErrRequestTimeout)
			continue
		}
		p.RetriesLeft--
		p.attempts++
		p.Deadline = now.Add(p.Timeout * time.Duration(p.attempts))
		e.metrics.Retries.Inc()
		if err := e.sendMessage(p.msg, p.Address); err != nil {
			e.log.Warn("retransmission failed", slog.Int("request_id", int(p.RequestID)), slog.String("error", err.Error()))
		}
	}
}
