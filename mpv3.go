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
	"math/rand"
	"net"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// SNMPv3MessageProcessing is the SNMPv3 message processing model
// (RFC3412 §7).
type SNMPv3MessageProcessing struct {
	msgID int32
}

func NewSNMPv3MessageProcessing() *SNMPv3MessageProcessing {
	return &SNMPv3MessageProcessing{msgID: rand.Int31()}
}

func (m *SNMPv3MessageProcessing) ID() int { return MP_MODEL_SNMPv3 }

// nextMsgID keeps msgID in 1..2^31-1.
func (m *SNMPv3MessageProcessing) nextMsgID() int32 {
	m.msgID++
	if m.msgID <= 0 {
		m.msgID = 1
	}
	return m.msgID
}

type v3Header struct {
	msgID       int32
	secModel    int
	engineID    []byte
	secName     string
	level       int
	reportable  bool
	stateRef    any
	ctxEngineID []byte
	ctxName     string
}

func msgFlags(level int, reportable bool) byte {
	var flags byte
	if level > SECLEVEL_NOAUTH_NOPRIV {
		flags |= 1 << msgFlag_Authenticated_Bit
	}
	if level == SECLEVEL_AUTHPRIV {
		flags |= 1 << msgFlag_Encrypted_Bit
	}
	if reportable {
		flags |= 1 << msgFlag_Reportable_Bit
	}
	return flags
}

// build marshals the ScopedPDU and lets the security model produce the
// message.
func (m *SNMPv3MessageProcessing) build(e *Engine, h v3Header, pdu *PDU) ([]byte, error) {
	sm, err := e.securityModel(h.secModel)
	if err != nil {
		return nil, err
	}
	raw, err := encodePDU(pdu)
	if err != nil {
		return nil, err
	}
	var SNMPv3_PDUdata SNMPv3_PDU
	SNMPv3_PDUdata.ContextEngineId = h.ctxEngineID
	SNMPv3_PDUdata.ContextName = []byte(h.ctxName)
	SNMPv3_PDUdata.V2VarBind = raw
	V3PduMarshal, err := ASNber.Marshal(SNMPv3_PDUdata)
	if err != nil {
		return nil, err
	}
	return sm.GenerateOutgoing(e, &SecurityRequest{
		Version: SNMP_VERSION_3,
		GlobalData: SNMPv3_GlobalData{
			MsgID:            h.msgID,
			MsgMaxSize:       e.MaxMessageSize(),
			MsgFlag:          []byte{msgFlags(h.level, h.reportable)},
			MsgSecurityModel: h.secModel,
		},
		SecurityEngineID: h.engineID,
		SecurityName:     h.secName,
		SecurityLevel:    h.level,
		StateReference:   h.stateRef,
		ScopedPDU:        V3PduMarshal,
	})
}

// PrepareOutgoingMessage encodes a request or notification. An empty
// context engine ID defaults to the target's authoritative engine ID.
func (m *SNMPv3MessageProcessing) PrepareOutgoingMessage(e *Engine, out *OutgoingMessage) ([]byte, error) {
	secModel := out.SecurityModel
	if secModel == SEC_MODEL_ANY {
		secModel = SEC_MODEL_USM
	}
	ctxEngineID := out.ContextEngineID
	if len(ctxEngineID) == 0 {
		ctxEngineID = out.SecurityEngineID
	}
	out.MsgID = m.nextMsgID()
	msg, err := m.build(e, v3Header{
		msgID:       out.MsgID,
		secModel:    secModel,
		engineID:    out.SecurityEngineID,
		secName:     out.SecurityName,
		level:       out.SecurityLevel,
		reportable:  out.PDU.IsConfirmed(),
		ctxEngineID: ctxEngineID,
		ctxName:     out.ContextName,
	}, out.PDU)
	if err != nil {
		return nil, err
	}
	if len(msg) > e.MaxMessageSize() {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooBig, len(msg))
	}
	return msg, nil
}

// PrepareDataElements decodes and checks a v3 message. On a security
// failure the returned IncomingMessage carries only MsgID and Address, so
// the dispatcher can still resolve the matching request.
func (m *SNMPv3MessageProcessing) PrepareDataElements(e *Engine, msg []byte, from net.Addr) (*IncomingMessage, error) {
	var SNMPrecivedPacket SNMPv3_Packet
	if _, err := ASNber.Unmarshal(msg, &SNMPrecivedPacket); err != nil {
		e.counters.inASNParseErrs++
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if SNMPrecivedPacket.Version != SNMP_VERSION_3 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, SNMPrecivedPacket.Version)
	}
	var RecivedGlobalParameters SNMPv3_GlobalData
	if _, err := ASNber.Unmarshal(SNMPrecivedPacket.GlobalData.FullBytes, &RecivedGlobalParameters); err != nil {
		e.counters.inASNParseErrs++
		return nil, fmt.Errorf("%w: msgGlobalData: %v", ErrMalformedMessage, err)
	}
	gd := RecivedGlobalParameters
	partial := &IncomingMessage{Version: SNMP_VERSION_3, MsgID: gd.MsgID, Address: from}

	if len(gd.MsgFlag) != 1 || gd.MsgID < 0 || gd.MsgMaxSize < SNMP_MINMSGSIZE {
		e.counters.invalidMsgs++
		return nil, fmt.Errorf("%w: msgGlobalData", ErrMalformedMessage)
	}
	flags := gd.MsgFlag[0]
	// priv без auth недопустим (RFC3412 §7.2 шаг 5)
	if flags&(1<<msgFlag_Encrypted_Bit) != 0 && flags&(1<<msgFlag_Authenticated_Bit) == 0 {
		e.counters.invalidMsgs++
		return nil, fmt.Errorf("%w: priv without auth", ErrMalformedMessage)
	}
	reportable := flags&(1<<msgFlag_Reportable_Bit) != 0

	sm, err := e.securityModel(gd.MsgSecurityModel)
	if err != nil {
		e.counters.unknownSecurityModels++
		return nil, fmt.Errorf("%w: %d", ErrUnknownSecModel, gd.MsgSecurityModel)
	}
	res, err := sm.ProcessIncoming(e, &SecurityIncoming{
		Version:            SNMP_VERSION_3,
		WholeMsg:           msg,
		GlobalData:         gd,
		SecurityParameters: SNMPrecivedPacket.SecuritySettings,
		Payload:            SNMPrecivedPacket.PtData,
	})
	if err != nil {
		var se *SecurityError
		if errors.As(err, &se) && se.Report != nil && reportable {
			reqID := plainRequestID(flags, SNMPrecivedPacket.PtData)
			m.sendReport(e, gd, se.SecurityName, se.Report.SecurityLevel, nil, se.Report.OID, se.Report.Value, reqID, from)
		}
		return partial, err
	}

	var Recivedv3_PDU SNMPv3_PDU
	if _, err := ASNber.Unmarshal(res.ScopedPDU, &Recivedv3_PDU); err != nil {
		e.counters.inASNParseErrs++
		return partial, fmt.Errorf("%w: ScopedPDU: %v", ErrMalformedMessage, err)
	}
	pdu, err := decodePDU(Recivedv3_PDU.V2VarBind)
	if err != nil {
		e.counters.inASNParseErrs++
		return partial, err
	}

	in := &IncomingMessage{
		Version:          SNMP_VERSION_3,
		MsgID:            gd.MsgID,
		MaxSize:          res.MaxSizeResponse,
		Reportable:       reportable,
		SecurityModel:    gd.MsgSecurityModel,
		SecurityName:     res.SecurityName,
		SecurityLevel:    res.SecurityLevel,
		SecurityEngineID: res.SecurityEngineID,
		StateReference:   res.StateReference,
		ContextEngineID:  Recivedv3_PDU.ContextEngineId,
		ContextName:      string(Recivedv3_PDU.ContextName),
		PDU:              pdu,
		Address:          from,
	}

	if pdu.IsConfirmed() {
		// Пустой contextEngineID означает локальный engine
		if len(in.ContextEngineID) == 0 {
			in.ContextEngineID = e.EngineID()
		}
		if !e.knownContext(in.ContextName) {
			e.counters.unknownContexts++
			if reportable {
				m.sendReport(e, gd, in.SecurityName, in.SecurityLevel, in.StateReference, oidSnmpUnknownContexts, e.counters.unknownContexts, pdu.RequestID, from)
			}
			return partial, fmt.Errorf("%w: %q", ErrUnknownContext, in.ContextName)
		}
	}
	return in, nil
}

// plainRequestID extracts the request-id of an unencrypted ScopedPDU, 0 if
// it is not readable.
func plainRequestID(flags byte, payload ASNber.RawValue) int32 {
	if flags&(1<<msgFlag_Encrypted_Bit) != 0 || len(payload.FullBytes) == 0 {
		return 0
	}
	var scoped SNMPv3_PDU
	if _, err := ASNber.Unmarshal(payload.FullBytes, &scoped); err != nil {
		return 0
	}
	pdu, err := decodePDU(scoped.V2VarBind)
	if err != nil {
		return 0
	}
	return pdu.RequestID
}

// sendReport answers a reportable message with a Report PDU carrying one
// counter (RFC3412 §7.1 step 3b). Reports are never reportable.
func (m *SNMPv3MessageProcessing) sendReport(e *Engine, gd SNMPv3_GlobalData, secName string, level int, stateRef any, oid []int, value uint32, requestID int32, to net.Addr) {
	report := &PDU{
		Type:      SNMPv2_REQUEST_REPORT,
		RequestID: requestID,
		VarBinds:  []VarBind{{OID: copyOID(oid), Value: Concrete(SetSNMPVar_Counter32(value))}},
	}
	msg, err := m.build(e, v3Header{
		msgID:       gd.MsgID,
		secModel:    gd.MsgSecurityModel,
		engineID:    e.EngineID(),
		secName:     secName,
		level:       level,
		stateRef:    stateRef,
		ctxEngineID: e.EngineID(),
	}, report)
	if err != nil {
		e.log.Debug("report not built", slog.String("error", err.Error()))
		return
	}
	if err := e.sendMessage(msg, to); err != nil {
		e.log.Debug("report not sent", slog.String("peer", addrString(to)), slog.String("error", err.Error()))
	}
}

// PrepareResponseMessage answers a request as the authoritative engine.
func (m *SNMPv3MessageProcessing) PrepareResponseMessage(e *Engine, in *IncomingMessage, pdu *PDU) ([]byte, error) {
	h := v3Header{
		msgID:       in.MsgID,
		secModel:    in.SecurityModel,
		engineID:    e.EngineID(),
		secName:     in.SecurityName,
		level:       in.SecurityLevel,
		stateRef:    in.StateReference,
		ctxEngineID: in.ContextEngineID,
		ctxName:     in.ContextName,
	}
	return fitResponse(e, in, pdu, func(p *PDU) ([]byte, error) {
		return m.build(e, h, p)
	})
}

func (m *SNMPv3MessageProcessing) ReceiveTimerTick(e *Engine, now time.Time) {}
