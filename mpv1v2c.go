// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"fmt"
	"net"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// CommunityMessageProcessing is the SNMPv1 or SNMPv2c message processing
// model. Both share the community envelope; v1 restricts the PDU types and
// maps error-status codes back to the v1 set (RFC3584 §4.4).
type CommunityMessageProcessing struct {
	id       int
	version  int
	secModel int
}

func NewSNMPv1MessageProcessing() *CommunityMessageProcessing {
	return &CommunityMessageProcessing{id: MP_MODEL_SNMPv1, version: SNMP_VERSION_1, secModel: SEC_MODEL_SNMPv1}
}

func NewSNMPv2cMessageProcessing() *CommunityMessageProcessing {
	return &CommunityMessageProcessing{id: MP_MODEL_SNMPv2c, version: SNMP_VERSION_2C, secModel: SEC_MODEL_SNMPv2c}
}

func (m *CommunityMessageProcessing) ID() int { return m.id }

func (m *CommunityMessageProcessing) supports(pduType int) bool {
	if m.version != SNMP_VERSION_1 {
		return true
	}
	switch pduType {
	case SNMPv2_REQUEST_GETBULK, SNMPv2_REQUEST_INFORM, SNMPv2_REQUEST_TRAP, SNMPv2_REQUEST_REPORT:
		return false
	}
	return true
}

func (m *CommunityMessageProcessing) encode(e *Engine, secName string, stateRef any, pdu *PDU) ([]byte, error) {
	if !m.supports(pdu.Type) {
		return nil, fmt.Errorf("%w: %d in SNMPv1", ErrUnsupportedPDU, pdu.Type)
	}
	sm, err := e.securityModel(m.secModel)
	if err != nil {
		return nil, err
	}
	raw, err := encodePDU(pdu)
	if err != nil {
		return nil, err
	}
	return sm.GenerateOutgoing(e, &SecurityRequest{
		Version:        m.version,
		SecurityName:   secName,
		SecurityLevel:  SECLEVEL_NOAUTH_NOPRIV,
		StateReference: stateRef,
		PDU:            raw,
	})
}

func (m *CommunityMessageProcessing) PrepareOutgoingMessage(e *Engine, out *OutgoingMessage) ([]byte, error) {
	msg, err := m.encode(e, out.SecurityName, nil, out.PDU)
	if err != nil {
		return nil, err
	}
	if len(msg) > e.MaxMessageSize() {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooBig, len(msg))
	}
	return msg, nil
}

func (m *CommunityMessageProcessing) PrepareDataElements(e *Engine, msg []byte, from net.Addr) (*IncomingMessage, error) {
	var pkt SNMP_Packet_V2
	if _, err := ASNber.Unmarshal(msg, &pkt); err != nil {
		e.counters.inASNParseErrs++
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if pkt.Version != m.version {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, pkt.Version)
	}
	sm, err := e.securityModel(m.secModel)
	if err != nil {
		return nil, err
	}
	res, err := sm.ProcessIncoming(e, &SecurityIncoming{
		Version:   m.version,
		WholeMsg:  msg,
		Community: pkt.V2CcommunityString,
		Payload:   pkt.V2VarBind,
	})
	if err != nil {
		// request-id нужен, чтобы завершить наш запрос с ошибкой
		if pdu, perr := decodePDU(pkt.V2VarBind); perr == nil {
			return &IncomingMessage{Version: m.version, PDU: pdu, Address: from}, err
		}
		return nil, err
	}
	pdu, err := decodePDU(res.PDU)
	if err != nil {
		e.counters.inASNParseErrs++
		return nil, err
	}
	if !m.supports(pdu.Type) {
		return nil, fmt.Errorf("%w: %d in SNMPv1", ErrUnsupportedPDU, pdu.Type)
	}
	return &IncomingMessage{
		Version:          m.version,
		MaxSize:          res.MaxSizeResponse,
		Reportable:       false,
		SecurityModel:    m.secModel,
		SecurityName:     res.SecurityName,
		SecurityLevel:    res.SecurityLevel,
		SecurityEngineID: res.SecurityEngineID,
		StateReference:   res.StateReference,
		ContextEngineID:  res.ContextEngineID,
		ContextName:      res.ContextName,
		PDU:              pdu,
		Address:          from,
	}, nil
}

func (m *CommunityMessageProcessing) PrepareResponseMessage(e *Engine, in *IncomingMessage, pdu *PDU) ([]byte, error) {
	if m.version == SNMP_VERSION_1 {
		pdu = v1Response(in.PDU, pdu)
	}
	return fitResponse(e, in, pdu, func(p *PDU) ([]byte, error) {
		return m.encode(e, in.SecurityName, in.StateReference, p)
	})
}

func (m *CommunityMessageProcessing) ReceiveTimerTick(e *Engine, now time.Time) {}

// v1ErrorStatus maps an SNMPv2 error-status to SNMPv1 (RFC3584 §4.4).
func v1ErrorStatus(status int) int {
	switch status {
	case SNMP_ErrNoError, SNMP_ErrTooBig, SNMP_ErrNoSuchName, SNMP_ErrBadValue, SNMP_ErrReadOnly, SNMP_ErrGenErr:
		return status
	case SNMP_ErrWrongValue, SNMP_ErrWrongEncoding, SNMP_ErrWrongType, SNMP_ErrWrongLength, SNMP_ErrInconsistentValue:
		return SNMP_ErrBadValue
	case SNMP_ErrNoAccess, SNMP_ErrNotWritable, SNMP_ErrNoCreation, SNMP_ErrInconsistentName, SNMP_ErrAuthorizationError:
		return SNMP_ErrNoSuchName
	default:
		return SNMP_ErrGenErr
	}
}

// v1Response rewrites a response for an SNMPv1 manager. An exception value
// becomes noSuchName at its index; error responses carry the request
// bindings.
func v1Response(req *PDU, resp *PDU) *PDU {
	out := &PDU{Type: resp.Type, RequestID: resp.RequestID, ErrorStatus: int32(v1ErrorStatus(int(resp.ErrorStatus))), ErrorIndex: resp.ErrorIndex, VarBinds: resp.VarBinds}
	if out.ErrorStatus == SNMP_ErrNoError {
		for i, vb := range resp.VarBinds {
			if vb.Value.IsException() {
				out.ErrorStatus = SNMP_ErrNoSuchName
				out.ErrorIndex = int32(i + 1)
				break
			}
		}
	}
	if out.ErrorStatus != SNMP_ErrNoError && req != nil && req.Type != SNMPv2_REQUEST_INFORM {
		out.VarBinds = req.VarBinds
	}
	return out
}
