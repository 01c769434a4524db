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
)

// respond runs the command responder and notification receiver side for
// one incoming request, then sends the response through mp.
func (e *Engine) respond(mp MessageProcessingModel, in *IncomingMessage) {
	var resp *PDU
	switch in.PDU.Type {
	case SNMPv2_REQUEST_TRAP:
		e.deliverNotification(in)
		return
	case SNMPv2_REQUEST_INFORM:
		e.deliverNotification(in)
		resp = &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: in.PDU.RequestID, VarBinds: in.PDU.VarBinds}
	case SNMPv2_REQUEST_GET:
		resp = e.processGet(in)
	case SNMPv2_REQUEST_GETNEXT:
		resp = e.processGetNext(in)
	case SNMPv2_REQUEST_GETBULK:
		resp = e.processGetBulk(in)
	case SNMPv2_REQUEST_SET:
		resp = e.processSet(in)
	default:
		e.counters.unknownPDUHandlers++
		e.drop("unknown_pdu_handler", in.Address, fmt.Errorf("%w: %d", ErrUnsupportedPDU, in.PDU.Type))
		return
	}

	msg, err := mp.PrepareResponseMessage(e, in, resp)
	if err != nil {
		e.counters.silentDrops++
		e.drop("response_not_built", in.Address, err)
		return
	}
	if err := e.sendMessage(msg, in.Address); err != nil {
		e.log.Warn("response not sent", slog.String("peer", addrString(in.Address)), slog.Int("request_id", int(in.PDU.RequestID)), slog.String("error", err.Error()))
	}
}

func (e *Engine) accessAllowed(in *IncomingMessage, viewType string, oid []int) error {
	acm, ok := e.acModels[e.acmID]
	if !ok {
		return &AccessError{ViewType: viewType, OID: oid, Err: fmt.Errorf("%w: access control model %d", ErrUnknownModel, e.acmID)}
	}
	return acm.IsAccessAllowed(in.SecurityModel, in.SecurityName, in.SecurityLevel, viewType, in.ContextName, oid)
}

func errorResponse(req *PDU, status int, index int) *PDU {
	return &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: req.RequestID, ErrorStatus: int32(status), ErrorIndex: int32(index), VarBinds: req.VarBinds}
}

// processGet: an OID outside the view reads as noSuchObject, any other
// access control failure is authorizationError (RFC3413 §3.2).
func (e *Engine) processGet(in *IncomingMessage) *PDU {
	req := in.PDU
	resp := &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: req.RequestID, VarBinds: make([]VarBind, len(req.VarBinds))}
	for i, vb := range req.VarBinds {
		if err := e.accessAllowed(in, ViewRead, vb.OID); err != nil {
			if errors.Is(err, ErrNotInView) {
				resp.VarBinds[i] = VarBind{OID: vb.OID, Value: NoSuchObject()}
				continue
			}
			return errorResponse(req, SNMP_ErrAuthorizationError, i+1)
		}
		resp.VarBinds[i] = VarBind{OID: vb.OID, Value: e.mib.Read(vb.OID)}
	}
	return resp
}

// nextReadable walks ReadNext past instances outside the read view.
func (e *Engine) nextReadable(in *IncomingMessage, start []int) ([]int, VarValue, error) {
	cur := start
	for {
		next, val := e.mib.ReadNext(cur)
		if val.Kind == ValueEndOfMib {
			return copyOID(start), val, nil
		}
		err := e.accessAllowed(in, ViewRead, next)
		if err == nil {
			return next, val, nil
		}
		if !errors.Is(err, ErrNotInView) {
			return nil, VarValue{}, err
		}
		cur = next
	}
}

func (e *Engine) processGetNext(in *IncomingMessage) *PDU {
	req := in.PDU
	resp := &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: req.RequestID, VarBinds: make([]VarBind, len(req.VarBinds))}
	for i, vb := range req.VarBinds {
		next, val, err := e.nextReadable(in, vb.OID)
		if err != nil {
			return errorResponse(req, SNMP_ErrAuthorizationError, i+1)
		}
		resp.VarBinds[i] = VarBind{OID: next, Value: val}
	}
	return resp
}

// processGetBulk implements RFC3416 §4.2.3. The repetition loop stops once
// every repeater reached endOfMibView.
func (e *Engine) processGetBulk(in *IncomingMessage) *PDU {
	req := in.PDU
	n := len(req.VarBinds)
	nonRepeaters := req.NonRepeaters()
	if nonRepeaters > n {
		nonRepeaters = n
	}
	maxRep := req.MaxRepetitions()
	if maxRep > SNMP_MAXREPETITION {
		maxRep = SNMP_MAXREPETITION
	}
	resp := &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: req.RequestID}

	for i := 0; i < nonRepeaters; i++ {
		next, val, err := e.nextReadable(in, req.VarBinds[i].OID)
		if err != nil {
			return errorResponse(req, SNMP_ErrAuthorizationError, i+1)
		}
		resp.VarBinds = append(resp.VarBinds, VarBind{OID: next, Value: val})
	}

	repeaters := n - nonRepeaters
	if repeaters == 0 {
		return resp
	}
	cursor := make([][]int, repeaters)
	ended := make([]bool, repeaters)
	for j := range cursor {
		cursor[j] = req.VarBinds[nonRepeaters+j].OID
	}
	for r := 0; r < maxRep; r++ {
		allEnded := true
		for j := 0; j < repeaters; j++ {
			if ended[j] {
				resp.VarBinds = append(resp.VarBinds, VarBind{OID: cursor[j], Value: EndOfMibView()})
				continue
			}
			next, val, err := e.nextReadable(in, cursor[j])
			if err != nil {
				return errorResponse(req, SNMP_ErrAuthorizationError, nonRepeaters+j+1)
			}
			if val.Kind == ValueEndOfMib {
				ended[j] = true
			} else {
				allEnded = false
			}
			cursor[j] = next
			resp.VarBinds = append(resp.VarBinds, VarBind{OID: next, Value: val})
		}
		if allEnded {
			break
		}
	}
	return resp
}

// processSet checks write access for every binding, then applies the
// batch atomically.
func (e *Engine) processSet(in *IncomingMessage) *PDU {
	req := in.PDU
	for i, vb := range req.VarBinds {
		if err := e.accessAllowed(in, ViewWrite, vb.OID); err != nil {
			if errors.Is(err, ErrNotInView) {
				return errorResponse(req, SNMP_ErrNoAccess, i+1)
			}
			return errorResponse(req, SNMP_ErrAuthorizationError, i+1)
		}
	}
	_, status, index := e.mib.WriteVariables(req.VarBinds)
	if status != SNMP_ErrNoError {
		e.log.Debug("set failed", slog.Int("request_id", int(req.RequestID)), slog.String("status", SNMPErrorIntToText(status)), slog.Int("index", index))
		return errorResponse(req, status, index)
	}
	return &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: req.RequestID, VarBinds: req.VarBinds}
}

// fitResponse encodes pdu and keeps it under the smaller of the manager's
// and our maximum message size: GetBulk responses lose trailing bindings,
// anything else becomes tooBig with no bindings.
func fitResponse(e *Engine, in *IncomingMessage, pdu *PDU, encode func(*PDU) ([]byte, error)) ([]byte, error) {
	limit := e.MaxMessageSize()
	if in.MaxSize > 0 && in.MaxSize < limit {
		limit = in.MaxSize
	}
	msg, err := encode(pdu)
	if err != nil {
		return nil, err
	}
	if len(msg) <= limit {
		return msg, nil
	}

	if in.PDU != nil && in.PDU.Type == SNMPv2_REQUEST_GETBULK && pdu.ErrorStatus == SNMP_ErrNoError {
		// Бинарный поиск максимального числа привязок
		lo, hi := 0, len(pdu.VarBinds)
		var best []byte
		for lo < hi {
			mid := (lo + hi + 1) / 2
			trial := *pdu
			trial.VarBinds = pdu.VarBinds[:mid]
			b, err := encode(&trial)
			if err != nil {
				return nil, err
			}
			if len(b) <= limit {
				lo, best = mid, b
			} else {
				hi = mid - 1
			}
		}
		if lo > 0 {
			return best, nil
		}
	}

	tooBig := &PDU{Type: SNMPv2_REQUEST_RESPONSE, RequestID: pdu.RequestID, ErrorStatus: SNMP_ErrTooBig}
	msg, err = encode(tooBig)
	if err != nil {
		return nil, err
	}
	if len(msg) > limit {
		return nil, fmt.Errorf("%w: tooBig response exceeds %d bytes", ErrMessageTooBig, limit)
	}
	return msg, nil
}
