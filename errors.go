// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"errors"
	"fmt"
)

// Protocol errors. Packets failing with these are dropped.
var (
	ErrUnknownVersion   = errors.New("unknown SNMP version")
	ErrMalformedMessage = errors.New("malformed SNMP message")
	ErrUnsupportedPDU   = errors.New("PDU type not supported by this version")
	ErrMessageTooBig    = errors.New("message exceeds maximum size")
	ErrUnknownContext   = errors.New("unknown context")
)

// Security errors (RFC3414 §3.2 and community checks).
var (
	ErrUnknownUserName     = errors.New("unknown user name")
	ErrWrongDigest         = errors.New("wrong digest")
	ErrDecryption          = errors.New("decryption error")
	ErrNotInTimeWindow     = errors.New("not in time window")
	ErrUnknownEngineID     = errors.New("unknown engine ID")
	ErrUnsupportedSecLevel = errors.New("unsupported security level")
	ErrUnknownCommunity    = errors.New("unknown community name")
	ErrUnknownSecModel     = errors.New("unknown security model")
	ErrReportReceived      = errors.New("report PDU received")
)

// Access control errors (RFC3415 §3.2).
var (
	ErrNoGroupName   = errors.New("no group name")
	ErrNoAccessEntry = errors.New("no access entry")
	ErrNoSuchView    = errors.New("no such view")
	ErrNotInView     = errors.New("not in view")
)

// Engine, registry and dispatcher errors.
var (
	ErrRequestTimeout           = errors.New("request timed out")
	ErrDuplicateModel           = errors.New("model already registered")
	ErrUnknownModel             = errors.New("model not registered")
	ErrTransportDispatcherBound = errors.New("another transport dispatcher is already bound")
	ErrNoTransportDispatcher    = errors.New("no transport dispatcher bound")
	ErrBootRecordNotFound       = errors.New("boot record not found")
	ErrUnknownTable             = errors.New("unknown table")
	ErrOIDRegistered            = errors.New("OID overlaps a registered object")
)

// SecurityError carries a security failure together with the report the
// security model wants sent back (nil when the failure is silent).
type SecurityError struct {
	Op           string // processIncoming / generateOutgoing
	SecurityName string
	MsgID        int32
	Report       *ReportInfo
	Err          error
}

func (e *SecurityError) Error() string {
	if e.SecurityName != "" {
		return fmt.Sprintf("%s [%s] msgID=%d: %v", e.Op, e.SecurityName, e.MsgID, e.Err)
	}
	return fmt.Sprintf("%s msgID=%d: %v", e.Op, e.MsgID, e.Err)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// ReportInfo is the usmStats/snmp counter a report PDU must carry.
type ReportInfo struct {
	OID   []int
	Value uint32
	// Level the report is sent at; reports never exceed noAuthNoPriv unless
	// the request could be authenticated.
	SecurityLevel int
}

// AccessError describes a VACM denial.
type AccessError struct {
	ViewType string
	OID      []int
	Err      error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s access to %s denied: %v", e.ViewType, Convert_OID_IntArrayToString_RAW(e.OID), e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

func (e SNMPfe_Errors) Error() string {
	return fmt.Sprintf("%s (status=%d, index=%d): %s", SNMPErrorIntToText(int(e.ErrorStatusRaw)), e.ErrorStatusRaw, e.ErrorIndexRaw, Convert_OID_IntArrayToString_RAW(e.FailedOID))
}

// SNMPErrorIntToText converts PDU error-status and varbind exception codes
// to their RFC names.
func SNMPErrorIntToText(code int) string {
	if name, ok := SNMPErrorNames[code]; ok {
		return name
	}
	return fmt.Sprintf("error-status: %d", code)
}
