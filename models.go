// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"net"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// SecurityModel builds and checks the security part of a message
// (RFC3411 §4.4). The community models own the whole v1/v2c envelope,
// the USM owns the v3 securityParameters and the payload encryption.
type SecurityModel interface {
	ID() int
	// GenerateOutgoing returns the complete wire message.
	GenerateOutgoing(e *Engine, req *SecurityRequest) ([]byte, error)
	// ProcessIncoming authenticates and decrypts an incoming message.
	// Failures are returned as *SecurityError.
	ProcessIncoming(e *Engine, in *SecurityIncoming) (*SecurityResult, error)
	ReceiveTimerTick(e *Engine, now time.Time)
}

// SecurityRequest is the input of GenerateOutgoing.
type SecurityRequest struct {
	Version          int
	GlobalData       SNMPv3_GlobalData // v3 only
	SecurityEngineID []byte
	SecurityName     string
	SecurityLevel    int
	// StateReference comes from the SecurityResult of the request being
	// answered; nil for new requests.
	StateReference any
	ScopedPDU      []byte          // v3: marshalled ScopedPDU
	PDU            ASNber.RawValue // v1/v2c: tagged PDU
}

// SecurityIncoming is the parsed envelope handed to ProcessIncoming.
type SecurityIncoming struct {
	Version            int
	WholeMsg           []byte
	GlobalData         SNMPv3_GlobalData
	SecurityParameters []byte
	Community          []byte
	Payload            ASNber.RawValue
}

// SecurityResult is the outcome of a successful ProcessIncoming.
type SecurityResult struct {
	SecurityEngineID []byte
	SecurityName     string
	SecurityLevel    int
	StateReference   any
	ScopedPDU        []byte          // v3 plaintext
	PDU              ASNber.RawValue // v1/v2c
	// Community models resolve the context from their table.
	ContextEngineID []byte
	ContextName     string
	MaxSizeResponse int
}

// View types of IsAccessAllowed.
const (
	ViewRead   = "read"
	ViewWrite  = "write"
	ViewNotify = "notify"
)

// AccessControlModel authorizes access to one OID (RFC3415 §3.1).
// A nil error means allowed.
type AccessControlModel interface {
	ID() int
	IsAccessAllowed(securityModel int, securityName string, securityLevel int, viewType string, contextName string, oid []int) error
}

// MessageProcessingModel transcodes PDUs to and from one message version.
type MessageProcessingModel interface {
	ID() int
	PrepareOutgoingMessage(e *Engine, out *OutgoingMessage) ([]byte, error)
	PrepareDataElements(e *Engine, msg []byte, from net.Addr) (*IncomingMessage, error)
	PrepareResponseMessage(e *Engine, in *IncomingMessage, pdu *PDU) ([]byte, error)
	ReceiveTimerTick(e *Engine, now time.Time)
}

// OutgoingMessage describes a request or notification to encode. MsgID is
// filled by the v3 model.
type OutgoingMessage struct {
	SecurityModel    int
	SecurityName     string
	SecurityLevel    int
	SecurityEngineID []byte
	ContextEngineID  []byte
	ContextName      string
	PDU              *PDU
	MsgID            int32
}

// IncomingMessage is a decoded and security checked message.
type IncomingMessage struct {
	Version          int
	MsgID            int32
	MaxSize          int
	Reportable       bool
	SecurityModel    int
	SecurityName     string
	SecurityLevel    int
	SecurityEngineID []byte
	StateReference   any
	ContextEngineID  []byte
	ContextName      string
	PDU              *PDU
	Address          net.Addr
}
