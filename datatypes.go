// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

var SNMPErrorNames = map[int]string{
	SNMP_ErrNoError:             "noError",
	SNMP_ErrTooBig:              "tooBig",
	SNMP_ErrNoSuchName:          "noSuchName",
	SNMP_ErrBadValue:            "badValue",
	SNMP_ErrReadOnly:            "readOnly",
	SNMP_ErrGenErr:              "genErr",
	SNMP_ErrNoAccess:            "noAccess",
	SNMP_ErrWrongType:           "wrongType",
	SNMP_ErrWrongLength:         "wrongLength",
	SNMP_ErrWrongEncoding:       "wrongEncoding",
	SNMP_ErrWrongValue:          "wrongValue",
	SNMP_ErrNoCreation:          "noCreation",
	SNMP_ErrInconsistentValue:   "inconsistentValue",
	SNMP_ErrResourceUnavailable: "resourceUnavailable",
	SNMP_ErrCommitFailed:        "commitFailed",
	SNMP_ErrUndoFailed:          "undoFailed",
	SNMP_ErrAuthorizationError:  "authorizationError",
	SNMP_ErrNotWritable:         "notWritable",
	SNMP_ErrInconsistentName:    "inconsistentName",

	//Error in VarBind
	tagandclassERR_noSuchObject:   "noSuchObject",
	tagandclassERR_noSuchInstance: "noSuchInstance",
	tagandclassERR_EndOfMib:       "endOfMibView",
}

// SNMP_UnknownVersionPacket is enough of any SNMP message to read its version.
// The rest of the outer SEQUENCE is ignored by the decoder.
type SNMP_UnknownVersionPacket struct {
	Version int
	PtData  ASNber.RawValue
}

type SNMPv3_Packet struct {
	Version          int
	GlobalData       ASNber.RawValue
	SecuritySettings []byte //asn1.RawValue
	PtData           ASNber.RawValue
}

type SNMPv3_SecSeq struct {
	AuthEng    []byte
	Boots      int32
	Time       int32
	User       []byte
	AuthParams []byte
	PrivParams []byte
}

type SNMPv3_GlobalData struct {
	MsgID            int32
	MsgMaxSize       int
	MsgFlag          []byte
	MsgSecurityModel int
}

// SNMPv3_PDU is the ScopedPDU. V2VarBind holds the tagged PDU.
type SNMPv3_PDU struct {
	ContextEngineId []byte
	ContextName     []byte
	V2VarBind       ASNber.RawValue
}

// SNMP_Packet_V2 is the community envelope shared by v1 and v2c.
type SNMP_Packet_V2 struct {
	Version            int
	V2CcommunityString []byte
	V2VarBind          ASNber.RawValue
}

type SNMP_Packet_V2_PDU struct {
	RequestID      int32
	ErrorStatusRaw int32
	ErrorIndexRaw  int32
	VarBinds       []SNMP_Packet_V2_VarBind
}

type SNMP_Packet_V2_VarBind struct {
	RSnmpOID ASNber.ObjectIdentifier
	RSnmpVar ASNber.RawValue
}

// SNMPVar represents ASN.1/BER decoded SNMP variable (VarBind value).
//
// **Exact mapping** from ASN.1 Tag byte: [Class:биты7-6][Constructed:бит5][Tag#:биты4-0]
// Contains raw Value bytes (NO auto-decoding) + metadata for type-safe processing.
//
// Fields:
//
//	ValueType  - Tag Number (0-31): INTEGER=2, OCTET STRING=4, OID=6, COUNTER32=1
//	ValueClass - Class (0-3):
//	             • 0=Universal (INTEGER/OCTET/OID/NULL)
//	             • 1=Application (COUNTER32/IPADDR/TIMETICKS)
//	IsCompound - Constructed flag: true=SEQUENCE/SET, false=primitive
//	Value      - **Raw BER content octets** (NO TLV wrapper, NO decoding):
//	             • INTEGER:     [0x01,0x2C] → 300
//	             • OCTET:       []byte("Cisco")
//	             • IPADDR:      [192,168,1,1]
//	             • OID:         [0x2B,0x06,0x01,0x02,0x01,0x01] → "1.3.6.1.2.1.1"
//
// Exceptions (noSuchObject/noSuchInstance/endOfMibView) are never stored in
// an SNMPVar, see VarValue.
type SNMPVar struct {
	ValueType  int
	ValueClass int
	IsCompound bool
	Value      []byte
}

var SNMPvbNullValue = SNMPVar{ValueType: ASNber.NullRawValue.Tag}

// SNMPfe_Errors is a Response PDU that came back with a non-zero error-status.
type SNMPfe_Errors struct {
	ErrorStatusRaw int32
	ErrorIndexRaw  int32
	FailedOID      []int
	RequestType    uint32
}

// VarBind is one (OID, value) binding of a PDU.
type VarBind struct {
	OID   []int
	Value VarValue
}

// PDU is the version independent protocol data unit.
//
// For GetBulk ErrorStatus and ErrorIndex carry non-repeaters and
// max-repetitions.
type PDU struct {
	Type        int
	RequestID   int32
	ErrorStatus int32
	ErrorIndex  int32
	VarBinds    []VarBind
}

func (p *PDU) NonRepeaters() int {
	if p.ErrorStatus < 0 {
		return 0
	}
	return int(p.ErrorStatus)
}

func (p *PDU) MaxRepetitions() int {
	if p.ErrorIndex < 0 {
		return 0
	}
	return int(p.ErrorIndex)
}

// IsConfirmed reports whether the PDU class expects a response (RFC3411 §2.8).
func (p *PDU) IsConfirmed() bool {
	switch p.Type {
	case SNMPv2_REQUEST_GET, SNMPv2_REQUEST_GETNEXT, SNMPv2_REQUEST_GETBULK, SNMPv2_REQUEST_SET, SNMPv2_REQUEST_INFORM:
		return true
	}
	return false
}

// IsResponseClass reports Response and Report PDUs.
func (p *PDU) IsResponseClass() bool {
	return p.Type == SNMPv2_REQUEST_RESPONSE || p.Type == SNMPv2_REQUEST_REPORT
}

// NullBindings builds request bindings carrying NULL values.
func NullBindings(oids ...[]int) []VarBind {
	vbs := make([]VarBind, len(oids))
	for i, oid := range oids {
		vbs[i] = VarBind{OID: oid, Value: Concrete(SNMPvbNullValue)}
	}
	return vbs
}
