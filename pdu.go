// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"fmt"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// encodePDU builds the context-tagged PDU that goes into the community
// envelope or the ScopedPDU.
func encodePDU(pdu *PDU) (ASNber.RawValue, error) {
	var V2PDU SNMP_Packet_V2_PDU
	V2PDU.RequestID = pdu.RequestID
	V2PDU.ErrorStatusRaw = pdu.ErrorStatus
	V2PDU.ErrorIndexRaw = pdu.ErrorIndex
	V2PDU.VarBinds = make([]SNMP_Packet_V2_VarBind, len(pdu.VarBinds))
	for i, vb := range pdu.VarBinds {
		V2PDU.VarBinds[i] = SNMP_Packet_V2_VarBind{RSnmpOID: ASNber.ObjectIdentifier(vb.OID), RSnmpVar: vb.Value.toRaw()}
	}
	V2PDU_ASNEncode, err := ASNber.Marshal(V2PDU)
	if err != nil {
		return ASNber.RawValue{}, err
	}

	var pmval ASNber.RawValue
	pmval.Class = ASNber.ClassContextSpecific
	pmval.IsCompound = true
	pmval.Tag = pdu.Type
	//Извлекаем данные (без TAG LEN)
	PureData, ExErr := ASNber.ExtractDataWOTagAndLen(V2PDU_ASNEncode)
	if ExErr != nil {
		return ASNber.RawValue{}, ExErr
	}
	pmval.Bytes = PureData
	return pmval, nil
}

// decodePDU parses a context-tagged PDU. The tag byte is swapped for a
// SEQUENCE tag on a copy so the caller's buffer stays intact.
func decodePDU(raw ASNber.RawValue) (*PDU, error) {
	if raw.Class != ASNber.ClassContextSpecific || !raw.IsCompound || len(raw.FullBytes) == 0 {
		return nil, fmt.Errorf("%w: not a PDU (class=%d tag=%d)", ErrMalformedMessage, raw.Class, raw.Tag)
	}
	switch raw.Tag {
	case SNMPv2_REQUEST_GET, SNMPv2_REQUEST_GETNEXT, SNMPv2_REQUEST_RESPONSE, SNMPv2_REQUEST_SET,
		SNMPv2_REQUEST_GETBULK, SNMPv2_REQUEST_INFORM, SNMPv2_REQUEST_TRAP, SNMPv2_REQUEST_REPORT:
	default:
		return nil, fmt.Errorf("%w: PDU type %d", ErrUnsupportedPDU, raw.Tag)
	}

	seq := make([]byte, len(raw.FullBytes))
	copy(seq, raw.FullBytes)
	seq[0] = 0x30
	var pdu1 SNMP_Packet_V2_PDU
	if _, err := ASNber.Unmarshal(seq, &pdu1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	pdu := &PDU{
		Type:        raw.Tag,
		RequestID:   pdu1.RequestID,
		ErrorStatus: pdu1.ErrorStatusRaw,
		ErrorIndex:  pdu1.ErrorIndexRaw,
		VarBinds:    make([]VarBind, 0, len(pdu1.VarBinds)),
	}
	for _, datain := range pdu1.VarBinds {
		val, err := valueFromRaw(datain.RSnmpVar)
		if err != nil {
			return nil, fmt.Errorf("%w: varbind %s", err, Convert_OID_IntArrayToString_RAW(datain.RSnmpOID))
		}
		oid := make([]int, len(datain.RSnmpOID))
		copy(oid, datain.RSnmpOID)
		pdu.VarBinds = append(pdu.VarBinds, VarBind{OID: oid, Value: val})
	}
	return pdu, nil
}

// peekVersion reads the version field of any SNMP message.
func peekVersion(msg []byte) (int, error) {
	var pkt SNMP_UnknownVersionPacket
	if _, err := ASNber.Unmarshal(msg, &pkt); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return pkt.Version, nil
}
