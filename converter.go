package PowerSNMPEngine

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

var ErrBadOIDString = errors.New("bad OID string")

// ParseOID converts dotted OID notation to sub-identifiers.
//
// A leading dot is accepted: ".1.3.6.1" and "1.3.6.1" are the same OID.
// Every sub-identifier must fit in 32 bits (RFC2578 §3.5).
func ParseOID(OIDStr string) (OIDIntArray []int, err error) {
	OIDStr = strings.Trim(strings.TrimSpace(OIDStr), ".")
	if OIDStr == "" {
		return nil, ErrBadOIDString
	}
	OIDStringArray := strings.Split(OIDStr, ".")
	RetArray := make([]int, 0, len(OIDStringArray))
	for _, OidStringVal := range OIDStringArray {
		OidIntVal, convErr := strconv.ParseUint(OidStringVal, 10, 32)
		if convErr != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadOIDString, OidStringVal, convErr)
		}
		RetArray = append(RetArray, int(OidIntVal))
	}
	return RetArray, nil
}

// Convert_OID_StringToIntArray_RAW is ParseOID kept for callers of the
// session API naming.
func Convert_OID_StringToIntArray_RAW(OIDStr string) (OIDIntArray []int, err error) {
	return ParseOID(OIDStr)
}

// Convert_OID_IntArrayToString_RAW - raw OID array → dotted string.
//
// For logging, JSON export and debugging.
//
//	[1,3,6,1,2,1,2,2,1,2,1] → "1.3.6.1.2.1.2.2.1.2.1"
func Convert_OID_IntArrayToString_RAW(OIDIntArray []int) (OIDStr string) {
	var sb strings.Builder
	for varind, val := range OIDIntArray {
		if varind > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(val))
	}
	return sb.String()
}

// OIDCompare orders OIDs lexicographically: -1 if a < b, 0 if equal, 1 if a > b.
// A proper prefix sorts before any of its extensions.
func OIDCompare(a, b []int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// InSubTreeCheck determines if OidCurrent is within the OidMain MIB subtree.
//
// Example:
//
//	InSubTreeCheck([1,3,6,1,2,1], [1,3,6,1,2,1,1,1])  // true (system.1.1)
//	InSubTreeCheck([1,3,6,1,2,1], [1,3,6,1,2,2,1])    // false
func InSubTreeCheck(OidMain []int, OidCurrent []int) bool {
	if len(OidCurrent) < len(OidMain) {
		return false
	}
	for OidElementIndex, OidElement := range OidMain {
		if OidElement != OidCurrent[OidElementIndex] {
			return false
		}
	}
	return true
}

func copyOID(oid []int) []int {
	r := make([]int, len(oid))
	copy(r, oid)
	return r
}

// encodeOIDValue encodes an OID as BER content octets (RFC2578 §7.2, X.690 8.19).
func encodeOIDValue(oid []int) ([]byte, error) {
	if len(oid) < 2 || oid[0] > 2 || (oid[0] < 2 && oid[1] >= 40) {
		return nil, fmt.Errorf("%w: %s", ErrBadOIDString, Convert_OID_IntArrayToString_RAW(oid))
	}
	out := appendBase128(nil, oid[0]*40+oid[1])
	for _, sub := range oid[2:] {
		if sub < 0 {
			return nil, fmt.Errorf("%w: negative sub-identifier", ErrBadOIDString)
		}
		out = appendBase128(out, sub)
	}
	return out, nil
}

func appendBase128(dst []byte, v int) []byte {
	if v == 0 {
		return append(dst, 0)
	}
	var tmp [10]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte(v & 0x7f)
		v >>= 7
	}
	for j := i; j < len(tmp)-1; j++ {
		tmp[j] |= 0x80
	}
	return append(dst, tmp[i:]...)
}

// decodeOIDValue is the inverse of encodeOIDValue.
func decodeOIDValue(data []byte) ([]int, error) {
	if len(data) == 0 {
		return nil, ErrBadOIDString
	}
	var subs []int
	v := 0
	for i, b := range data {
		v = v<<7 | int(b&0x7f)
		if b&0x80 != 0 {
			if i == len(data)-1 {
				return nil, fmt.Errorf("%w: truncated sub-identifier", ErrBadOIDString)
			}
			continue
		}
		if subs == nil {
			//первый байт кодирует два идентификатора: 40*X+Y
			switch {
			case v < 40:
				subs = append(subs, 0, v)
			case v < 80:
				subs = append(subs, 1, v-40)
			default:
				subs = append(subs, 2, v-80)
			}
		} else {
			subs = append(subs, v)
		}
		v = 0
	}
	return subs, nil
}

// encodeBERInt returns minimal two's complement content octets.
func encodeBERInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	i := 0
	for i < 7 {
		if buf[i] == 0x00 && buf[i+1]&0x80 == 0 {
			i++
			continue
		}
		if buf[i] == 0xff && buf[i+1]&0x80 != 0 {
			i++
			continue
		}
		break
	}
	return buf[i:]
}

// encodeBERUint returns minimal content octets of an unsigned application
// type (Counter32, Gauge32, TimeTicks, Counter64).
func encodeBERUint(v uint64) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[1:], v)
	i := 0
	for i < 8 && buf[i] == 0 && buf[i+1]&0x80 == 0 {
		i++
	}
	return buf[i:]
}

// Convert_snmpint_to_int32 - SNMP INTEGER value bytes → int32.
//
// Pure BigEndian conversion of raw INTEGER content octets (1-4 bytes).
// Usage: sysUpTime.0 → [0x00,0x01,0x2C] → 300
func Convert_snmpint_to_int32(bytearray []byte) (intdata int32) {
	bytearray32 := []byte{0, 0, 0, 0}
	switch len(bytearray) {
	case 1:
		return int32(int8(bytearray[0]))
	case 2:
		return int32(int16(binary.BigEndian.Uint16(bytearray)))
	case 3:
		if bytearray[0]&0x80 != 0 {
			bytearray32[0] = 0xff
		}
		copy(bytearray32[1:], bytearray)
		return int32(binary.BigEndian.Uint32(bytearray32))
	case 4:
		return int32(binary.BigEndian.Uint32(bytearray))
	default:
		return 0
	}
}

// Convert_snmpint_to_uint32 - SNMP unsigned INTEGER → uint32.
//
// Raw Counter32/Gauge32 content (1-5 bytes, the fifth is a leading zero).
// Usage: ifInOctets → [0x00,0xFF,0xFF,0xFF] → 16777215
func Convert_snmpint_to_uint32(bytearray []byte) (intdata uint32) {
	if len(bytearray) == 5 && bytearray[0] == 0 {
		bytearray = bytearray[1:]
	}
	bytearray32 := []byte{0, 0, 0, 0}
	switch len(bytearray) {
	case 1:
		return uint32(bytearray[0])
	case 2:
		return uint32(binary.BigEndian.Uint16(bytearray))
	case 3:
		copy(bytearray32[1:], bytearray)
		return binary.BigEndian.Uint32(bytearray32)
	case 4:
		return binary.BigEndian.Uint32(bytearray)
	default:
		return 0
	}
}

// Convert_bytearray_to_int - SNMP signed INTEGER → int64 (1-8 bytes), sign extended.
func Convert_bytearray_to_int(bytearray []byte) (intdata int64) {
	if len(bytearray) == 0 || len(bytearray) > 8 {
		return 0
	}
	var fill byte
	if bytearray[0]&0x80 != 0 {
		fill = 0xff
	}
	bytearray64 := []byte{fill, fill, fill, fill, fill, fill, fill, fill}
	copy(bytearray64[8-len(bytearray):], bytearray)
	return int64(binary.BigEndian.Uint64(bytearray64))
}

// Convert_bytearray_to_uint - SNMP unsigned INTEGER → uint64 (1-9 bytes).
//
// Handles Counter64, ifHCInOctets, Timeticks.
// Usage: [0x00,0x00,0x00,0x01,0xFF,0xFF,0xFF,0xFF] → 8589934591
func Convert_bytearray_to_uint(bytearray []byte) (intdata uint64) {
	if len(bytearray) == 9 && bytearray[0] == 0 {
		bytearray = bytearray[1:]
	}
	if len(bytearray) == 0 || len(bytearray) > 8 {
		return 0
	}
	bytearray64 := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	copy(bytearray64[8-len(bytearray):], bytearray)
	return binary.BigEndian.Uint64(bytearray64)
}

func isAscii(datab []byte) (AsciiString bool, LastAsciSymbolIndex int) {
	FirstZeroPos := -1
	LastAscipos := 0
	hasPrintable := false
	for i := 0; i < len(datab); i++ {
		if datab[i] < 0x20 || datab[i] > 0x7e {
			if datab[i] == 0x09 || datab[i] == 0x0a || datab[i] == 0x0d {
				continue
			}
			if datab[i] == 0x00 {
				if FirstZeroPos == -1 {
					FirstZeroPos = i
				}
				continue
			}
			return false, LastAscipos
		} else {
			LastAscipos = i
			hasPrintable = true
		}
	}
	if FirstZeroPos > -1 && FirstZeroPos < LastAscipos {
		return false, LastAscipos
	}
	return hasPrintable, LastAscipos
}

// Convert_ClassTag_to_String converts SNMPVar to human-readable ASN.1/SNMP type string.
//
// **OCTET_STRING**: isAscii() → "OCTET STRING" vs "HEX STRING"
func Convert_ClassTag_to_String(Var SNMPVar) string {
	StringType := "Unknown"
	switch Var.ValueClass {
	case ASNber.ClassUniversal:
		switch Var.ValueType {
		case ASNber.TagBoolean:
			StringType = "Universal BOOLEAN"
		case ASNber.TagInteger:
			StringType = "Universal INTEGER"
		case ASNber.TagBitString:
			StringType = "Universal BITSTRING"
		case ASNber.TagOctetString:
			AsVal, _ := isAscii(Var.Value)
			if AsVal {
				StringType = "Universal OCTET STRING"
			} else {
				StringType = "Universal HEX STRING"
			}
		case ASNber.TagNull:
			StringType = "Universal NULL"
		case ASNber.TagOID:
			StringType = "Universal OID"
		case ASNber.TagSequence:
			if Var.IsCompound {
				StringType = "Universal SEQUENCE"
			}
		case ASNber.TagSet:
			if Var.IsCompound {
				StringType = "Universal SET"
			}
		default:
			StringType = "Unknown Universal"
		}

	case ASNber.ClassApplication:
		switch Var.ValueType {
		case SNMP_type_IPADDR:
			StringType = "IP ADDRESS"
		case SNMP_type_COUNTER32:
			StringType = "COUNTER32"
		case SNMP_type_GAUGE32:
			StringType = "GAUGE32"
		case SNMP_type_COUNTER64:
			StringType = "COUNTER64"
		case SNMP_type_TIMETICKS:
			StringType = "TIMETICKS"
		case SNMP_type_OPAQUE:
			StringType = "OPAQUE"
		default:
			StringType = "Unknown APPLICATION"
		}
	}
	return StringType
}

// SetSNMPVar_OctetString creates an OCTET STRING value.
func SetSNMPVar_OctetString(str string) SNMPVar {
	return SNMPVar{ValueClass: ASNber.ClassUniversal, ValueType: ASNber.TagOctetString, IsCompound: false, Value: []byte(str)}
}

// SetSNMPVar_Int creates an INTEGER value, minimally encoded.
func SetSNMPVar_Int(ival int32) SNMPVar {
	return SNMPVar{ValueClass: ASNber.ClassUniversal, ValueType: ASNber.TagInteger, IsCompound: false, Value: encodeBERInt(int64(ival))}
}

// SetSNMPVar_IpAddr creates an IpAddress value (Application 0, 4 bytes).
func SetSNMPVar_IpAddr(ipval net.IP) (SNMPVar, error) {
	Bval := ipval.To4()
	if Bval == nil {
		return SNMPVar{}, errors.New("cannot convert IP to 4x bytes")
	}
	return SNMPVar{ValueClass: ASNber.ClassApplication, ValueType: SNMP_type_IPADDR, IsCompound: false, Value: []byte(Bval)}, nil
}

func SetSNMPVar_Counter32(v uint32) SNMPVar {
	return SNMPVar{ValueClass: ASNber.ClassApplication, ValueType: SNMP_type_COUNTER32, Value: encodeBERUint(uint64(v))}
}

func SetSNMPVar_Gauge32(v uint32) SNMPVar {
	return SNMPVar{ValueClass: ASNber.ClassApplication, ValueType: SNMP_type_GAUGE32, Value: encodeBERUint(uint64(v))}
}

func SetSNMPVar_TimeTicks(v uint32) SNMPVar {
	return SNMPVar{ValueClass: ASNber.ClassApplication, ValueType: SNMP_type_TIMETICKS, Value: encodeBERUint(uint64(v))}
}

func SetSNMPVar_Counter64(v uint64) SNMPVar {
	return SNMPVar{ValueClass: ASNber.ClassApplication, ValueType: SNMP_type_COUNTER64, Value: encodeBERUint(v)}
}

func SetSNMPVar_OID(oid []int) (SNMPVar, error) {
	b, err := encodeOIDValue(oid)
	if err != nil {
		return SNMPVar{}, err
	}
	return SNMPVar{ValueClass: ASNber.ClassUniversal, ValueType: ASNber.TagOID, Value: b}, nil
}

// Convert_setvar_toasn1raw converts SNMPVar to ASN.1 RawValue.
//
// Direct field mapping: ValueType→Tag, ValueClass→Class, Value→Bytes
func Convert_setvar_toasn1raw(invar SNMPVar) ASNber.RawValue {
	Retvar := ASNber.NullRawValue
	Retvar.Tag = invar.ValueType
	Retvar.Class = invar.ValueClass
	Retvar.IsCompound = invar.IsCompound
	Retvar.Bytes = invar.Value
	return Retvar
}

// Convert_Variable_To_String formats SNMPVar value as human-readable string.
//
// **Universal Types**: INTEGER→decimal, OCTET_STRING→ASCII/HEX, OID→dotted notation
// **Application Types**:
//   - IPADDR→"x.x.x.x"
//   - TIMETICKS→"Xh Ym Zs" (×10ms → time.Duration)
//   - COUNTER32/GAUGE32/COUNTER64→decimal
//   - OPAQUE→hex
//
// **Compound** (SEQUENCE/SET)→hex dump
func Convert_Variable_To_String(Var SNMPVar) string {
	if !Var.IsCompound {
		switch Var.ValueClass {
		case ASNber.ClassUniversal:
			switch Var.ValueType {
			case ASNber.TagInteger:
				return fmt.Sprintf("%d", Convert_bytearray_to_int(Var.Value))
			case ASNber.TagBitString:
				return hex.EncodeToString(Var.Value)
			case ASNber.TagOctetString:
				return formatOctetString(Var.Value)
			case ASNber.TagNull:
				return "NULL"
			case ASNber.TagOID:
				oid, err := decodeOIDValue(Var.Value)
				if err != nil {
					return hex.EncodeToString(Var.Value)
				}
				return Convert_OID_IntArrayToString_RAW(oid)
			default:
				return string(Var.Value)
			}
		case ASNber.ClassApplication:
			switch Var.ValueType {
			case SNMP_type_IPADDR:
				return formatIPAddress(Var.Value)
			case SNMP_type_TIMETICKS:
				TimetickInt := Convert_bytearray_to_uint(Var.Value)
				timetickinmillisecond := time.Duration(TimetickInt * 10)
				return (time.Millisecond * timetickinmillisecond).String()
			case SNMP_type_COUNTER32, SNMP_type_GAUGE32:
				return fmt.Sprintf("%d", Convert_snmpint_to_uint32(Var.Value))
			case SNMP_type_COUNTER64:
				return fmt.Sprintf("%d", Convert_bytearray_to_uint(Var.Value))
			case SNMP_type_OPAQUE:
				//Бинарные данные
				return hex.EncodeToString(Var.Value)
			}
		}
	} else {
		//Это SEQUENCE или SET, выводим HEX строку
		return hex.EncodeToString(Var.Value)
	}
	return ""
}

// formatIPAddress formats SNMP IPADDR (4-byte IPv4) as dotted decimal.
// Invalid length → "Invalid IP (len=X): <hex>" diagnostic
func formatIPAddress(data []byte) string {
	// Проверяем длину, если это не ipv4 то вернем HEX строку
	if len(data) != 4 {
		return fmt.Sprintf("Invalid IP (len=%d): %s", len(data), hex.EncodeToString(data))
	}
	return net.IP(data).String()
}

// formatOctetString formats SNMP OCTET STRING as ASCII or HEX dump.
// Trailing NUL bytes of C strings are cut.
func formatOctetString(data []byte) string {
	// Проверяем, это ASCII текст?
	if isAsciiFl, lastIndex := isAscii(data); isAsciiFl {
		if lastIndex < len(data)-1 {
			return string(data[:lastIndex+1])
		}
		return string(data)
	}
	// Иначе выводим как HEX строку
	return hex.EncodeToString(data)
}
