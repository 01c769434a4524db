// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"errors"
	"fmt"
	"net"
)

// IndexType is the encoding class of a table index (RFC2578 §7.7).
type IndexType uint8

const (
	IndexInteger   IndexType = 0 // INTEGER, Integer32, Unsigned32 ...
	IndexString    IndexType = 1 // OCTET STRING, DisplayString ...
	IndexIpAddress IndexType = 2 // IpAddress, 4 sub-identifiers
	IndexOID       IndexType = 3 // OBJECT IDENTIFIER
)

func (t IndexType) String() string {
	switch t {
	case IndexInteger:
		return "integer"
	case IndexString:
		return "string"
	case IndexIpAddress:
		return "ipaddress"
	case IndexOID:
		return "oid"
	default:
		return "unknown"
	}
}

// IndexSpec describes one INDEX clause component. Implied is honoured only
// on the last component. FixedSize > 0 marks a fixed length string.
type IndexSpec struct {
	Name      string
	Type      IndexType
	Implied   bool
	FixedSize int
}

var (
	ErrNotEnoughData      = errors.New("not enough data in OID suffix")
	ErrTrailingIndexData  = errors.New("trailing data after last index")
	ErrValueCountMismatch = errors.New("value count does not match index count")
	ErrUnsupportedType    = errors.New("unsupported index value")
	ErrInvalidIpAddress   = errors.New("IpAddress must be exactly 4 bytes")
)

// encodeIndex maps human index values to an instance suffix.
//
// Accepted Go values: integers for IndexInteger, string or []byte for
// IndexString, net.IP or dotted string for IndexIpAddress, []int or dotted
// string for IndexOID.
func encodeIndex(specs []IndexSpec, values []any) ([]int, error) {
	if len(values) != len(specs) {
		return nil, fmt.Errorf("%w: got %d values, need %d", ErrValueCountMismatch, len(values), len(specs))
	}
	var suffix []int
	for i, spec := range specs {
		implied := spec.Implied && i == len(specs)-1
		var err error
		switch spec.Type {
		case IndexInteger:
			var n int64
			n, err = indexInteger(values[i])
			if err == nil {
				suffix = append(suffix, int(n))
			}
		case IndexString:
			var b []byte
			switch v := values[i].(type) {
			case string:
				b = []byte(v)
			case []byte:
				b = v
			default:
				err = fmt.Errorf("%w: %T for %s", ErrUnsupportedType, values[i], spec.Name)
			}
			if err == nil {
				if spec.FixedSize > 0 && len(b) != spec.FixedSize {
					err = fmt.Errorf("%s: length %d, fixed size is %d", spec.Name, len(b), spec.FixedSize)
					break
				}
				if spec.FixedSize == 0 && !implied {
					suffix = append(suffix, len(b))
				}
				for _, c := range b {
					suffix = append(suffix, int(c))
				}
			}
		case IndexIpAddress:
			var ip net.IP
			switch v := values[i].(type) {
			case net.IP:
				ip = v.To4()
			case string:
				ip = net.ParseIP(v).To4()
			}
			if ip == nil {
				err = ErrInvalidIpAddress
				break
			}
			for _, c := range ip {
				suffix = append(suffix, int(c))
			}
		case IndexOID:
			var oid []int
			switch v := values[i].(type) {
			case []int:
				oid = v
			case string:
				oid, err = ParseOID(v)
			default:
				err = fmt.Errorf("%w: %T for %s", ErrUnsupportedType, values[i], spec.Name)
			}
			if err == nil {
				if !implied {
					suffix = append(suffix, len(oid))
				}
				suffix = append(suffix, oid...)
			}
		default:
			err = ErrUnsupportedType
		}
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return suffix, nil
}

func indexInteger(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint:
		return int64(n), nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// decodeIndex is the inverse of encodeIndex. Integers come back as int,
// strings as string, addresses as net.IP and OIDs as []int.
func decodeIndex(specs []IndexSpec, suffix []int) ([]any, error) {
	values := make([]any, 0, len(specs))
	pos := 0
	for i, spec := range specs {
		implied := spec.Implied && i == len(specs)-1
		data := suffix[pos:]
		switch spec.Type {
		case IndexInteger:
			if len(data) < 1 {
				return nil, fmt.Errorf("index %d: %w", i, ErrNotEnoughData)
			}
			values = append(values, data[0])
			pos++
		case IndexIpAddress:
			if len(data) < 4 {
				return nil, fmt.Errorf("index %d: %w: need 4, have %d", i, ErrNotEnoughData, len(data))
			}
			ip := make(net.IP, 4)
			for j := 0; j < 4; j++ {
				if data[j] > 255 {
					return nil, fmt.Errorf("index %d: %w", i, ErrInvalidIpAddress)
				}
				ip[j] = byte(data[j])
			}
			values = append(values, ip)
			pos += 4
		case IndexString:
			n := spec.FixedSize
			start := 0
			switch {
			case n > 0:
			case implied:
				n = len(data)
			default:
				if len(data) < 1 {
					return nil, fmt.Errorf("index %d: %w", i, ErrNotEnoughData)
				}
				n = data[0]
				start = 1
			}
			if n < 0 || start+n > len(data) {
				return nil, fmt.Errorf("index %d: %w", i, ErrNotEnoughData)
			}
			b := make([]byte, n)
			for j := 0; j < n; j++ {
				if data[start+j] > 255 {
					return nil, fmt.Errorf("index %d: octet out of range", i)
				}
				b[j] = byte(data[start+j])
			}
			values = append(values, string(b))
			pos += start + n
		case IndexOID:
			n := len(data)
			start := 0
			if !implied {
				if len(data) < 1 {
					return nil, fmt.Errorf("index %d: %w", i, ErrNotEnoughData)
				}
				n = data[0]
				start = 1
			}
			if n < 0 || start+n > len(data) {
				return nil, fmt.Errorf("index %d: %w", i, ErrNotEnoughData)
			}
			values = append(values, copyOID(data[start:start+n]))
			pos += start + n
		default:
			return nil, fmt.Errorf("index %d: %w", i, ErrUnsupportedType)
		}
	}
	if pos != len(suffix) {
		return nil, ErrTrailingIndexData
	}
	return values, nil
}
