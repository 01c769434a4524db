// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"bytes"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// ValueKind tags the variants of VarValue.
type ValueKind uint8

const (
	ValueConcrete ValueKind = iota
	ValueNoSuchObject
	ValueNoSuchInstance
	ValueEndOfMib
)

func (k ValueKind) String() string {
	switch k {
	case ValueConcrete:
		return "value"
	case ValueNoSuchObject:
		return "noSuchObject"
	case ValueNoSuchInstance:
		return "noSuchInstance"
	case ValueEndOfMib:
		return "endOfMibView"
	default:
		return "unknown"
	}
}

// VarValue is a binding value: either concrete data or one of the three
// SNMPv2 exceptions. Data is meaningful only for ValueConcrete.
type VarValue struct {
	Kind ValueKind
	Data SNMPVar
}

func Concrete(v SNMPVar) VarValue { return VarValue{Kind: ValueConcrete, Data: v} }
func NoSuchObject() VarValue      { return VarValue{Kind: ValueNoSuchObject} }
func NoSuchInstance() VarValue    { return VarValue{Kind: ValueNoSuchInstance} }
func EndOfMibView() VarValue      { return VarValue{Kind: ValueEndOfMib} }

func (v VarValue) IsException() bool {
	return v.Kind != ValueConcrete
}

func (v VarValue) Equal(o VarValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind != ValueConcrete {
		return true
	}
	return v.Data.ValueClass == o.Data.ValueClass &&
		v.Data.ValueType == o.Data.ValueType &&
		v.Data.IsCompound == o.Data.IsCompound &&
		bytes.Equal(v.Data.Value, o.Data.Value)
}

func (v VarValue) String() string {
	if v.Kind != ValueConcrete {
		return v.Kind.String()
	}
	return Convert_Variable_To_String(v.Data)
}

// toRaw returns the BER raw value of the binding.
func (v VarValue) toRaw() ASNber.RawValue {
	switch v.Kind {
	case ValueNoSuchObject:
		return ASNber.RawValue{Class: ASNber.ClassContextSpecific, Tag: tagERR_noSuchObject}
	case ValueNoSuchInstance:
		return ASNber.RawValue{Class: ASNber.ClassContextSpecific, Tag: tagERR_noSuchInstance}
	case ValueEndOfMib:
		return ASNber.RawValue{Class: ASNber.ClassContextSpecific, Tag: tagERR_EndOfMib}
	}
	return Convert_setvar_toasn1raw(v.Data)
}

// valueFromRaw is the inverse of toRaw. Unknown context-specific tags are a
// decoding error.
func valueFromRaw(raw ASNber.RawValue) (VarValue, error) {
	if raw.Class == ASNber.ClassContextSpecific && !raw.IsCompound {
		if len(raw.Bytes) != 0 {
			return VarValue{}, ErrMalformedMessage
		}
		switch raw.Tag {
		case tagERR_noSuchObject:
			return NoSuchObject(), nil
		case tagERR_noSuchInstance:
			return NoSuchInstance(), nil
		case tagERR_EndOfMib:
			return EndOfMibView(), nil
		}
		return VarValue{}, ErrMalformedMessage
	}
	data := make([]byte, len(raw.Bytes))
	copy(data, raw.Bytes)
	return Concrete(SNMPVar{ValueType: raw.Tag, ValueClass: raw.Class, IsCompound: raw.IsCompound, Value: data}), nil
}
