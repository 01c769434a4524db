// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"fmt"
	"slices"
	"sort"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// Access is the MAX-ACCESS of an object type.
type Access uint8

const (
	AccessNotAccessible Access = iota
	AccessReadOnly
	AccessReadWrite
	AccessReadCreate
)

// Syntax is the BER class and tag an object's values must carry.
type Syntax struct {
	Class int
	Tag   int
}

var (
	SyntaxInteger     = Syntax{ASNber.ClassUniversal, ASNber.TagInteger}
	SyntaxOctetString = Syntax{ASNber.ClassUniversal, ASNber.TagOctetString}
	SyntaxOID         = Syntax{ASNber.ClassUniversal, ASNber.TagOID}
	SyntaxIpAddress   = Syntax{ASNber.ClassApplication, SNMP_type_IPADDR}
	SyntaxCounter32   = Syntax{ASNber.ClassApplication, SNMP_type_COUNTER32}
	SyntaxGauge32     = Syntax{ASNber.ClassApplication, SNMP_type_GAUGE32}
	SyntaxTimeTicks   = Syntax{ASNber.ClassApplication, SNMP_type_TIMETICKS}
	SyntaxOpaque      = Syntax{ASNber.ClassApplication, SNMP_type_OPAQUE}
	SyntaxCounter64   = Syntax{ASNber.ClassApplication, SNMP_type_COUNTER64}
)

// Validator checks a new value before commit and returns an SNMP error
// status (SNMP_ErrWrongValue, SNMP_ErrWrongLength ...) or SNMP_ErrNoError.
type Validator func(v SNMPVar) int

// MibObject is an object type: a scalar or a table column.
type MibObject struct {
	Name   string
	OID    []int
	Syntax Syntax
	Access Access
	// Validate runs in the validation phase of a set.
	Validate Validator
	// OnSet runs in the commit phase; an error aborts the set with
	// commitFailed and undoes the bindings already applied.
	OnSet func(oid []int, v SNMPVar) error

	table  *MibTable
	getter func() SNMPVar
}

type mibInstance struct {
	oid    []int
	object *MibObject
	value  SNMPVar
}

func (i *mibInstance) current() SNMPVar {
	if i.object.getter != nil {
		return i.object.getter()
	}
	return i.value
}

// MibTree is the ordered object tree behind get, get-next and set.
// Instances are kept sorted by OID; that order defines get-next.
type MibTree struct {
	objects   []*MibObject
	instances []*mibInstance
	names     map[string]*MibObject
	tables    map[string]*MibTable
}

func NewMibTree() *MibTree {
	return &MibTree{names: make(map[string]*MibObject), tables: make(map[string]*MibTable)}
}

// MibTable is a conceptual table registered under its entry OID.
type MibTable struct {
	Name     string
	EntryOID []int
	Indexes  []IndexSpec
	columns  map[int]*MibObject
	tree     *MibTree
}

func (t *MibTree) addObject(obj *MibObject) error {
	if _, dup := t.names[obj.Name]; dup {
		return fmt.Errorf("%w: name %s", ErrOIDRegistered, obj.Name)
	}
	pos := sort.Search(len(t.objects), func(i int) bool { return OIDCompare(t.objects[i].OID, obj.OID) >= 0 })
	if pos < len(t.objects) && (InSubTreeCheck(obj.OID, t.objects[pos].OID)) {
		return fmt.Errorf("%w: %s", ErrOIDRegistered, Convert_OID_IntArrayToString_RAW(obj.OID))
	}
	if pos > 0 && InSubTreeCheck(t.objects[pos-1].OID, obj.OID) {
		return fmt.Errorf("%w: %s under %s", ErrOIDRegistered, Convert_OID_IntArrayToString_RAW(obj.OID), t.objects[pos-1].Name)
	}
	t.objects = slices.Insert(t.objects, pos, obj)
	t.names[obj.Name] = obj
	return nil
}

// RegisterScalar registers a scalar object and its instance OID.0.
func (t *MibTree) RegisterScalar(name string, oid []int, syntax Syntax, access Access, initial SNMPVar) (*MibObject, error) {
	obj := &MibObject{Name: name, OID: copyOID(oid), Syntax: syntax, Access: access}
	if err := t.addObject(obj); err != nil {
		return nil, err
	}
	t.store(obj, append(copyOID(oid), 0), initial)
	return obj, nil
}

// RegisterScalarFunc registers a read-only scalar computed on every read.
func (t *MibTree) RegisterScalarFunc(name string, oid []int, syntax Syntax, get func() SNMPVar) (*MibObject, error) {
	obj := &MibObject{Name: name, OID: copyOID(oid), Syntax: syntax, Access: AccessReadOnly, getter: get}
	if err := t.addObject(obj); err != nil {
		return nil, err
	}
	t.store(obj, append(copyOID(oid), 0), SNMPVar{})
	return obj, nil
}

// RegisterTable registers a table by its entry OID; columns are added with AddColumn.
func (t *MibTree) RegisterTable(name string, entryOID []int, indexes ...IndexSpec) (*MibTable, error) {
	if _, dup := t.tables[name]; dup {
		return nil, fmt.Errorf("%w: table %s", ErrOIDRegistered, name)
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("table %s: no index", name)
	}
	tbl := &MibTable{Name: name, EntryOID: copyOID(entryOID), Indexes: indexes, columns: make(map[int]*MibObject), tree: t}
	t.tables[name] = tbl
	return tbl, nil
}

func (tbl *MibTable) AddColumn(name string, column int, syntax Syntax, access Access) (*MibObject, error) {
	obj := &MibObject{Name: name, OID: append(copyOID(tbl.EntryOID), column), Syntax: syntax, Access: access, table: tbl}
	if err := tbl.tree.addObject(obj); err != nil {
		return nil, err
	}
	tbl.columns[column] = obj
	return obj, nil
}

// Index encodes human index values into the instance suffix.
func (tbl *MibTable) Index(values ...any) ([]int, error) {
	return encodeIndex(tbl.Indexes, values)
}

// AddRow creates or replaces the row with the given index values. Index
// columns that are not-accessible need no value.
func (tbl *MibTable) AddRow(index []any, values map[int]SNMPVar) ([]int, error) {
	suffix, err := tbl.Index(index...)
	if err != nil {
		return nil, err
	}
	for col, v := range values {
		obj, ok := tbl.columns[col]
		if !ok {
			return nil, fmt.Errorf("table %s: no column %d", tbl.Name, col)
		}
		if v.ValueClass != obj.Syntax.Class || v.ValueType != obj.Syntax.Tag {
			return nil, fmt.Errorf("table %s column %s: wrong type %s", tbl.Name, obj.Name, Convert_ClassTag_to_String(v))
		}
	}
	for col, v := range values {
		obj := tbl.columns[col]
		tbl.tree.store(obj, append(copyOID(obj.OID), suffix...), v)
	}
	return suffix, nil
}

// RemoveRow deletes every column instance of one row.
func (tbl *MibTable) RemoveRow(suffix []int) {
	for _, obj := range tbl.columns {
		tbl.tree.remove(append(copyOID(obj.OID), suffix...))
	}
}

// IndexFromHumanKey maps human readable index values of a table to the
// OID suffix of its instances.
func (t *MibTree) IndexFromHumanKey(tableName string, values ...any) ([]int, error) {
	tbl, ok := t.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}
	return tbl.Index(values...)
}

// HumanKeyFromIndex is the inverse of IndexFromHumanKey.
func (t *MibTree) HumanKeyFromIndex(tableName string, suffix []int) ([]any, error) {
	tbl, ok := t.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}
	return decodeIndex(tbl.Indexes, suffix)
}

func (t *MibTree) Table(name string) *MibTable {
	return t.tables[name]
}

func (t *MibTree) Object(name string) *MibObject {
	return t.names[name]
}

// findObject returns the object type whose OID prefixes oid. Registered
// objects never nest, so only the greatest OID not above oid can match.
func (t *MibTree) findObject(oid []int) *MibObject {
	pos := sort.Search(len(t.objects), func(i int) bool { return OIDCompare(t.objects[i].OID, oid) > 0 })
	if pos == 0 {
		return nil
	}
	if obj := t.objects[pos-1]; InSubTreeCheck(obj.OID, oid) {
		return obj
	}
	return nil
}

func (t *MibTree) search(oid []int) (int, bool) {
	pos := sort.Search(len(t.instances), func(i int) bool { return OIDCompare(t.instances[i].oid, oid) >= 0 })
	return pos, pos < len(t.instances) && OIDCompare(t.instances[pos].oid, oid) == 0
}

func (t *MibTree) store(obj *MibObject, oid []int, v SNMPVar) {
	data := SNMPVar{ValueType: v.ValueType, ValueClass: v.ValueClass, IsCompound: v.IsCompound, Value: append([]byte(nil), v.Value...)}
	pos, found := t.search(oid)
	if found {
		t.instances[pos].value = data
		return
	}
	t.instances = slices.Insert(t.instances, pos, &mibInstance{oid: copyOID(oid), object: obj, value: data})
}

func (t *MibTree) remove(oid []int) {
	if pos, found := t.search(oid); found {
		t.instances = slices.Delete(t.instances, pos, pos+1)
	}
}

// Read is the point lookup of get.
func (t *MibTree) Read(oid []int) VarValue {
	obj := t.findObject(oid)
	if obj == nil || obj.Access == AccessNotAccessible {
		return NoSuchObject()
	}
	pos, found := t.search(oid)
	if !found {
		return NoSuchInstance()
	}
	return Concrete(t.instances[pos].current())
}

// ReadNext returns the first readable instance strictly after oid, or
// endOfMibView with oid itself when the tree is exhausted.
func (t *MibTree) ReadNext(oid []int) ([]int, VarValue) {
	pos := sort.Search(len(t.instances), func(i int) bool { return OIDCompare(t.instances[i].oid, oid) > 0 })
	for ; pos < len(t.instances); pos++ {
		inst := t.instances[pos]
		if inst.object.Access == AccessNotAccessible {
			continue
		}
		return copyOID(inst.oid), Concrete(inst.current())
	}
	return copyOID(oid), EndOfMibView()
}

// checkWrite is the validation phase of one binding, in the order of
// RFC3416 §4.2.5.
func (t *MibTree) checkWrite(oid []int, v VarValue) (*MibObject, int) {
	obj := t.findObject(oid)
	if obj == nil {
		return nil, SNMP_ErrNoCreation
	}
	if obj.Access == AccessNotAccessible {
		return nil, SNMP_ErrNoAccess
	}
	_, exists := t.search(oid)
	if !exists {
		if obj.Access != AccessReadCreate || obj.table == nil {
			return nil, SNMP_ErrNoCreation
		}
		if _, err := decodeIndex(obj.table.Indexes, oid[len(obj.OID):]); err != nil {
			return nil, SNMP_ErrNoCreation
		}
	}
	if obj.Access == AccessReadOnly || obj.getter != nil {
		return nil, SNMP_ErrNotWritable
	}
	if v.Kind != ValueConcrete || v.Data.ValueClass != obj.Syntax.Class || v.Data.ValueType != obj.Syntax.Tag || v.Data.IsCompound {
		return nil, SNMP_ErrWrongType
	}
	if obj.Validate != nil {
		if st := obj.Validate(v.Data); st != SNMP_ErrNoError {
			return nil, st
		}
	}
	return obj, SNMP_ErrNoError
}

// WriteVariables applies a set atomically: every binding is validated
// before any is committed. On failure the tree is unchanged and the
// 1-based index of the offending binding is returned.
func (t *MibTree) WriteVariables(vbs []VarBind) (previous []VarValue, errStatus int, errIndex int) {
	objs := make([]*MibObject, len(vbs))
	for i, vb := range vbs {
		obj, st := t.checkWrite(vb.OID, vb.Value)
		if st != SNMP_ErrNoError {
			return nil, st, i + 1
		}
		objs[i] = obj
	}

	previous = make([]VarValue, len(vbs))
	for i, vb := range vbs {
		previous[i] = t.Read(vb.OID)
		t.store(objs[i], vb.OID, vb.Value.Data)
		if objs[i].OnSet == nil {
			continue
		}
		if err := objs[i].OnSet(vb.OID, vb.Value.Data); err != nil {
			// сама неудачная привязка не применена, OnSet для неё не зовём
			t.restore(objs[i], vb.OID, previous[i])
			if uerr := t.Undo(vbs[:i], previous[:i]); uerr != nil {
				return nil, SNMP_ErrUndoFailed, i + 1
			}
			return nil, SNMP_ErrCommitFailed, i + 1
		}
	}
	return previous, SNMP_ErrNoError, 0
}

// Write sets a single instance and returns its previous value
// (noSuchInstance when the instance was created).
func (t *MibTree) Write(oid []int, v VarValue) (VarValue, int) {
	prev, st, _ := t.WriteVariables([]VarBind{{OID: oid, Value: v}})
	if st != SNMP_ErrNoError {
		return VarValue{}, st
	}
	return prev[0], SNMP_ErrNoError
}

func (t *MibTree) restore(obj *MibObject, oid []int, prev VarValue) {
	if prev.Kind != ValueConcrete {
		t.remove(oid)
		return
	}
	t.store(obj, oid, prev.Data)
}

// Undo restores values returned by WriteVariables, last binding first.
func (t *MibTree) Undo(vbs []VarBind, previous []VarValue) error {
	var firstErr error
	for i := len(vbs) - 1; i >= 0; i-- {
		obj := t.findObject(vbs[i].OID)
		if obj == nil {
			continue
		}
		t.restore(obj, vbs[i].OID, previous[i])
		if previous[i].Kind == ValueConcrete && obj.OnSet != nil {
			if err := obj.OnSet(vbs[i].OID, previous[i].Data); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
