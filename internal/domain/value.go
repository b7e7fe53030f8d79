package domain

// ValueKind tags the underlying representation held by a Value.
type ValueKind int

const (
	KindNil ValueKind = iota
	KindInt64
	KindFloat64
	KindBool
	KindString
	KindAssetID
	KindBytes
	KindList
	KindMap
)

// Value is a type-erased, tagged-union box used for the algorithm
// context's user-scratch storage (Context.Set/Get) and for pipeline term
// outputs of dtype Object.
type Value struct {
	kind  ValueKind
	i64   int64
	f64   float64
	b     bool
	str   string
	asset AssetID
	bytes []byte
	list  []Value
	m     map[string]Value
}

func NewInt64(v int64) Value      { return Value{kind: KindInt64, i64: v} }
func NewFloat64(v float64) Value  { return Value{kind: KindFloat64, f64: v} }
func NewBool(v bool) Value        { return Value{kind: KindBool, b: v} }
func NewString(v string) Value    { return Value{kind: KindString, str: v} }
func NewAssetID(v AssetID) Value  { return Value{kind: KindAssetID, asset: v} }
func NewBytes(v []byte) Value     { return Value{kind: KindBytes, bytes: v} }
func NewList(v []Value) Value     { return Value{kind: KindList, list: v} }
func NewMap(v map[string]Value) Value { return Value{kind: KindMap, m: v} }

// Kind reports the dynamic type tag.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Int64() (int64, bool)   { return v.i64, v.kind == KindInt64 }
func (v Value) Float64() (float64, bool) { return v.f64, v.kind == KindFloat64 }
func (v Value) Bool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) String() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AssetID() (AssetID, bool) { return v.asset, v.kind == KindAssetID }
func (v Value) Bytes() ([]byte, bool)  { return v.bytes, v.kind == KindBytes }
func (v Value) List() ([]Value, bool)  { return v.list, v.kind == KindList }
func (v Value) Map() (map[string]Value, bool) { return v.m, v.kind == KindMap }
