// Package value implements the single semi-structured value type shared by
// every component that needs to represent, pattern-match, or durably encode
// runtime data: assertion payloads, turn inputs/outputs, snapshots, and
// reaction templates.
//
// A Value is one of: Bool, Int (signed 64-bit), Float (float64), String,
// Bytes, Symbol, Record (a symbolic label plus ordered fields), Sequence
// (ordered), Set (unordered), Dict (ordered by canonical key form), or Embedded
// (an opaque reference, used to carry capability ids inside values).
package value

import (
	"fmt"
	"math"
	"sort"
)

// Kind discriminates the logical shape of a Value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	KindSymbol
	KindRecord
	KindSequence
	KindSet
	KindDict
	KindEmbedded
)

// Value is the semi-structured value type. Exactly one of the typed fields is
// meaningful for a given Kind; Value is intentionally a plain struct rather
// than an interface so it can be copied, compared, and hashed cheaply.
type Value struct {
	kind Kind

	boolv   bool
	intv    int64
	floatv  float64
	strv    string
	bytesv  []byte
	label   string   // Record label
	fields  []Value  // Record fields, Sequence elements
	entries []DictEntry // Dict entries, canonical-key ordered
	embedded any // Embedded opaque reference
}

// DictEntry is one key/value pair of a Dict, kept in canonical key order.
type DictEntry struct {
	Key   Value
	Value Value
}

func Bool(b bool) Value   { return Value{kind: KindBool, boolv: b} }
func Int(i int64) Value   { return Value{kind: KindInt, intv: i} }
func Float(f float64) Value { return Value{kind: KindFloat, floatv: f} }
func String(s string) Value { return Value{kind: KindString, strv: s} }
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytesv: cp}
}
func Symbol(s string) Value { return Value{kind: KindSymbol, strv: s} }

func Record(label string, fields ...Value) Value {
	return Value{kind: KindRecord, label: label, fields: append([]Value(nil), fields...)}
}

func Sequence(elems ...Value) Value {
	return Value{kind: KindSequence, fields: append([]Value(nil), elems...)}
}

func SetOf(elems ...Value) Value {
	sorted := append([]Value(nil), elems...)
	sort.Slice(sorted, func(i, j int) bool { return Compare(sorted[i], sorted[j]) < 0 })
	return Value{kind: KindSet, fields: sorted}
}

func Dict(entries ...DictEntry) Value {
	sorted := append([]DictEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return Compare(sorted[i].Key, sorted[j].Key) < 0 })
	return Value{kind: KindDict, entries: sorted}
}

// Embedded wraps an opaque reference (e.g. a capability id) as a value atom.
// Two embedded values are equal iff their references format identically
// with fmt.Sprint.
func Embedded(ref any) Value { return Value{kind: KindEmbedded, embedded: ref} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) Bool() bool { return v.boolv }
func (v Value) Int() int64 { return v.intv }
func (v Value) Float() float64 { return v.floatv }
func (v Value) String() string {
	switch v.kind {
	case KindString, KindSymbol:
		return v.strv
	default:
		return ""
	}
}
func (v Value) Bytes() []byte { return v.bytesv }
func (v Value) Label() string { return v.label }
func (v Value) Fields() []Value { return v.fields }
func (v Value) Entries() []DictEntry { return v.entries }
func (v Value) Embedded() any { return v.embedded }

// IsWildcard reports whether v is the distinguished pattern wildcard: a Symbol
// shaped "<...>" or "<name>" for any name. Wildcards only have meaning inside
// a Pattern's template value, never as data asserted into the dataspace.
func (v Value) IsWildcard() bool {
	if v.kind != KindSymbol {
		return false
	}
	s := v.strv
	return len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>'
}

// Equal reports deep structural equality. Float NaN compares equal to itself
// by bit pattern, matching the reference matcher's treatment so that a
// pattern containing NaN matches an asserted NaN deterministically.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Compare provides a total order over values of the same kind, used to keep
// Set and Dict canonically ordered. Different kinds are ordered by Kind value.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindBool:
		return cmpBool(a.boolv, b.boolv)
	case KindInt:
		return cmpInt64(a.intv, b.intv)
	case KindFloat:
		return cmpUint64(math.Float64bits(a.floatv), math.Float64bits(b.floatv))
	case KindString, KindSymbol:
		return cmpString(a.strv, b.strv)
	case KindBytes:
		return cmpBytes(a.bytesv, b.bytesv)
	case KindRecord:
		if c := cmpString(a.label, b.label); c != 0 {
			return c
		}
		if c := cmpInt64(int64(len(a.fields)), int64(len(b.fields))); c != 0 {
			return c
		}
		for i := range a.fields {
			if c := Compare(a.fields[i], b.fields[i]); c != 0 {
				return c
			}
		}
		return 0
	case KindSequence, KindSet:
		if c := cmpInt64(int64(len(a.fields)), int64(len(b.fields))); c != 0 {
			return c
		}
		for i := range a.fields {
			if c := Compare(a.fields[i], b.fields[i]); c != 0 {
				return c
			}
		}
		return 0
	case KindDict:
		if c := cmpInt64(int64(len(a.entries)), int64(len(b.entries))); c != 0 {
			return c
		}
		for i := range a.entries {
			if c := Compare(a.entries[i].Key, b.entries[i].Key); c != 0 {
				return c
			}
			if c := Compare(a.entries[i].Value, b.entries[i].Value); c != 0 {
				return c
			}
		}
		return 0
	case KindEmbedded:
		return cmpString(fmt.Sprint(a.embedded), fmt.Sprint(b.embedded))
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return cmpInt64(int64(len(a)), int64(len(b)))
}
