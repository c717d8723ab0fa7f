// Package types defines the value domain shared by every layer of the
// engine: typed fields, tuple descriptors (schemas), tuples, and the two
// identity types (page identity, record identity) that storage and
// execution pass around instead of raw offsets.
package types

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FieldType tags the kind of value a Field holds.
type FieldType uint8

const (
	IntType FieldType = iota
	StringType
)

func (t FieldType) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	default:
		return "unknown"
	}
}

// Fixed on-disk widths, matching the catalog text format and page codec.
const (
	IntWidth       = 4
	StringMaxBytes = 128
	StringWidth    = 4 + StringMaxBytes // length prefix + payload
)

// Width returns the fixed encoded width in bytes of a field of this type.
func (t FieldType) Width() int {
	switch t {
	case IntType:
		return IntWidth
	case StringType:
		return StringWidth
	default:
		panic(fmt.Sprintf("types: unknown field type %d", t))
	}
}

// Field is a tagged value: either a 32-bit signed integer or a string of
// at most StringMaxBytes bytes. The zero Field is IntType(0).
type Field struct {
	Type      FieldType
	IntVal    int32
	StringVal string
}

// NewIntField builds an IntType field.
func NewIntField(v int32) Field { return Field{Type: IntType, IntVal: v} }

// NewStringField builds a StringType field, truncating to StringMaxBytes.
func NewStringField(v string) Field {
	if len(v) > StringMaxBytes {
		v = v[:StringMaxBytes]
	}
	return Field{Type: StringType, StringVal: v}
}

// Compare returns -1, 0, or 1. Comparing fields of different types panics:
// callers (predicates, aggregators) must ensure type-compatibility up front,
// mirroring the schema-level type checks done at plan time.
func (f Field) Compare(other Field) int {
	if f.Type != other.Type {
		panic(fmt.Sprintf("types: cannot compare %s with %s", f.Type, other.Type))
	}
	switch f.Type {
	case IntType:
		switch {
		case f.IntVal < other.IntVal:
			return -1
		case f.IntVal > other.IntVal:
			return 1
		default:
			return 0
		}
	case StringType:
		return strings.Compare(f.StringVal, other.StringVal)
	default:
		panic("types: unreachable")
	}
}

// Equals reports structural equality.
func (f Field) Equals(other Field) bool {
	return f.Type == other.Type && f.Compare(other) == 0
}

func (f Field) String() string {
	switch f.Type {
	case IntType:
		return fmt.Sprintf("%d", f.IntVal)
	case StringType:
		return f.StringVal
	default:
		return "?"
	}
}

// Encode writes the field's fixed-width wire representation into dst,
// which must be at least f.Type.Width() bytes. INT is 4-byte big-endian
// signed; STRING is a 4-byte big-endian length followed by 128 bytes of
// payload, zero-padded.
func (f Field) Encode(dst []byte) {
	switch f.Type {
	case IntType:
		binary.BigEndian.PutUint32(dst, uint32(f.IntVal))
	case StringType:
		b := []byte(f.StringVal)
		binary.BigEndian.PutUint32(dst[0:4], uint32(len(b)))
		copy(dst[4:4+StringMaxBytes], b)
		for i := 4 + len(b); i < 4+StringMaxBytes; i++ {
			dst[i] = 0
		}
	}
}

// DecodeField reads a fixed-width field of the given type from src.
func DecodeField(t FieldType, src []byte) Field {
	switch t {
	case IntType:
		return Field{Type: IntType, IntVal: int32(binary.BigEndian.Uint32(src))}
	case StringType:
		n := binary.BigEndian.Uint32(src[0:4])
		if int(n) > StringMaxBytes {
			n = StringMaxBytes
		}
		return Field{Type: StringType, StringVal: string(src[4 : 4+n])}
	default:
		panic("types: unknown field type on decode")
	}
}

// FieldDesc names one column of a Schema. Name is informational only;
// Schema equality ignores it.
type FieldDesc struct {
	Type FieldType
	Name string
}

// Schema is an ordered tuple descriptor. All tuples of a table share
// exactly one Schema; field count is always >= 1 for a constructed schema.
type Schema struct {
	fields []FieldDesc
}

// NewSchema builds a schema from field descriptors. Panics on an empty
// slice — a schema with zero fields cannot describe a tuple.
func NewSchema(fields []FieldDesc) *Schema {
	if len(fields) == 0 {
		panic("types: schema must have at least one field")
	}
	cp := make([]FieldDesc, len(fields))
	copy(cp, fields)
	return &Schema{fields: cp}
}

func (s *Schema) NumFields() int { return len(s.fields) }

func (s *Schema) FieldType(i int) FieldType { return s.fields[i].Type }

func (s *Schema) FieldName(i int) string { return s.fields[i].Name }

// IndexOf returns the index of a field by name (exact match, then suffix
// match on "alias.field" names), or -1 if not found.
func (s *Schema) IndexOf(name string) int {
	for i, f := range s.fields {
		if f.Name == name {
			return i
		}
	}
	for i, f := range s.fields {
		if strings.HasSuffix(f.Name, "."+name) {
			return i
		}
	}
	return -1
}

// TupleSize returns the byte size of an encoded tuple under this schema:
// the sum of each field's fixed width.
func (s *Schema) TupleSize() int {
	n := 0
	for _, f := range s.fields {
		n += f.Type.Width()
	}
	return n
}

// Equals compares type sequences only, per the spec: two schemas with
// identically-typed fields under different names are equal.
func (s *Schema) Equals(other *Schema) bool {
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i].Type != other.fields[i].Type {
			return false
		}
	}
	return true
}

// Merge concatenates two schemas, prefixing field names with the given
// aliases when non-empty, to form the schema of a join's output tuple.
func Merge(left, right *Schema, leftAlias, rightAlias string) *Schema {
	out := make([]FieldDesc, 0, len(left.fields)+len(right.fields))
	for _, f := range left.fields {
		out = append(out, FieldDesc{Type: f.Type, Name: aliasName(leftAlias, f.Name)})
	}
	for _, f := range right.fields {
		out = append(out, FieldDesc{Type: f.Type, Name: aliasName(rightAlias, f.Name)})
	}
	return NewSchema(out)
}

func aliasName(alias, name string) string {
	if alias == "" {
		return name
	}
	return alias + "." + name
}

// Rename returns a copy of the schema with every field renamed to
// "alias.fieldName" — used by SeqScan to qualify its output schema.
func (s *Schema) Rename(alias string) *Schema {
	out := make([]FieldDesc, len(s.fields))
	for i, f := range s.fields {
		out[i] = FieldDesc{Type: f.Type, Name: aliasName(alias, f.Name)}
	}
	return NewSchema(out)
}

func (s *Schema) Fields() []FieldDesc {
	out := make([]FieldDesc, len(s.fields))
	copy(out, s.fields)
	return out
}

// PageID identifies a page within the whole engine: a stable table id plus
// a zero-based, dense page number within that table's file.
type PageID struct {
	TableID uint64
	PageNo  int
}

func (p PageID) String() string { return fmt.Sprintf("t%d:p%d", p.TableID, p.PageNo) }

// RecordID locates a tuple: the page it lives on plus its slot index
// within that page's header bitmap.
type RecordID struct {
	PID  PageID
	Slot int
}

func (r RecordID) Equals(other RecordID) bool { return r.PID == other.PID && r.Slot == other.Slot }

// Tuple is a vector of fields conforming to a Schema, plus an optional
// record identity. A tuple read from disk always carries one; tuples
// produced by operators above storage may not.
type Tuple struct {
	Schema *Schema
	Fields []Field
	rid    *RecordID
}

// NewTuple allocates a zero-valued tuple for the given schema.
func NewTuple(schema *Schema) *Tuple {
	fields := make([]Field, schema.NumFields())
	for i := range fields {
		if schema.FieldType(i) == StringType {
			fields[i] = Field{Type: StringType}
		} else {
			fields[i] = Field{Type: IntType}
		}
	}
	return &Tuple{Schema: schema, Fields: fields}
}

func (t *Tuple) Field(i int) Field { return t.Fields[i] }

func (t *Tuple) SetField(i int, f Field) {
	if t.rid != nil {
		panic("types: tuple is immutable once a record identity is assigned")
	}
	t.Fields[i] = f
}

func (t *Tuple) RecordID() (RecordID, bool) {
	if t.rid == nil {
		return RecordID{}, false
	}
	return *t.rid, true
}

// SetRecordID assigns a record identity, freezing the tuple's fields.
func (t *Tuple) SetRecordID(rid RecordID) { t.rid = &rid }

// String reports one value per field, not per byte.
func (t *Tuple) String() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, "\t")
}

// MergeTuples concatenates two tuples' fields into a new tuple over the
// merged schema. Used by Join to build its output rows.
func MergeTuples(left, right *Tuple, merged *Schema) *Tuple {
	fields := make([]Field, 0, len(left.Fields)+len(right.Fields))
	fields = append(fields, left.Fields...)
	fields = append(fields, right.Fields...)
	return &Tuple{Schema: merged, Fields: fields}
}

// Encode writes the tuple's fixed-width wire representation into dst,
// which must be at least Schema.TupleSize() bytes.
func (t *Tuple) Encode(dst []byte) {
	off := 0
	for i, f := range t.Fields {
		w := t.Schema.FieldType(i).Width()
		f.Encode(dst[off : off+w])
		off += w
	}
}

// DecodeTuple reads a tuple of the given schema from src.
func DecodeTuple(schema *Schema, src []byte) *Tuple {
	fields := make([]Field, schema.NumFields())
	off := 0
	for i := 0; i < schema.NumFields(); i++ {
		ft := schema.FieldType(i)
		w := ft.Width()
		fields[i] = DecodeField(ft, src[off:off+w])
		off += w
	}
	return &Tuple{Schema: schema, Fields: fields}
}
