package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// tag bytes identify the kind of the value that follows, so Decode never has
// to guess shape from content. The tag values themselves are part of the
// canonical wire format: changing them changes every turn id ever computed.
const (
	tagBool     byte = 1
	tagInt      byte = 2
	tagFloat    byte = 3
	tagString   byte = 4
	tagBytes    byte = 5
	tagSymbol   byte = 6
	tagRecord   byte = 7
	tagSequence byte = 8
	tagSet      byte = 9
	tagDict     byte = 10
)

// Encode writes the canonical binary encoding of v to buf, appending and
// returning the extended slice. The same logical value always produces
// identical bytes; this is the encoding turn ids and schema hashes are
// computed over.
func Encode(buf []byte, v Value) ([]byte, error) {
	switch v.kind {
	case KindBool:
		buf = append(buf, tagBool)
		if v.boolv {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		return buf, nil
	case KindInt:
		buf = append(buf, tagInt)
		return appendVarint(buf, v.intv), nil
	case KindFloat:
		buf = append(buf, tagFloat)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.floatv))
		return append(buf, b[:]...), nil
	case KindString:
		buf = append(buf, tagString)
		return appendLenPrefixed(buf, []byte(v.strv)), nil
	case KindBytes:
		buf = append(buf, tagBytes)
		return appendLenPrefixed(buf, v.bytesv), nil
	case KindSymbol:
		buf = append(buf, tagSymbol)
		return appendLenPrefixed(buf, []byte(v.strv)), nil
	case KindRecord:
		buf = append(buf, tagRecord)
		buf = appendLenPrefixed(buf, []byte(v.label))
		buf = appendUvarint(buf, uint64(len(v.fields)))
		var err error
		for _, f := range v.fields {
			buf, err = Encode(buf, f)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindSequence:
		buf = append(buf, tagSequence)
		buf = appendUvarint(buf, uint64(len(v.fields)))
		var err error
		for _, f := range v.fields {
			buf, err = Encode(buf, f)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindSet:
		// v.fields is already held in canonical sorted order by SetOf.
		buf = append(buf, tagSet)
		buf = appendUvarint(buf, uint64(len(v.fields)))
		var err error
		for _, f := range v.fields {
			buf, err = Encode(buf, f)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindDict:
		buf = append(buf, tagDict)
		buf = appendUvarint(buf, uint64(len(v.entries)))
		var err error
		for _, e := range v.entries {
			buf, err = Encode(buf, e.Key)
			if err != nil {
				return nil, err
			}
			buf, err = Encode(buf, e.Value)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindEmbedded:
		return nil, fmt.Errorf("value: cannot canonically encode an embedded reference (%v)", v.embedded)
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// Decode reads one canonically-encoded value from buf and returns it along
// with the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, fmt.Errorf("value: decode: empty buffer")
	}
	tag := buf[0]
	rest := buf[1:]
	switch tag {
	case tagBool:
		if len(rest) < 1 {
			return Value{}, 0, fmt.Errorf("value: decode bool: truncated")
		}
		return Bool(rest[0] != 0), 2, nil
	case tagInt:
		i, n, err := readVarint(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Int(i), 1 + n, nil
	case tagFloat:
		if len(rest) < 8 {
			return Value{}, 0, fmt.Errorf("value: decode float: truncated")
		}
		bits := binary.LittleEndian.Uint64(rest[:8])
		return Float(math.Float64frombits(bits)), 9, nil
	case tagString:
		s, n, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return String(string(s)), 1 + n, nil
	case tagBytes:
		b, n, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Bytes(b), 1 + n, nil
	case tagSymbol:
		s, n, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		return Symbol(string(s)), 1 + n, nil
	case tagRecord:
		label, n, err := readLenPrefixed(rest)
		if err != nil {
			return Value{}, 0, err
		}
		off := n
		count, m, err := readUvarint(rest[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += m
		fields := make([]Value, 0, count)
		for i := uint64(0); i < count; i++ {
			fv, fn, err := Decode(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			fields = append(fields, fv)
			off += fn
		}
		return Value{kind: KindRecord, label: string(label), fields: fields}, 1 + off, nil
	case tagSequence:
		count, m, err := readUvarint(rest)
		if err != nil {
			return Value{}, 0, err
		}
		off := m
		elems := make([]Value, 0, count)
		for i := uint64(0); i < count; i++ {
			fv, fn, err := Decode(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			elems = append(elems, fv)
			off += fn
		}
		return Sequence(elems...), 1 + off, nil
	case tagSet:
		count, m, err := readUvarint(rest)
		if err != nil {
			return Value{}, 0, err
		}
		off := m
		elems := make([]Value, 0, count)
		for i := uint64(0); i < count; i++ {
			fv, fn, err := Decode(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			elems = append(elems, fv)
			off += fn
		}
		// Elements were encoded already in canonical sorted order; preserve it
		// rather than re-sorting (re-sorting would hide a non-canonical writer).
		return Value{kind: KindSet, fields: elems}, 1 + off, nil
	case tagDict:
		count, m, err := readUvarint(rest)
		if err != nil {
			return Value{}, 0, err
		}
		off := m
		entries := make([]DictEntry, 0, count)
		for i := uint64(0); i < count; i++ {
			k, kn, err := Decode(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += kn
			v, vn, err := Decode(rest[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += vn
			entries = append(entries, DictEntry{Key: k, Value: v})
		}
		return Value{kind: KindDict, entries: entries}, 1 + off, nil
	default:
		return Value{}, 0, fmt.Errorf("value: decode: unknown tag %d", tag)
	}
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	buf = appendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func readLenPrefixed(buf []byte) ([]byte, int, error) {
	n, m, err := readUvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(buf)-m) < n {
		return nil, 0, fmt.Errorf("value: decode: length-prefixed data truncated")
	}
	return buf[m : m+int(n)], m + int(n), nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, fmt.Errorf("value: decode: invalid uvarint")
	}
	return v, n, nil
}

func readVarint(buf []byte) (int64, int, error) {
	v, n := binary.Varint(buf)
	if n <= 0 {
		return 0, 0, fmt.Errorf("value: decode: invalid varint")
	}
	return v, n, nil
}

// EncodeValues canonically encodes a sequence of values back-to-back, used
// for hashing a list such as a turn's inputs.
func EncodeValues(vs []Value) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range vs {
		b, err := Encode(nil, v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}
