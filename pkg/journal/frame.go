package journal

import "encoding/binary"

// frameHeaderSize is the byte length of the fixed-width length prefix placed
// before every encoded record in a segment file.
const frameHeaderSize = 4

// frame prepends a 4-byte little-endian length prefix to an encoded record.
func frame(encoded []byte) []byte {
	out := make([]byte, frameHeaderSize+len(encoded))
	binary.LittleEndian.PutUint32(out, uint32(len(encoded)))
	copy(out[frameHeaderSize:], encoded)
	return out
}

// unframe reads one length-prefixed record starting at the beginning of buf.
// It returns the record length, the payload slice, and false if buf does not
// contain a complete, well-formed frame (a truncated or corrupt tail).
func unframe(buf []byte) (int, []byte, bool) {
	if int64(len(buf)) < frameHeaderSize {
		return 0, nil, false
	}
	recLen := int(binary.LittleEndian.Uint32(buf))
	if recLen < 0 || int64(frameHeaderSize+recLen) > int64(len(buf)) {
		return 0, nil, false
	}
	return recLen, buf[frameHeaderSize : frameHeaderSize+recLen], true
}
