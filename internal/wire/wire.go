package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1

	KindEntry  byte = 1 // positive entity entry (blob encoding)
	KindRecord byte = 2 // idempotency record
	KindCursor byte = 3 // pagination cursor body
)

const hdrLen = 4 + 1 + 1 + 4

var (
	ErrCorrupt = errors.New("examcache: corrupt entry")
	magic4     = [...]byte{'E', 'X', 'M', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames payload as:
//
//	magic(4) | ver(1) | kind(1) | vlen(u32 be) | payload(vlen)
func Encode(kind byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode validates the frame and returns a zero-copy payload slice.
// Frames of another kind, with trailing bytes or a short body are ErrCorrupt.
func Decode(kind byte, b []byte) ([]byte, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kind {
		return nil, ErrCorrupt
	}
	off := 6
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict: no trailing junk
		return nil, ErrCorrupt
	}
	return b[off : off+vlen], nil
}

func EncodeEntry(payload []byte) []byte              { return Encode(KindEntry, payload) }
func DecodeEntry(b []byte) ([]byte, error)           { return Decode(KindEntry, b) }
func EncodeRecord(payload []byte) []byte             { return Encode(KindRecord, payload) }
func DecodeRecord(b []byte) ([]byte, error)          { return Decode(KindRecord, b) }
func EncodeCursor(body []byte) []byte                { return Encode(KindCursor, body) }
func DecodeCursor(b []byte) (body []byte, err error) { return Decode(KindCursor, b) }
