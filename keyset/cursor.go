package keyset

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/internal/keys"
	"github.com/unkn0wn-root/examcache/internal/wire"
)

// Cursor is a position in the (SortKey DESC, TieBreak DESC) order. Rows
// strictly after it are those with a smaller SortKey, or an equal SortKey
// and a smaller TieBreak.
type Cursor struct {
	SortKey  time.Time
	TieBreak string
}

// SortKey travels as seconds and nanoseconds so every time.Time round-trips;
// UnixNano only covers the years 1678 to 2262.
const (
	fieldSortSec  protowire.Number = 1
	fieldTieBreak protowire.Number = 2
	fieldScope    protowire.Number = 3
	fieldSortNsec protowire.Number = 4

	sumLen = 8
)

var cursorEncoding = base64.RawURLEncoding.Strict()

// EncodeCursor renders c as an opaque URL-safe token bound to scope. A token
// issued for one scope does not decode under another.
func EncodeCursor(c Cursor, scope string) string {
	var body []byte
	body = protowire.AppendTag(body, fieldSortSec, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(c.SortKey.Unix()))
	body = protowire.AppendTag(body, fieldSortNsec, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(c.SortKey.Nanosecond()))
	body = protowire.AppendTag(body, fieldTieBreak, protowire.BytesType)
	body = protowire.AppendString(body, c.TieBreak)
	body = protowire.AppendTag(body, fieldScope, protowire.Fixed64Type)
	body = protowire.AppendFixed64(body, keys.Fingerprint(scope))

	frame := wire.EncodeCursor(body)
	frame = binary.BigEndian.AppendUint64(frame, xxhash.Sum64(frame))
	return cursorEncoding.EncodeToString(frame)
}

// DecodeCursor reverses EncodeCursor. Every failure wraps
// examcache.ErrInvalidCursor.
func DecodeCursor(s, scope string) (Cursor, error) {
	raw, err := cursorEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, invalid("encoding")
	}
	if len(raw) <= sumLen {
		return Cursor{}, invalid("length")
	}
	frame, sum := raw[:len(raw)-sumLen], raw[len(raw)-sumLen:]
	if xxhash.Sum64(frame) != binary.BigEndian.Uint64(sum) {
		return Cursor{}, invalid("checksum")
	}
	body, err := wire.DecodeCursor(frame)
	if err != nil {
		return Cursor{}, invalid("frame")
	}

	var (
		c                                 Cursor
		sec, nsec                         int64
		fp                                uint64
		haveSec, haveNsec, haveTB, haveFP bool
	)
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return Cursor{}, invalid("tag")
		}
		body = body[n:]
		switch {
		case num == fieldSortSec && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return Cursor{}, invalid("sort key")
			}
			sec = protowire.DecodeZigZag(v)
			body, haveSec = body[n:], true
		case num == fieldSortNsec && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 || v >= uint64(time.Second) {
				return Cursor{}, invalid("sort key")
			}
			nsec = int64(v)
			body, haveNsec = body[n:], true
		case num == fieldTieBreak && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return Cursor{}, invalid("tie break")
			}
			c.TieBreak = v
			body, haveTB = body[n:], true
		case num == fieldScope && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(body)
			if n < 0 {
				return Cursor{}, invalid("scope")
			}
			fp = v
			body, haveFP = body[n:], true
		default:
			return Cursor{}, invalid("unknown field")
		}
	}
	if !haveSec || !haveNsec || !haveTB || !haveFP {
		return Cursor{}, invalid("missing field")
	}
	if fp != keys.Fingerprint(scope) {
		return Cursor{}, invalid("scope mismatch")
	}
	c.SortKey = time.Unix(sec, nsec).UTC()
	return c, nil
}

func invalid(what string) error {
	return fmt.Errorf("%w: %s", examcache.ErrInvalidCursor, what)
}
