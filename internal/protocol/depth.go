package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// maxDepth bounds array/map nesting in an inbound frame. The msgpack decoder
// recurses once per level, so deeper frames are refused before decoding.
const maxDepth = 64

// checkDepth walks the first MessagePack value in data without recursion and
// fails once containers nest deeper than maxDepth. It does not validate the
// value beyond what is needed to find element boundaries.
func checkDepth(data []byte) error {
	// pending[i] is the number of values still expected at level i; level 0
	// is the single top-level value.
	pending := make([]uint64, 1, 8)
	pending[0] = 1
	pos := 0

	for len(pending) > 0 {
		top := len(pending) - 1
		if pending[top] == 0 {
			pending = pending[:top]
			continue
		}
		pending[top]--

		if pos >= len(data) {
			return decodeErr("invalid msgpack", fmt.Errorf("truncated at offset %d", pos))
		}
		c := data[pos]
		pos++

		var skip, items uint64
		container := false

		switch {
		case msgpcode.IsFixedNum(c):
		case msgpcode.IsFixedMap(c):
			items, container = uint64(c&msgpcode.FixedMapMask)*2, true
		case msgpcode.IsFixedArray(c):
			items, container = uint64(c&msgpcode.FixedArrayMask), true
		case msgpcode.IsFixedString(c):
			skip = uint64(c & msgpcode.FixedStrMask)
		default:
			var size int // width of a length prefix
			switch c {
			case msgpcode.Nil, msgpcode.False, msgpcode.True:
			case msgpcode.Uint8, msgpcode.Int8:
				skip = 1
			case msgpcode.Uint16, msgpcode.Int16:
				skip = 2
			case msgpcode.Uint32, msgpcode.Int32, msgpcode.Float:
				skip = 4
			case msgpcode.Uint64, msgpcode.Int64, msgpcode.Double:
				skip = 8
			case msgpcode.FixExt1:
				skip = 2
			case msgpcode.FixExt2:
				skip = 3
			case msgpcode.FixExt4:
				skip = 5
			case msgpcode.FixExt8:
				skip = 9
			case msgpcode.FixExt16:
				skip = 17
			case msgpcode.Str8, msgpcode.Bin8, msgpcode.Ext8:
				size = 1
			case msgpcode.Str16, msgpcode.Bin16, msgpcode.Ext16, msgpcode.Array16, msgpcode.Map16:
				size = 2
			case msgpcode.Str32, msgpcode.Bin32, msgpcode.Ext32, msgpcode.Array32, msgpcode.Map32:
				size = 4
			default:
				return decodeErr("invalid msgpack", fmt.Errorf("unknown code %x at offset %d", c, pos-1))
			}

			if size > 0 {
				if len(data)-pos < size {
					return decodeErr("invalid msgpack", fmt.Errorf("truncated length at offset %d", pos))
				}
				n := readLength(data[pos:], size)
				pos += size

				switch c {
				case msgpcode.Array16, msgpcode.Array32:
					items, container = n, true
				case msgpcode.Map16, msgpcode.Map32:
					items, container = n*2, true
				case msgpcode.Ext8, msgpcode.Ext16, msgpcode.Ext32:
					skip = n + 1 // type byte
				default:
					skip = n
				}
			}
		}

		if container {
			if len(pending) > maxDepth {
				return decodeErr(fmt.Sprintf("nesting deeper than %d", maxDepth), nil)
			}
			pending = append(pending, items)
			continue
		}

		if uint64(len(data)-pos) < skip {
			return decodeErr("invalid msgpack", fmt.Errorf("truncated value at offset %d", pos))
		}
		pos += int(skip)
	}

	return nil
}

func readLength(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	default:
		return uint64(binary.BigEndian.Uint32(b))
	}
}
