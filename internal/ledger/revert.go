package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// errorSelector is the 4-byte selector of Solidity's Error(string).
var errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// DecodeRevertReason extracts the revert message from a failed receipt's
// output. It accepts raw bytes or a 0x-prefixed hex string and returns "" when
// nothing readable is present.
func DecodeRevertReason(output []byte) string {
	data := output
	if s := strings.TrimSpace(string(output)); strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		decoded, err := hex.DecodeString(s[2:])
		if err != nil {
			return ""
		}
		data = decoded
	}
	if len(data) <= len(errorSelector) || !bytes.Equal(data[:4], errorSelector) {
		return ""
	}
	body := data[4:]
	if len(body) >= 64 {
		offset := word(body[:32])
		if offset+32 <= uint64(len(body)) {
			size := word(body[offset : offset+32])
			start := offset + 32
			if start+size <= uint64(len(body)) {
				if msg := body[start : start+size]; utf8.Valid(msg) {
					return string(msg)
				}
			}
		}
	}
	// not ABI-framed; keep whatever printable text follows the selector
	trimmed := bytes.Trim(body, "\x00")
	if utf8.Valid(trimmed) {
		return strings.TrimSpace(strings.Map(func(r rune) rune {
			if r < 0x20 {
				return -1
			}
			return r
		}, string(trimmed)))
	}
	return ""
}

// EncodeRevertReason builds Error(string) output bytes.
func EncodeRevertReason(msg string) []byte {
	padded := (len(msg) + 31) / 32 * 32
	out := make([]byte, 4+32+32+padded)
	copy(out, errorSelector)
	putWord(out[4:36], 32)
	putWord(out[36:68], uint64(len(msg)))
	copy(out[68:], msg)
	return out
}

func word(b []byte) uint64 {
	// offsets and lengths never exceed 64 bits in practice
	for _, c := range b[:24] {
		if c != 0 {
			return ^uint64(0) >> 1
		}
	}
	return binary.BigEndian.Uint64(b[24:32])
}

func putWord(dst []byte, v uint64) {
	binary.BigEndian.PutUint64(dst[24:32], v)
}
