// Package refcodec encodes message ids into opaque URL-safe references.
//
// The transform is obfuscation, not authentication: it discourages enumeration
// of sequential message ids but grants no capability by itself.
package refcodec

import (
	"encoding/base64"
	"encoding/binary"

	"tg-filestream/internal/domain"
)

const (
	// mult is an odd 64-bit constant, so multiplication modulo 2^64 is a
	// bijection. inv is its modular inverse: mult * inv == 1 (mod 2^64).
	mult uint64 = 0x9E3779B97F4A7C15
	inv  uint64 = 0xF1DE83E19937733D

	mask uint64 = 0xA076BD5F2D5F1C3B

	// encodedLen is the unpadded base64 length of 8 bytes.
	encodedLen = 11
)

// Encode maps a nonnegative message id to an opaque reference string.
func Encode(msgID int64) string {
	v := uint64(msgID)*mult ^ mask
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// Decode reverses Encode. It returns domain.ErrInvalidReference for inputs of
// the wrong length or alphabet, and for values that do not decode to a
// nonnegative 63-bit integer.
func Decode(ref string) (int64, error) {
	if len(ref) != encodedLen {
		return 0, domain.ErrInvalidReference
	}
	raw, err := base64.RawURLEncoding.DecodeString(ref)
	if err != nil || len(raw) != 8 {
		return 0, domain.ErrInvalidReference
	}
	v := (binary.BigEndian.Uint64(raw) ^ mask) * inv
	if v >= 1<<63 {
		return 0, domain.ErrInvalidReference
	}
	return int64(v), nil
}
