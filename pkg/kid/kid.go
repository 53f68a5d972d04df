// Package kid implements the fixed-width record identifiers used across the
// platform. A KID is a 16-character string: a 3-character lowercase type
// prefix followed by a 13-character base-26 encoding of a sequence number.
// The prefix makes a record's type recoverable from its identifier alone,
// without a registry lookup.
package kid

import (
	"fmt"
	"strings"
)

// Layout constants.
const (
	PrefixLen = 3
	SeqLen    = 13
	TotalLen  = PrefixLen + SeqLen
)

// KID is a platform record identifier.
type KID string

// New formats a KID from a type prefix and a sequence number. The prefix must
// be exactly PrefixLen lowercase letters.
func New(prefix string, seq uint64) (KID, error) {
	if !validPrefix(prefix) {
		return "", fmt.Errorf("invalid kid prefix %q: want %d lowercase letters", prefix, PrefixLen)
	}
	return KID(prefix + encodeSeq(seq)), nil
}

// MustNew is New for callers with a known-good prefix; it panics on error.
func MustNew(prefix string, seq uint64) KID {
	k, err := New(prefix, seq)
	if err != nil {
		panic(err)
	}
	return k
}

// Parse validates the shape of s and returns it as a KID.
func Parse(s string) (KID, error) {
	if len(s) != TotalLen {
		return "", fmt.Errorf("invalid kid %q: want length %d", s, TotalLen)
	}
	if !validPrefix(s[:PrefixLen]) {
		return "", fmt.Errorf("invalid kid %q: bad type prefix", s)
	}
	for i := PrefixLen; i < TotalLen; i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return "", fmt.Errorf("invalid kid %q: bad sequence character at %d", s, i)
		}
	}
	return KID(s), nil
}

// IsValid reports whether s parses as a KID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Prefix returns the 3-character type prefix. Empty for malformed values.
func (k KID) Prefix() string {
	if len(k) != TotalLen {
		return ""
	}
	return string(k[:PrefixLen])
}

// Seq decodes the sequence number portion.
func (k KID) Seq() uint64 {
	var n uint64
	for i := PrefixLen; i < len(k); i++ {
		n = n*26 + uint64(k[i]-'a')
	}
	return n
}

// String returns the identifier text.
func (k KID) String() string { return string(k) }

// encodeSeq renders seq as SeqLen base-26 letters, big-endian, zero-padded
// with 'a'.
func encodeSeq(seq uint64) string {
	var b [SeqLen]byte
	for i := SeqLen - 1; i >= 0; i-- {
		b[i] = byte('a' + seq%26)
		seq /= 26
	}
	return string(b[:])
}

func validPrefix(p string) bool {
	if len(p) != PrefixLen {
		return false
	}
	for i := 0; i < PrefixLen; i++ {
		if p[i] < 'a' || p[i] > 'z' {
			return false
		}
	}
	return true
}

// DerivePrefix proposes a type prefix from an api name: the first three
// letters, lowercased and padded with 'x'. Collisions are resolved by the
// caller (the registry owns prefix uniqueness).
func DerivePrefix(apiName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(apiName) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
			if b.Len() == PrefixLen {
				break
			}
		}
	}
	for b.Len() < PrefixLen {
		b.WriteByte('x')
	}
	return b.String()
}

// NextPrefix returns the lexicographically next prefix after p, used to walk
// out of a collision ("pig" -> "pih", "piz" -> "pja").
func NextPrefix(p string) string {
	b := []byte(p)
	for i := PrefixLen - 1; i >= 0; i-- {
		if b[i] < 'z' {
			b[i]++
			return string(b)
		}
		b[i] = 'a'
	}
	return string(b)
}
