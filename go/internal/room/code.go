package room

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// codeAlphabet excludes 0/O and 1/I so codes survive being read aloud or
// scribbled on a whiteboard.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// GenerateCode returns a fresh shareable room code, grouped XXX-XXX. Codes
// are only probabilistically unique; the registry retries on collision.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(codeLength + 1)
	for i := 0; i < codeLength; i++ {
		if i == codeLength/2 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			// crypto/rand only fails if the platform entropy source is
			// broken; nothing sensible to do but stop.
			panic(err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

// NormalizeCode maps user-entered codes onto the stored form. Format
// validation is a UX concern; malformed codes simply miss on lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
