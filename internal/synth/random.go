package synth

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const hexDigits = "0123456789abcdef"

// TrackingID returns a fresh 32 character lowercase hex identifier.
func TrackingID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FakeIP returns a random dotted IPv4 address.
func FakeIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", rand.IntN(256), rand.IntN(256), rand.IntN(256), rand.IntN(256))
}

// FakeASN returns an autonomous system string shaped like "AS12345:<64 hex>".
func FakeASN() string {
	return fmt.Sprintf("AS%d:%s", 1+rand.IntN(99999), randomFrom(hexDigits, 64))
}

func randomFrom(alphabet string, n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
