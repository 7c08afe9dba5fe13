package checkout

import (
	"crypto/rand"
	"fmt"
	"time"
)

// crockford omits I, L, O and U.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXX for the UTC date of now.
func NewOrderNumber(now time.Time) (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("order number entropy: %w", err)
	}
	suffix := make([]byte, len(b))
	for i, v := range b {
		suffix[i] = crockford[int(v)%len(crockford)]
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + string(suffix), nil
}
