package ids

import (
	"crypto/rand"
	"encoding/hex"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const anonymousPrefix = "anon-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Token returns n bytes from crypto/rand encoded as lower-case hex.
func Token(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Anonymous synthesizes a voter key for ballots cast without a roll number.
func Anonymous() string {
	return anonymousPrefix + New()
}

// IsAnonymous reports whether key was produced by Anonymous.
func IsAnonymous(key string) bool {
	return len(key) > len(anonymousPrefix) && key[:len(anonymousPrefix)] == anonymousPrefix
}
