package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a fresh message identifier. Identifiers are ULIDs, so
// ids minted by one process sort in creation order and never repeat.
func NewMessageID() string {
	return newULIDAt(time.Now()).String()
}

// MessageTime extracts the creation timestamp embedded in a message id. It
// reports false when id was not produced by NewMessageID.
func MessageTime(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func newULIDAt(ts time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy)
}
