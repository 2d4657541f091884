// ABOUTME: Execution id generation backed by random UUIDs.
// ABOUTME: Falls back to a pid/time/counter id when the random source fails.

package engine

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var fallbackSeq atomic.Uint64

// NewID returns a fresh execution id.
func NewID() string {
	return newIDFromReader(rand.Reader)
}

func newIDFromReader(r io.Reader) string {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return fallbackID()
	}
	return id.String()
}

// fallbackID is unique within the process and ordered by creation.
func fallbackID() string {
	return fmt.Sprintf("%d-%x-%d", os.Getpid(), time.Now().UnixNano(), fallbackSeq.Add(1))
}
