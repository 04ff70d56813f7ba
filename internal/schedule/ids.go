package schedule

import (
	"errors"

	"github.com/google/uuid"
)

const defaultIDAttempts = 8

// ErrIDExhausted means every candidate id collided.
var ErrIDExhausted = errors.New("job id generation exhausted retries")

// IDGenerator issues opaque job ids (UUIDv4) that avoid ids already taken.
type IDGenerator struct {
	newID    func() string
	attempts int
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{newID: uuid.NewString, attempts: defaultIDAttempts}
}

// Next returns the first candidate for which taken reports false.
func (g *IDGenerator) Next(taken func(id string) bool) (string, error) {
	for i := 0; i < g.attempts; i++ {
		id := g.newID()
		if id != "" && (taken == nil || !taken(id)) {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}
