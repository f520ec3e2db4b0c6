package playback

import (
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/hush/internal/loop"
)

// Session is the loop currently installed on the deck and how it was made.
// Sessions are immutable once created.
type Session struct {
	ID        uuid.UUID
	Loop      *loop.Loop
	Params    Params
	Seed      uint64
	CreatedAt time.Time
}

func newSession(l *loop.Loop, p Params, seed uint64) *Session {
	return &Session{
		ID:        uuid.New(),
		Loop:      l,
		Params:    p,
		Seed:      seed,
		CreatedAt: time.Now(),
	}
}
