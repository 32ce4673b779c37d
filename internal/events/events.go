// Package events publishes library activity to kafka.
package events

import (
	"context"
	"time"

	"github.com/Skotchmaster/bookshelf/internal/logging"
)

const (
	UserRegistered = "user_registered"
	UserLoggedIn   = "user_logged_in"
	BookUploaded   = "book_uploaded"
	BookUpdated    = "book_updated"
	BookDeleted    = "book_deleted"
)

const publishTimeout = 5 * time.Second

type Event struct {
	Type     string    `json:"type"`
	UserID   uint      `json:"user_id"`
	Username string    `json:"username,omitempty"`
	BookID   string    `json:"book_id,omitempty"`
	At       time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes ev with a bounded timeout. Failures are logged and never
// returned: an event that cannot be delivered must not fail the request.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "event", ev.Type, "error", err)
	}
}
