package moderation

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Journal records moderation decisions for later review.
type Journal interface {
	Record(ctx context.Context, chatID int64, action string, actorID int64) error
}

// NopJournal discards every record. Used when the audit database is disabled.
type NopJournal struct{}

func (NopJournal) Record(context.Context, int64, string, int64) error { return nil }

// Event is one row of the moderation audit journal.
type Event struct {
	ID         int64     `db:"id"`
	ChatID     int64     `db:"chat_id"`
	Action     string    `db:"action"`
	ActorID    int64     `db:"actor_id"`
	OccurredAt time.Time `db:"occurred_at"`
}

// PGJournal stores moderation events in Postgres.
type PGJournal struct {
	db *sqlx.DB
}

// NewPGJournal wraps an open audit database handle.
func NewPGJournal(db *sqlx.DB) *PGJournal {
	return &PGJournal{db: db}
}

func (j *PGJournal) Record(ctx context.Context, chatID int64, action string, actorID int64) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO moderation_events (chat_id, action, actor_id) VALUES ($1, $2, $3)`,
		chatID, action, actorID,
	)
	return err
}

// RecentEvents returns the newest journal rows, most recent first.
func (j *PGJournal) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []Event
	err := j.db.SelectContext(ctx, &events,
		`SELECT id, chat_id, action, actor_id, occurred_at
		   FROM moderation_events
		  ORDER BY id DESC
		  LIMIT $1`,
		limit,
	)
	return events, err
}
