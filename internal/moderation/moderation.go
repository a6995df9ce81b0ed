// Package moderation tracks which guest chats the administrator has blocked.
package moderation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
)

// ErrSelfBlock is returned when the administrator tries to block themselves.
var ErrSelfBlock = errors.New("moderation: refusing to block the administrator")

// Store persists block marks in the key-value substrate and mirrors every
// decision into the audit journal.
type Store struct {
	kv      *storage.KV
	journal Journal
	adminID int64
}

// NewStore builds a Store. journal may be a NopJournal when auditing is off.
func NewStore(kv *storage.KV, journal Journal, adminID int64) *Store {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Store{kv: kv, journal: journal, adminID: adminID}
}

// IsBlocked reports whether the chat carries a block mark. Absence of the
// mark means not blocked.
func (s *Store) IsBlocked(ctx context.Context, chatID int64) (bool, error) {
	var blocked bool
	found, err := s.kv.GetJSON(ctx, storage.BlockKey(chatID), &blocked)
	if err != nil {
		return false, err
	}
	return found && blocked, nil
}

// Block marks the chat as blocked. The mark carries no TTL; only an explicit
// Unblock clears it. Blocking the administrator's own chat is refused.
func (s *Store) Block(ctx context.Context, chatID int64, actorID int64) error {
	if chatID == s.adminID {
		return ErrSelfBlock
	}
	if err := s.kv.PutJSON(ctx, storage.BlockKey(chatID), true, 0); err != nil {
		return err
	}
	logger.Mod.Info("chat blocked",
		slog.String("event", "block"),
		slog.Int64("chat_id", chatID),
	)
	s.record(ctx, chatID, "block", actorID)
	return nil
}

// Unblock clears the block mark. Unblocking a chat that was never blocked is
// a valid no-op.
func (s *Store) Unblock(ctx context.Context, chatID int64, actorID int64) error {
	if err := s.kv.PutJSON(ctx, storage.BlockKey(chatID), false, 0); err != nil {
		return err
	}
	logger.Mod.Info("chat unblocked",
		slog.String("event", "unblock"),
		slog.Int64("chat_id", chatID),
	)
	s.record(ctx, chatID, "unblock", actorID)
	return nil
}

// Journal failures never roll back the block decision itself.
func (s *Store) record(ctx context.Context, chatID int64, action string, actorID int64) {
	if err := s.journal.Record(ctx, chatID, action, actorID); err != nil {
		logger.Mod.Warn("audit record failed",
			slog.String("event", "audit.fail"),
			slog.Int64("chat_id", chatID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
