// Package relay forwards guest messages to the administrator and routes the
// administrator's replies back through a persisted message route map.
package relay

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
)

// API is the minimal Telegram surface the router needs.
type API interface {
	// Forward mirrors a message into another chat with the "forwarded from"
	// header and returns the message ID it received in the target chat.
	Forward(ctx context.Context, toChat, fromChat int64, messageID int) (int, error)
	// Copy re-sends a message into another chat without the forward header.
	Copy(ctx context.Context, toChat, fromChat int64, messageID int) error
}

// Router owns the guest/admin relay in both directions.
type Router struct {
	kv       *storage.KV
	api      API
	adminID  int64
	routeTTL time.Duration
}

// NewRouter builds a Router. routeTTL bounds how long an admin reply can
// still reach its guest; it matches the verified trust window by default.
func NewRouter(kv *storage.KV, api API, adminID int64, routeTTL time.Duration) *Router {
	if routeTTL <= 0 {
		routeTTL = 30 * 24 * time.Hour
	}
	return &Router{kv: kv, api: api, adminID: adminID, routeTTL: routeTTL}
}

// GuestToAdmin forwards a guest message to the administrator and records the
// forwarded message ID so a later admin reply can find its way back. A failed
// route write keeps the forward but loses reply routing for that message.
func (r *Router) GuestToAdmin(ctx context.Context, guestChat int64, messageID int) error {
	fwdID, err := r.api.Forward(ctx, r.adminID, guestChat, messageID)
	if err != nil {
		logger.Relay.Warn("forward failed",
			slog.String("event", "forward.fail"),
			slog.Int64("guest_chat", guestChat),
			slog.Int("message_id", messageID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if err := r.kv.PutString(ctx, storage.RouteKey(fwdID), strconv.FormatInt(guestChat, 10), r.routeTTL); err != nil {
		logger.Relay.Error("route record failed",
			slog.String("event", "route.store.fail"),
			slog.Int64("guest_chat", guestChat),
			slog.Int("forwarded_id", fwdID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Relay.Info("guest message forwarded",
		slog.String("event", "forward.ok"),
		slog.Int64("guest_chat", guestChat),
		slog.Int("message_id", messageID),
		slog.Int("forwarded_id", fwdID),
	)
	return nil
}

// Resolve maps a message ID in the admin chat back to the guest chat it was
// forwarded from. ok is false when no live route record exists.
func (r *Router) Resolve(ctx context.Context, adminMessageID int) (guestChat int64, ok bool, err error) {
	raw, found, err := r.kv.GetString(ctx, storage.RouteKey(adminMessageID))
	if err != nil || !found {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Relay.Error("corrupt route record",
			slog.String("event", "route.corrupt"),
			slog.Int("forwarded_id", adminMessageID),
			slog.String("value", raw),
		)
		return 0, false, nil
	}
	return id, true, nil
}

// AdminReplyToGuest delivers an admin reply to the guest resolved from the
// replied-to message. A missing or expired route is a logged no-op so the
// admin chat stays quiet on stale replies.
func (r *Router) AdminReplyToGuest(ctx context.Context, messageID, repliedToID int) error {
	guestChat, ok, err := r.Resolve(ctx, repliedToID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Relay.Debug("reply without route",
			slog.String("event", "route.miss"),
			slog.Int("reply_to", repliedToID),
		)
		return nil
	}
	if err := r.api.Copy(ctx, guestChat, r.adminID, messageID); err != nil {
		logger.Relay.Warn("reply delivery failed",
			slog.String("event", "reply.fail"),
			slog.Int64("guest_chat", guestChat),
			slog.Int("message_id", messageID),
			slog.String("error", err.Error()),
		)
		return err
	}
	logger.Relay.Info("admin reply delivered",
		slog.String("event", "reply.ok"),
		slog.Int64("guest_chat", guestChat),
		slog.Int("reply_to", repliedToID),
	)
	return nil
}
