// Package bot classifies inbound Telegram updates and drives the captcha
// gate, the guest/admin relay and moderation commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
	tgsender "github.com/m3rciful/relaybot/core/telegram/sender"
	"github.com/m3rciful/relaybot/internal/captcha"
	"github.com/m3rciful/relaybot/internal/moderation"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/texts"
)

const (
	CmdStart      = "/start"
	CmdBlock      = "/block"
	CmdUnblock    = "/unblock"
	CmdCheckBlock = "/checkblock"
)

// ReplyRef points at the message an inbound message replies to.
type ReplyRef struct {
	MessageID int
}

// Inbound is a normalized message update, decoupled from the transport.
type Inbound struct {
	UpdateID  int
	MessageID int
	ChatID    int64
	SenderID  int64
	Text      string
	ReplyTo   *ReplyRef
}

// Messenger delivers a single text message to a chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Options wires a Dispatcher.
type Options struct {
	AdminID         int64
	CaptchaDisabled bool
	NotifyDisabled  bool
	NotifyInterval  time.Duration

	KV         *storage.KV
	Engine     *captcha.Engine
	Router     *relay.Router
	Moderation *moderation.Store
	Texts      *texts.Fetcher
	Messenger  Messenger
	// Async, when set, carries non-critical sends off the update path.
	Async *tgsender.Dispatcher
}

// Dispatcher is the single branching authority over inbound messages. Every
// update flows through HandleMessage exactly once.
type Dispatcher struct {
	opts Options
}

// NewDispatcher builds a Dispatcher from fully constructed components.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.NotifyInterval <= 0 {
		opts.NotifyInterval = time.Hour
	}
	return &Dispatcher{opts: opts}
}

// HandleMessage routes one inbound message. Updates without a resolvable
// sender and chat are discarded without a reply.
func (d *Dispatcher) HandleMessage(ctx context.Context, m Inbound) error {
	if m.ChatID == 0 || m.SenderID == 0 {
		logger.Debug(ctx, "bot", "update.discard",
			slog.Int("update_id", m.UpdateID),
		)
		return nil
	}

	// Commands match exactly; "/start something" is an ordinary message.
	if strings.TrimSpace(m.Text) == CmdStart {
		return d.handleStart(ctx, m)
	}
	if m.SenderID == d.opts.AdminID {
		return d.handleAdmin(ctx, m)
	}
	return d.handleGuest(ctx, m)
}

// handleStart always answers with the greeting; unverified guests get a
// fresh challenge right after it.
func (d *Dispatcher) handleStart(ctx context.Context, m Inbound) error {
	greeting := d.opts.Texts.Greeting(ctx)
	if err := d.opts.Messenger.SendText(ctx, m.ChatID, greeting); err != nil {
		return err
	}
	if m.SenderID == d.opts.AdminID || d.opts.CaptchaDisabled {
		return nil
	}
	verified, err := d.opts.Engine.Verified(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if verified {
		return nil
	}
	return d.opts.Engine.Issue(ctx, m.ChatID, true)
}

func (d *Dispatcher) handleAdmin(ctx context.Context, m Inbound) error {
	switch cmd := strings.TrimSpace(m.Text); cmd {
	case CmdBlock, CmdUnblock, CmdCheckBlock:
		if m.ReplyTo == nil {
			// Moderation commands act on the replied-to forward only.
			logger.Debug(ctx, "bot", "moderation.no_reply",
				slog.String("action", cmd),
			)
			return nil
		}
		return d.handleModeration(ctx, cmd, m)
	}

	if m.ReplyTo != nil {
		return d.opts.Router.AdminReplyToGuest(ctx, m.MessageID, m.ReplyTo.MessageID)
	}

	// Plain admin chatter with no reply target has nowhere to go.
	logger.Debug(ctx, "bot", "admin.unroutable",
		slog.Int("message_id", m.MessageID),
	)
	return nil
}

func (d *Dispatcher) handleModeration(ctx context.Context, cmd string, m Inbound) error {
	guestChat, ok, err := d.opts.Router.Resolve(ctx, m.ReplyTo.MessageID)
	if err != nil {
		return err
	}
	if !ok {
		return d.opts.Messenger.SendText(ctx, m.ChatID, routeMissText)
	}

	switch cmd {
	case CmdBlock:
		err := d.opts.Moderation.Block(ctx, guestChat, m.SenderID)
		if errors.Is(err, moderation.ErrSelfBlock) {
			return d.opts.Messenger.SendText(ctx, m.ChatID, selfBlockText)
		}
		if err != nil {
			return err
		}
		return d.opts.Messenger.SendText(ctx, m.ChatID, fmt.Sprintf("UID:%d blocked.", guestChat))
	case CmdUnblock:
		if err := d.opts.Moderation.Unblock(ctx, guestChat, m.SenderID); err != nil {
			return err
		}
		return d.opts.Messenger.SendText(ctx, m.ChatID, fmt.Sprintf("UID:%d unblocked.", guestChat))
	default:
		blocked, err := d.opts.Moderation.IsBlocked(ctx, guestChat)
		if err != nil {
			return err
		}
		state := "no"
		if blocked {
			state = "yes"
		}
		return d.opts.Messenger.SendText(ctx, m.ChatID, fmt.Sprintf("UID:%d blocked: %s", guestChat, state))
	}
}

func (d *Dispatcher) handleGuest(ctx context.Context, m Inbound) error {
	blocked, err := d.opts.Moderation.IsBlocked(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !blocked && d.opts.Texts.IsFraud(ctx, m.ChatID) {
		logger.Info(ctx, "bot", "guest.fraud_listed",
			slog.Int64("guest_chat", m.ChatID),
		)
		blocked = true
	}
	if blocked {
		return d.opts.Messenger.SendText(ctx, m.ChatID, blockedText)
	}

	if !d.opts.CaptchaDisabled {
		verified, err := d.opts.Engine.Verified(ctx, m.ChatID)
		if err != nil {
			return err
		}
		if !verified {
			// The submission is consumed by the gate; on success the
			// guest is asked to resend the original message.
			_, err := d.opts.Engine.Evaluate(ctx, m.ChatID, m.Text)
			return err
		}
	}

	// Forward failures are logged inside the router; the notification
	// below does not depend on relay success.
	_ = d.opts.Router.GuestToAdmin(ctx, m.ChatID, m.MessageID)
	d.maybeNotify(ctx, m.ChatID)
	return nil
}

// maybeNotify sends the remote-configured auto-reply at most once per
// interval per chat. Any failure skips the cycle silently.
func (d *Dispatcher) maybeNotify(ctx context.Context, chatID int64) {
	if d.opts.NotifyDisabled {
		return
	}
	_, recent, err := d.opts.KV.GetString(ctx, storage.NotifyKey(chatID))
	if err != nil || recent {
		return
	}
	text, err := d.opts.Texts.Notification(ctx)
	if err != nil {
		return
	}
	if err := d.opts.KV.PutString(ctx, storage.NotifyKey(chatID), "1", d.opts.NotifyInterval); err != nil {
		return
	}
	send := func() error {
		return d.opts.Messenger.SendText(context.Background(), chatID, text)
	}
	if d.opts.Async != nil {
		if err := d.opts.Async.Enqueue(ctx, "notify.send", "sendMessage", send); err == nil {
			return
		}
	}
	if err := send(); err != nil {
		logger.Warn(ctx, "bot", "notify.fail",
			slog.Int64("guest_chat", chatID),
			slog.String("error", err.Error()),
		)
	}
}

const (
	blockedText   = "🚫 You are blocked from contacting the administrator."
	selfBlockText = "You cannot block your own chat."
	routeMissText = "Could not resolve that message to a guest chat; the route record may have expired."
)
