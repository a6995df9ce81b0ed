// Package captcha implements the arithmetic challenge gate that guests must
// pass before their messages are relayed.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
)

// CommandNewChallenge replaces the pending challenge with a fresh one.
const CommandNewChallenge = "/captcha"

// Challenge is the persisted question/answer pair of a chat.
type Challenge struct {
	Question string `json:"question"`
	Answer   int    `json:"answer"`
}

// Generate produces an arithmetic challenge with two operands in [1,9] and a
// + or - operator. Non-positive results are rejected and redrawn; the loop is
// bounded, with an addition fallback that is always positive.
func Generate(intN func(int) int) Challenge {
	for i := 0; i < 64; i++ {
		a := intN(9) + 1
		b := intN(9) + 1
		op := "+"
		answer := a + b
		if intN(2) == 1 {
			op = "-"
			answer = a - b
		}
		if answer <= 0 {
			continue
		}
		return Challenge{
			Question: fmt.Sprintf("%d %s %d = ?", a, op, b),
			Answer:   answer,
		}
	}
	a, b := intN(9)+1, intN(9)+1
	return Challenge{Question: fmt.Sprintf("%d + %d = ?", a, b), Answer: a + b}
}

// Messenger delivers a single text message to a chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Config carries the challenge budgets and trust windows.
type Config struct {
	MaxAttempts  int
	ChallengeTTL time.Duration
	VerifiedTTL  time.Duration
}

// State classifies a chat against the challenge gate.
type State int

const (
	// StateNew means the chat is unverified and has no pending challenge.
	StateNew State = iota
	// StateChallenged means an unanswered challenge is outstanding.
	StateChallenged
	// StateVerified means the chat passed a challenge within the trust window.
	StateVerified
)

// Engine owns the per-chat verification state machine.
type Engine struct {
	kv   *storage.KV
	msg  Messenger
	cfg  Config
	intN func(int) int
}

// NewEngine builds an Engine on top of the shared key-value substrate.
func NewEngine(kv *storage.KV, msg Messenger, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 10 * time.Minute
	}
	if cfg.VerifiedTTL <= 0 {
		cfg.VerifiedTTL = 30 * 24 * time.Hour
	}
	return &Engine{kv: kv, msg: msg, cfg: cfg, intN: rand.IntN}
}

// State derives the gate state from one pipelined read. A live verified mark
// wins over a stale challenge so partial writes cannot be misread.
func (e *Engine) State(ctx context.Context, chatID int64) (State, error) {
	vals, err := e.kv.MGetStrings(ctx, storage.VerifiedKey(chatID), storage.ChallengeKey(chatID))
	if err != nil {
		return StateNew, err
	}
	if vals[0] != nil {
		return StateVerified, nil
	}
	if vals[1] != nil {
		return StateChallenged, nil
	}
	return StateNew, nil
}

// Verified reports whether the chat currently holds a verified mark.
func (e *Engine) Verified(ctx context.Context, chatID int64) (bool, error) {
	st, err := e.State(ctx, chatID)
	if err != nil {
		return false, err
	}
	return st == StateVerified, nil
}

// Issue creates a fresh challenge when forceNew is set or none is pending,
// otherwise it reminds the guest of the outstanding question. Exactly one
// message is sent per invocation.
func (e *Engine) Issue(ctx context.Context, chatID int64, forceNew bool) error {
	var pending Challenge
	found := false
	if !forceNew {
		var err error
		found, err = e.kv.GetJSON(ctx, storage.ChallengeKey(chatID), &pending)
		if err != nil {
			return err
		}
	}

	if !found {
		ch := Generate(e.intN)
		if err := e.kv.PutJSON(ctx, storage.ChallengeKey(chatID), ch, e.cfg.ChallengeTTL); err != nil {
			return err
		}
		if err := e.kv.PutString(ctx, storage.AttemptsKey(chatID), strconv.Itoa(e.cfg.MaxAttempts), e.cfg.ChallengeTTL); err != nil {
			return err
		}
		logger.Captcha.Info("challenge issued",
			slog.String("event", "challenge.issued"),
			slog.Int64("chat_id", chatID),
			slog.Int("attempts_left", e.cfg.MaxAttempts),
		)
		return e.msg.SendText(ctx, chatID, fmt.Sprintf(promptText, ch.Question))
	}

	// The counter expires together with the challenge; restore it if a
	// partial expiry left the challenge alone.
	if _, ok, err := e.kv.GetString(ctx, storage.AttemptsKey(chatID)); err != nil {
		return err
	} else if !ok {
		if err := e.kv.PutString(ctx, storage.AttemptsKey(chatID), strconv.Itoa(e.cfg.MaxAttempts), e.cfg.ChallengeTTL); err != nil {
			return err
		}
	}
	logger.Captcha.Debug("challenge reminder",
		slog.String("event", "challenge.reminder"),
		slog.Int64("chat_id", chatID),
	)
	return e.msg.SendText(ctx, chatID, fmt.Sprintf(reminderText, pending.Question))
}

// Evaluate grades a guest submission against the pending challenge. It is the
// gate entry point for every guest message while unverified and reports
// whether the chat became verified by this submission.
// Exactly one message is sent per invocation.
func (e *Engine) Evaluate(ctx context.Context, chatID int64, rawText string) (bool, error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return false, e.Issue(ctx, chatID, false)
	}
	if text == CommandNewChallenge {
		return false, e.Issue(ctx, chatID, true)
	}

	var pending Challenge
	found, err := e.kv.GetJSON(ctx, storage.ChallengeKey(chatID), &pending)
	if err != nil {
		return false, err
	}
	if !found {
		// Expired or never issued; start over.
		return false, e.Issue(ctx, chatID, true)
	}

	answer, err := strconv.ParseFloat(text, 64)
	// ParseFloat accepts "NaN" and "Inf" spellings; those are not answers
	// and must not burn an attempt.
	if err != nil || math.IsNaN(answer) || math.IsInf(answer, 0) {
		logger.Captcha.Debug("non-numeric answer",
			slog.String("event", "verify.format"),
			slog.Int64("chat_id", chatID),
		)
		return false, e.msg.SendText(ctx, chatID, formatText)
	}

	if answer == float64(pending.Answer) {
		days := int(e.cfg.VerifiedTTL.Hours() / 24)
		if err := e.kv.PutString(ctx, storage.VerifiedKey(chatID), "1", e.cfg.VerifiedTTL); err != nil {
			return false, err
		}
		if err := e.kv.Delete(ctx, storage.ChallengeKey(chatID), storage.AttemptsKey(chatID)); err != nil {
			return false, err
		}
		logger.Captcha.Info("chat verified",
			slog.String("event", "verify.ok"),
			slog.Int64("chat_id", chatID),
		)
		return true, e.msg.SendText(ctx, chatID, fmt.Sprintf(successText, days))
	}

	remaining, err := e.kv.Decr(ctx, storage.AttemptsKey(chatID))
	if err != nil {
		return false, err
	}
	if remaining < 0 {
		// The counter expired while the challenge stayed alive. A missing
		// counter means the full budget, so this wrong answer is the first.
		remaining = int64(e.cfg.MaxAttempts - 1)
		if err := e.kv.PutString(ctx, storage.AttemptsKey(chatID), strconv.FormatInt(remaining, 10), e.cfg.ChallengeTTL); err != nil {
			return false, err
		}
	}
	if remaining > 0 {
		logger.Captcha.Info("wrong answer",
			slog.String("event", "verify.wrong"),
			slog.Int64("chat_id", chatID),
			slog.Int64("attempts_left", remaining),
		)
		return false, e.msg.SendText(ctx, chatID, fmt.Sprintf(wrongText, remaining))
	}

	// Budget exhausted: reset with a fresh challenge and full budget, in a
	// single outbound message.
	if err := e.kv.Delete(ctx, storage.ChallengeKey(chatID), storage.AttemptsKey(chatID)); err != nil {
		return false, err
	}
	ch := Generate(e.intN)
	if err := e.kv.PutJSON(ctx, storage.ChallengeKey(chatID), ch, e.cfg.ChallengeTTL); err != nil {
		return false, err
	}
	if err := e.kv.PutString(ctx, storage.AttemptsKey(chatID), strconv.Itoa(e.cfg.MaxAttempts), e.cfg.ChallengeTTL); err != nil {
		return false, err
	}
	logger.Captcha.Info("attempts exhausted",
		slog.String("event", "verify.exhausted"),
		slog.Int64("chat_id", chatID),
	)
	return false, e.msg.SendText(ctx, chatID, fmt.Sprintf(exhaustedText, ch.Question))
}

const (
	promptText = "To keep bots out, please solve a quick arithmetic check first:\n\n%s\n\nReply with just the number (e.g. 8)."

	reminderText = "Please finish the current check before we continue: %s\nReply with just the number, or send /captcha for a new question."

	formatText = "Please reply with just a number (e.g. 8). Send /captcha if you want a new question."

	successText = "✅ Verified! You can message me directly for the next %d days.\nPlease resend your message."

	wrongText = "❌ Wrong answer, %d attempts left. Try again, or send /captcha for a new question."

	exhaustedText = "❌ Wrong answer and no attempts left. Here is a new question:\n\n%s\n\nReply with just the number."
)
