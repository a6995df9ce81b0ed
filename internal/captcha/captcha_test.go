package captcha

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/relaybot/core/storage"
)

type sentMsg struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	sent []sentMsg
}

func (f *fakeMessenger) SendText(_ context.Context, chatID int64, text string) error {
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text})
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeMessenger, *miniredis.Miniredis, *storage.KV) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := storage.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	msg := &fakeMessenger{}
	eng := NewEngine(kv, msg, Config{
		MaxAttempts:  3,
		ChallengeTTL: 10 * time.Minute,
		VerifiedTTL:  30 * 24 * time.Hour,
	})
	return eng, msg, mr, kv
}

// seed installs a known challenge so answers are predictable.
func seed(t *testing.T, eng *Engine, chatID int64, answer int) {
	t.Helper()
	ctx := context.Background()
	ch := Challenge{Question: "seeded", Answer: answer}
	if err := eng.kv.PutJSON(ctx, storage.ChallengeKey(chatID), ch, eng.cfg.ChallengeTTL); err != nil {
		t.Fatalf("seed challenge: %v", err)
	}
	if err := eng.kv.PutString(ctx, storage.AttemptsKey(chatID), strconv.Itoa(eng.cfg.MaxAttempts), eng.cfg.ChallengeTTL); err != nil {
		t.Fatalf("seed attempts: %v", err)
	}
}

func TestGeneratePositiveAnswers(t *testing.T) {
	// First draw is 1 - 1 = 0 and must be rejected; the redraw is 9 - 3.
	seq := []int{0, 0, 1, 8, 2, 1}
	i := 0
	intN := func(int) int {
		v := seq[i%len(seq)]
		i++
		return v
	}
	ch := Generate(intN)
	if ch.Answer <= 0 {
		t.Fatalf("answer = %d, want positive", ch.Answer)
	}
	if ch.Question != "9 - 3 = ?" {
		t.Fatalf("question = %q, want %q", ch.Question, "9 - 3 = ?")
	}
}

func TestIssueCreatesChallengeAndAttempts(t *testing.T) {
	eng, msg, _, kv := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Issue(ctx, 42, false); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	var ch Challenge
	found, err := kv.GetJSON(ctx, storage.ChallengeKey(42), &ch)
	if err != nil || !found {
		t.Fatalf("challenge not stored: found=%v err=%v", found, err)
	}
	if ch.Answer <= 0 {
		t.Fatalf("stored answer = %d, want positive", ch.Answer)
	}
	got, ok, err := kv.GetString(ctx, storage.AttemptsKey(42))
	if err != nil || !ok || got != "3" {
		t.Fatalf("attempts = %q ok=%v err=%v, want \"3\"", got, ok, err)
	}
	if len(msg.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msg.sent))
	}
	if !strings.Contains(msg.sent[0].text, ch.Question) {
		t.Fatalf("prompt %q does not carry question %q", msg.sent[0].text, ch.Question)
	}

	st, err := eng.State(ctx, 42)
	if err != nil || st != StateChallenged {
		t.Fatalf("state = %v err=%v, want StateChallenged", st, err)
	}
}

func TestIssueRemindsWithoutReplacing(t *testing.T) {
	eng, msg, _, kv := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7)

	if err := eng.Issue(ctx, 42, false); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	var ch Challenge
	if _, err := kv.GetJSON(ctx, storage.ChallengeKey(42), &ch); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if ch.Answer != 7 {
		t.Fatalf("challenge replaced, answer = %d", ch.Answer)
	}
	if len(msg.sent) != 1 || !strings.Contains(msg.sent[0].text, "seeded") {
		t.Fatalf("reminder = %+v, want one message with original question", msg.sent)
	}
}

func TestIssueForceNewReplaces(t *testing.T) {
	eng, _, _, kv := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7777)

	if err := eng.Issue(ctx, 42, true); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	var ch Challenge
	if _, err := kv.GetJSON(ctx, storage.ChallengeKey(42), &ch); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if ch.Answer == 7777 {
		t.Fatal("challenge was not replaced")
	}
}

func TestEvaluateCorrectAnswerVerifies(t *testing.T) {
	eng, msg, _, kv := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7)

	ok, err := eng.Evaluate(ctx, 42, " 7 ")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !ok {
		t.Fatal("correct answer not accepted")
	}
	st, err := eng.State(ctx, 42)
	if err != nil || st != StateVerified {
		t.Fatalf("state = %v err=%v, want StateVerified", st, err)
	}
	if _, found, _ := kv.GetString(ctx, storage.AttemptsKey(42)); found {
		t.Fatal("attempts counter survived verification")
	}
	if len(msg.sent) != 1 || !strings.Contains(msg.sent[0].text, "Verified") {
		t.Fatalf("confirmation = %+v", msg.sent)
	}
}

func TestEvaluateWrongAnswerDecrements(t *testing.T) {
	eng, msg, _, kv := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7)

	ok, err := eng.Evaluate(ctx, 42, "5")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Fatal("wrong answer accepted")
	}
	got, _, _ := kv.GetString(ctx, storage.AttemptsKey(42))
	if got != "2" {
		t.Fatalf("attempts = %q, want \"2\"", got)
	}
	if len(msg.sent) != 1 || !strings.Contains(msg.sent[0].text, "2 attempts left") {
		t.Fatalf("feedback = %+v", msg.sent)
	}
}

func TestEvaluateExhaustionResetsBudget(t *testing.T) {
	eng, msg, _, kv := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7)

	for i := 0; i < 3; i++ {
		if ok, err := eng.Evaluate(ctx, 42, "1"); ok || err != nil {
			t.Fatalf("attempt %d: ok=%v err=%v", i, ok, err)
		}
	}

	// A fresh challenge with a full budget must be in place.
	var ch Challenge
	found, err := kv.GetJSON(ctx, storage.ChallengeKey(42), &ch)
	if err != nil || !found {
		t.Fatalf("fresh challenge missing: found=%v err=%v", found, err)
	}
	if ch.Question == "seeded" {
		t.Fatal("exhaustion kept the old challenge")
	}
	got, _, _ := kv.GetString(ctx, storage.AttemptsKey(42))
	if got != "3" {
		t.Fatalf("attempts after reset = %q, want \"3\"", got)
	}
	last := msg.sent[len(msg.sent)-1]
	if !strings.Contains(last.text, "no attempts left") || !strings.Contains(last.text, ch.Question) {
		t.Fatalf("exhaustion message = %q", last.text)
	}
}

func TestEvaluateNonNumericKeepsBudget(t *testing.T) {
	// ParseFloat parses "NaN" and the Inf spellings without error; they
	// still must hit the format hint, not the attempt counter.
	inputs := []string{"seven", "NaN", "nan", "Inf", "+Inf", "-Inf", "Infinity"}

	eng, msg, _, kv := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7)

	for _, in := range inputs {
		if ok, err := eng.Evaluate(ctx, 42, in); ok || err != nil {
			t.Fatalf("Evaluate(%q): ok=%v err=%v", in, ok, err)
		}
	}
	got, _, _ := kv.GetString(ctx, storage.AttemptsKey(42))
	if got != "3" {
		t.Fatalf("attempts = %q, want untouched \"3\"", got)
	}
	for i, m := range msg.sent {
		if !strings.Contains(m.text, "just a number") {
			t.Fatalf("reply to %q = %q, want format hint", inputs[i], m.text)
		}
	}
}

func TestEvaluateMissingCounterRestoresBudget(t *testing.T) {
	eng, msg, _, kv := newTestEngine(t)
	ctx := context.Background()
	chatID := int64(42)

	// Challenge alive but no attempts counter, as after a counter expiry.
	ch := Challenge{Question: "seeded", Answer: 7}
	if err := eng.kv.PutJSON(ctx, storage.ChallengeKey(chatID), ch, eng.cfg.ChallengeTTL); err != nil {
		t.Fatalf("seed challenge: %v", err)
	}

	if ok, err := eng.Evaluate(ctx, chatID, "5"); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	got, _, _ := kv.GetString(ctx, storage.AttemptsKey(chatID))
	if got != "2" {
		t.Fatalf("attempts = %q, want restored \"2\"", got)
	}
	if len(msg.sent) != 1 || !strings.Contains(msg.sent[0].text, "2 attempts left") {
		t.Fatalf("feedback = %+v, want wrong-answer notice with 2 left", msg.sent)
	}
	var kept Challenge
	if found, _ := kv.GetJSON(ctx, storage.ChallengeKey(chatID), &kept); !found || kept.Answer != 7 {
		t.Fatalf("challenge = %+v found=%v, want original kept", kept, found)
	}
}

func TestEvaluateNewChallengeCommand(t *testing.T) {
	eng, _, _, kv := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7777)

	if ok, err := eng.Evaluate(ctx, 42, CommandNewChallenge); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	var ch Challenge
	if _, err := kv.GetJSON(ctx, storage.ChallengeKey(42), &ch); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if ch.Answer == 7777 {
		t.Fatal("command did not replace challenge")
	}
}

func TestEvaluateExpiredChallengeReissues(t *testing.T) {
	eng, msg, mr, _ := newTestEngine(t)
	ctx := context.Background()
	seed(t, eng, 42, 7)
	mr.FastForward(11 * time.Minute)

	ok, err := eng.Evaluate(ctx, 42, "7")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ok {
		t.Fatal("expired challenge accepted an answer")
	}
	if len(msg.sent) != 1 || !strings.Contains(msg.sent[0].text, "= ?") {
		t.Fatalf("reissue = %+v", msg.sent)
	}
}

func TestVerifiedExpires(t *testing.T) {
	eng, _, mr, kv := newTestEngine(t)
	ctx := context.Background()
	if err := kv.PutString(ctx, storage.VerifiedKey(42), "1", time.Hour); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if ok, _ := eng.Verified(ctx, 42); !ok {
		t.Fatal("verified mark not visible")
	}
	mr.FastForward(2 * time.Hour)
	if ok, _ := eng.Verified(ctx, 42); ok {
		t.Fatal("verified mark survived its TTL")
	}
}
