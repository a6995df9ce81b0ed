package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/relaybot/core/storage"
)

type recordedEvent struct {
	chatID  int64
	action  string
	actorID int64
}

type fakeJournal struct {
	events []recordedEvent
	err    error
}

func (f *fakeJournal) Record(_ context.Context, chatID int64, action string, actorID int64) error {
	f.events = append(f.events, recordedEvent{chatID: chatID, action: action, actorID: actorID})
	return f.err
}

const adminID int64 = 99

func newTestStore(t *testing.T) (*Store, *fakeJournal) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := storage.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	j := &fakeJournal{}
	return NewStore(kv, j, adminID), j
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	s, j := newTestStore(t)
	ctx := context.Background()

	if blocked, err := s.IsBlocked(ctx, 42); err != nil || blocked {
		t.Fatalf("IsBlocked before block = (%v, %v)", blocked, err)
	}
	if err := s.Block(ctx, 42, adminID); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blocked, err := s.IsBlocked(ctx, 42); err != nil || !blocked {
		t.Fatalf("IsBlocked after block = (%v, %v), want true", blocked, err)
	}
	if err := s.Unblock(ctx, 42, adminID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if blocked, err := s.IsBlocked(ctx, 42); err != nil || blocked {
		t.Fatalf("IsBlocked after unblock = (%v, %v), want false", blocked, err)
	}

	want := []recordedEvent{
		{chatID: 42, action: "block", actorID: adminID},
		{chatID: 42, action: "unblock", actorID: adminID},
	}
	if len(j.events) != len(want) {
		t.Fatalf("journal = %+v, want %+v", j.events, want)
	}
	for i := range want {
		if j.events[i] != want[i] {
			t.Fatalf("journal[%d] = %+v, want %+v", i, j.events[i], want[i])
		}
	}
}

func TestBlockAdminRefused(t *testing.T) {
	s, j := newTestStore(t)
	ctx := context.Background()

	if err := s.Block(ctx, adminID, adminID); !errors.Is(err, ErrSelfBlock) {
		t.Fatalf("Block(admin) = %v, want ErrSelfBlock", err)
	}
	if blocked, _ := s.IsBlocked(ctx, adminID); blocked {
		t.Fatal("admin chat ended up blocked")
	}
	if len(j.events) != 0 {
		t.Fatalf("journal = %+v, want empty", j.events)
	}
}

func TestUnblockNeverBlockedIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Unblock(ctx, 42, adminID); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if blocked, err := s.IsBlocked(ctx, 42); err != nil || blocked {
		t.Fatalf("IsBlocked = (%v, %v), want false", blocked, err)
	}
}

func TestJournalFailureDoesNotBlockDecision(t *testing.T) {
	s, j := newTestStore(t)
	j.err = errors.New("db down")
	ctx := context.Background()

	if err := s.Block(ctx, 42, adminID); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if blocked, _ := s.IsBlocked(ctx, 42); !blocked {
		t.Fatal("block mark missing after journal failure")
	}
}
