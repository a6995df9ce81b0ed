package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/relaybot/core/storage"
)

type call struct {
	op        string
	toChat    int64
	fromChat  int64
	messageID int
}

type fakeAPI struct {
	calls      []call
	nextFwdID  int
	forwardErr error
	copyErr    error
}

func (f *fakeAPI) Forward(_ context.Context, toChat, fromChat int64, messageID int) (int, error) {
	f.calls = append(f.calls, call{op: "forward", toChat: toChat, fromChat: fromChat, messageID: messageID})
	if f.forwardErr != nil {
		return 0, f.forwardErr
	}
	f.nextFwdID++
	return f.nextFwdID, nil
}

func (f *fakeAPI) Copy(_ context.Context, toChat, fromChat int64, messageID int) error {
	f.calls = append(f.calls, call{op: "copy", toChat: toChat, fromChat: fromChat, messageID: messageID})
	return f.copyErr
}

const adminID int64 = 99

func newTestRouter(t *testing.T) (*Router, *fakeAPI, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := storage.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	api := &fakeAPI{nextFwdID: 100}
	return NewRouter(kv, api, adminID, 24*time.Hour), api, mr
}

func TestGuestToAdminRecordsRoute(t *testing.T) {
	r, api, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.GuestToAdmin(ctx, 42, 7); err != nil {
		t.Fatalf("GuestToAdmin: %v", err)
	}
	if len(api.calls) != 1 || api.calls[0].op != "forward" || api.calls[0].toChat != adminID {
		t.Fatalf("calls = %+v", api.calls)
	}

	guest, ok, err := r.Resolve(ctx, 101)
	if err != nil || !ok || guest != 42 {
		t.Fatalf("Resolve = (%d, %v, %v), want (42, true, nil)", guest, ok, err)
	}
}

func TestGuestToAdminForwardFailureKeepsNoRoute(t *testing.T) {
	r, api, _ := newTestRouter(t)
	api.forwardErr = errors.New("chat not found")
	ctx := context.Background()

	if err := r.GuestToAdmin(ctx, 42, 7); err == nil {
		t.Fatal("want forward error")
	}
	if _, ok, _ := r.Resolve(ctx, 101); ok {
		t.Fatal("route recorded for a failed forward")
	}
}

func TestAdminReplyRoutesBack(t *testing.T) {
	r, api, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.GuestToAdmin(ctx, 42, 7); err != nil {
		t.Fatalf("GuestToAdmin: %v", err)
	}
	if err := r.AdminReplyToGuest(ctx, 555, 101); err != nil {
		t.Fatalf("AdminReplyToGuest: %v", err)
	}
	last := api.calls[len(api.calls)-1]
	if last.op != "copy" || last.toChat != 42 || last.fromChat != adminID || last.messageID != 555 {
		t.Fatalf("copy call = %+v", last)
	}
}

func TestAdminReplyWithoutRouteIsNoop(t *testing.T) {
	r, api, _ := newTestRouter(t)
	ctx := context.Background()

	if err := r.AdminReplyToGuest(ctx, 555, 9999); err != nil {
		t.Fatalf("AdminReplyToGuest: %v", err)
	}
	if len(api.calls) != 0 {
		t.Fatalf("calls = %+v, want none", api.calls)
	}
}

func TestRouteExpires(t *testing.T) {
	r, api, mr := newTestRouter(t)
	ctx := context.Background()

	if err := r.GuestToAdmin(ctx, 42, 7); err != nil {
		t.Fatalf("GuestToAdmin: %v", err)
	}
	mr.FastForward(25 * time.Hour)

	if err := r.AdminReplyToGuest(ctx, 555, 101); err != nil {
		t.Fatalf("AdminReplyToGuest: %v", err)
	}
	for _, c := range api.calls {
		if c.op == "copy" {
			t.Fatal("expired route still delivered a reply")
		}
	}
}
