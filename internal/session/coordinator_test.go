package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ej0e1/tbot/internal/model"
	"github.com/ej0e1/tbot/internal/retrieval"
	"github.com/ej0e1/tbot/internal/storage/sqlite"

	"go.uber.org/zap"
)

type sent struct {
	ref     MessageRef
	text    string
	buttons []Button
}

type fakeFrontEnd struct {
	mu      sync.Mutex
	nextID  int
	sent    []sent
	edited  []sent
	deleted []MessageRef

	sendErr error
	editErr error
	// rejectURL fails every send that carries a URL button
	rejectURL error
}

func (f *fakeFrontEnd) Send(ctx context.Context, chatID int64, text string, buttons []Button) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return MessageRef{}, f.sendErr
	}
	for _, b := range buttons {
		if b.URL != "" && f.rejectURL != nil {
			return MessageRef{}, f.rejectURL
		}
	}
	f.nextID++
	ref := MessageRef{ChatID: chatID, MessageID: f.nextID}
	f.sent = append(f.sent, sent{ref: ref, text: text, buttons: buttons})
	return ref, nil
}

func (f *fakeFrontEnd) Edit(ctx context.Context, ref MessageRef, text string, buttons []Button) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return MessageRef{}, f.editErr
	}
	f.edited = append(f.edited, sent{ref: ref, text: text, buttons: buttons})
	return ref, nil
}

func (f *fakeFrontEnd) Delete(ctx context.Context, ref MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeFrontEnd) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeRetriever struct {
	status  model.Status
	payload string
	err     error

	mu     sync.Mutex
	owners []string
	keys   []string
}

func (f *fakeRetriever) Lookup(ctx context.Context, key, owner string) (*model.RetrievalRequest, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.owners = append(f.owners, owner)
	f.mu.Unlock()
	req, _ := model.NewRetrievalRequest(key, owner, time.Second, time.Now())
	switch f.status {
	case model.StatusDelivered:
		req.Deliver(req.RecordID, f.payload)
	case model.StatusFailed:
		req.Fail(f.err)
		return req, f.err
	default:
		req.Expire()
	}
	return req, nil
}

func TestSubmitKey_Delivered(t *testing.T) {
	fe := &fakeFrontEnd{}
	c := NewCoordinator(Config{}, &fakeRetriever{status: model.StatusDelivered, payload: "https://x/y"}, fe, zap.NewNop())

	if err := c.SubmitKey(context.Background(), 42, "a@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fe.sent) != 2 || fe.sent[0].text != TextSearching {
		t.Fatalf("expected waiting indicator then outcome, got %#v", fe.sent)
	}
	if len(fe.deleted) != 1 || fe.deleted[0] != fe.sent[0].ref {
		t.Fatalf("waiting indicator must be deleted, got %#v", fe.deleted)
	}
	out := fe.last()
	if out.text != TextFound || len(out.buttons) != 1 || out.buttons[0].URL != "https://x/y" || out.buttons[0].Data != "" {
		t.Fatalf("unexpected outcome message: %#v", out)
	}
}

func TestSubmitKey_DeliveredFallsBackToPlainText(t *testing.T) {
	fe := &fakeFrontEnd{rejectURL: errors.New("Bad Request: BUTTON_URL_INVALID")}
	c := NewCoordinator(Config{}, &fakeRetriever{status: model.StatusDelivered, payload: "opaque-token-123"}, fe, zap.NewNop())

	if err := c.SubmitKey(context.Background(), 42, "a@x.com"); err != nil {
		t.Fatalf("plain text fallback should succeed: %v", err)
	}
	out := fe.last()
	if out.text != TextFound+"\nopaque-token-123" || len(out.buttons) != 0 {
		t.Fatalf("payload must reach the user as text, got %#v", out)
	}
}

func TestSubmitKey_WhitespaceKeyAsksForEmail(t *testing.T) {
	fe := &fakeFrontEnd{}
	r := &fakeRetriever{}
	c := NewCoordinator(Config{}, r, fe, zap.NewNop())

	if err := c.SubmitKey(context.Background(), 42, "   "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.keys) != 0 {
		t.Fatal("no retrieval for an empty key")
	}
	if len(fe.sent) != 1 || fe.sent[0].text != TextNeedEmail {
		t.Fatalf("expected a prompt for an email, got %#v", fe.sent)
	}
}

func TestSearch_EmptyKeyErrorAsksForEmail(t *testing.T) {
	fe := &fakeFrontEnd{}
	c := NewCoordinator(Config{}, emptyKeyRetriever{}, fe, zap.NewNop())

	if err := c.search(context.Background(), 42, MessageRef{ChatID: 42, MessageID: 1}, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fe.last().text != TextNeedEmail {
		t.Fatalf("expected a prompt for an email, got %#v", fe.last())
	}
}

type emptyKeyRetriever struct{}

func (emptyKeyRetriever) Lookup(ctx context.Context, key, owner string) (*model.RetrievalRequest, error) {
	return nil, model.ErrEmptyKey
}

func TestSubmitKey_ExpiredOffersRetry(t *testing.T) {
	fe := &fakeFrontEnd{}
	c := NewCoordinator(Config{}, &fakeRetriever{status: model.StatusExpired}, fe, zap.NewNop())

	if err := c.SubmitKey(context.Background(), 42, "a@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := fe.last()
	if out.text != TextNotFound || len(out.buttons) != 1 {
		t.Fatalf("unexpected outcome message: %#v", out)
	}
	key, err := DecodeRetry(out.buttons[0].Data)
	if err != nil || key != "a@x.com" {
		t.Fatalf("retry button must carry the key: %q %v", key, err)
	}
	if len(fe.deleted) != 1 {
		t.Fatal("waiting indicator must be deleted")
	}
}

func TestSubmitKey_ExpiredWithOversizedKeyHasNoRetryButton(t *testing.T) {
	fe := &fakeFrontEnd{}
	c := NewCoordinator(Config{}, &fakeRetriever{status: model.StatusExpired}, fe, zap.NewNop())
	long := "a-very-long-local-part-that-will-not-fit-in-callback-data@example.com"

	if err := c.SubmitKey(context.Background(), 42, long); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := fe.last()
	if out.text != TextNotFound || len(out.buttons) != 0 {
		t.Fatalf("expected not-found without buttons, got %#v", out)
	}
}

func TestSubmitKey_FailedShowsGenericError(t *testing.T) {
	fe := &fakeFrontEnd{}
	c := NewCoordinator(Config{}, &fakeRetriever{status: model.StatusFailed, err: errors.New("pq: password authentication failed")}, fe, zap.NewNop())

	if err := c.SubmitKey(context.Background(), 42, "a@x.com"); err != nil {
		t.Fatalf("failure is rendered, not returned: %v", err)
	}
	out := fe.last()
	if out.text != TextFailed || len(out.buttons) != 0 {
		t.Fatalf("unexpected failure message: %#v", out)
	}
	if len(fe.deleted) != 1 {
		t.Fatal("waiting indicator must be deleted on failure")
	}
}

func TestSubmitKey_WaitingIndicatorSendFails(t *testing.T) {
	fe := &fakeFrontEnd{sendErr: errors.New("telegram down")}
	r := &fakeRetriever{status: model.StatusExpired}
	c := NewCoordinator(Config{}, r, fe, zap.NewNop())

	if err := c.SubmitKey(context.Background(), 42, "a@x.com"); err == nil {
		t.Fatal("expected error")
	}
	if len(r.keys) != 0 {
		t.Fatal("no retrieval should start without a waiting indicator")
	}
}

func TestSubmitKey_ScopeByOwner(t *testing.T) {
	r := &fakeRetriever{status: model.StatusExpired}
	c := NewCoordinator(Config{ScopeByOwner: true}, r, &fakeFrontEnd{}, zap.NewNop())
	_ = c.SubmitKey(context.Background(), 42, "a@x.com")

	c = NewCoordinator(Config{}, r, &fakeFrontEnd{}, zap.NewNop())
	_ = c.SubmitKey(context.Background(), 42, "a@x.com")

	if r.owners[0] != "42" || r.owners[1] != "" {
		t.Fatalf("unexpected owners: %#v", r.owners)
	}
}

func TestRetry_EditsClickedMessage(t *testing.T) {
	fe := &fakeFrontEnd{}
	r := &fakeRetriever{status: model.StatusDelivered, payload: "https://x/y"}
	c := NewCoordinator(Config{}, r, fe, zap.NewNop())
	clicked := MessageRef{ChatID: 42, MessageID: 7}

	if err := c.Retry(context.Background(), clicked, "try_again:v1:a@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fe.edited) != 1 || fe.edited[0].ref != clicked || fe.edited[0].text != TextSearching || fe.edited[0].buttons != nil {
		t.Fatalf("clicked message must become the waiting indicator, got %#v", fe.edited)
	}
	if len(fe.deleted) != 1 || fe.deleted[0] != clicked {
		t.Fatalf("edited indicator must be deleted, got %#v", fe.deleted)
	}
	if r.keys[0] != "a@x.com" {
		t.Fatalf("retry must search the encoded key, got %q", r.keys[0])
	}
	if fe.last().text != TextFound {
		t.Fatalf("unexpected outcome: %#v", fe.last())
	}
}

func TestRetry_FallsBackToSendWhenEditUnsupported(t *testing.T) {
	fe := &fakeFrontEnd{editErr: ErrEditUnsupported}
	c := NewCoordinator(Config{}, &fakeRetriever{status: model.StatusExpired}, fe, zap.NewNop())

	if err := c.Retry(context.Background(), MessageRef{ChatID: 42, MessageID: 7}, "try_again:a@x.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fe.sent) != 2 || fe.sent[0].text != TextSearching {
		t.Fatalf("expected a new waiting indicator, got %#v", fe.sent)
	}
	if fe.deleted[0] != fe.sent[0].ref {
		t.Fatal("the new indicator must be the one deleted")
	}
}

func TestRetry_BadData(t *testing.T) {
	r := &fakeRetriever{}
	c := NewCoordinator(Config{}, r, &fakeFrontEnd{}, zap.NewNop())
	if err := c.Retry(context.Background(), MessageRef{ChatID: 1}, "nope"); !errors.Is(err, ErrNotRetry) {
		t.Fatalf("expected ErrNotRetry, got %v", err)
	}
	if len(r.keys) != 0 {
		t.Fatal("no retrieval for bad callback data")
	}
}

func TestGreet(t *testing.T) {
	fe := &fakeFrontEnd{}
	c := NewCoordinator(Config{}, &fakeRetriever{}, fe, zap.NewNop())
	if err := c.Greet(context.Background(), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fe.last().text != TextGreeting {
		t.Fatalf("unexpected greeting %q", fe.last().text)
	}
}

func TestSubmitThenRetry_WithEngine(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "tbot.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer store.Close()

	engine := retrieval.New(retrieval.Config{Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond}, store, nil, zap.NewNop())
	fe := &fakeFrontEnd{}
	c := NewCoordinator(Config{}, engine, fe, zap.NewNop())

	if err := c.SubmitKey(ctx, 42, "a@x.com"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	notFound := fe.last()
	if notFound.text != TextNotFound {
		t.Fatalf("expected not found, got %#v", notFound)
	}

	d, _ := model.NewPendingDelivery("a@x.com", "", "https://x/y")
	if err := store.Insert(ctx, d); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := c.Retry(ctx, notFound.ref, notFound.buttons[0].Data); err != nil {
		t.Fatalf("retry: %v", err)
	}
	found := fe.last()
	if found.text != TextFound || found.buttons[0].URL != "https://x/y" {
		t.Fatalf("expected link after retry, got %#v", found)
	}
}
