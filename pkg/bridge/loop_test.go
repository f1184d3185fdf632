package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dteixeira/mmbridge/pkg/channels"
	"github.com/dteixeira/mmbridge/pkg/history"
	"github.com/dteixeira/mmbridge/pkg/llm"
	"github.com/dteixeira/mmbridge/pkg/media"
)

type fakeAdapter struct {
	inbound chan channels.InboundMessage
	sent    []channels.OutboundMessage
	sendErr error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{inbound: make(chan channels.InboundMessage, 8)}
}

func (f *fakeAdapter) Name() string                    { return "fake" }
func (f *fakeAdapter) Start(ctx context.Context) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error  { return nil }
func (f *fakeAdapter) Receive() <-chan channels.InboundMessage {
	return f.inbound
}
func (f *fakeAdapter) Capabilities() channels.ChannelCaps {
	return channels.ChannelCaps{}
}
func (f *fakeAdapter) Send(ctx context.Context, msg channels.OutboundMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeInvoker struct {
	resp     *llm.Response
	err      error
	requests []llm.Request
}

func (f *fakeInvoker) Name() string { return "fake-model" }
func (f *fakeInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testLoop(t *testing.T, invoker llm.Invoker, adapter channels.Adapter) (*Loop, *history.Store, *media.Store) {
	t.Helper()

	store, err := history.New(filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := media.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("media.NewStore: %v", err)
	}

	loop := NewLoop(store, cache, invoker, NewRecallPolicy(nil, nil), 3, []channels.Adapter{adapter}, nil)
	return loop, store, cache
}

func inboundText(conv, text string) channels.InboundMessage {
	return channels.InboundMessage{
		ChannelName:    "fake",
		ConversationID: conv,
		PeerID:         "peer-1",
		Text:           text,
		ReplyTargetID:  "msg-1",
		Timestamp:      time.Now().UTC(),
	}
}

func TestHandleTurnPersistsAndDelivers(t *testing.T) {
	adapter := newFakeAdapter()
	invoker := &fakeInvoker{resp: &llm.Response{Text: "a reply"}}
	loop, store, _ := testLoop(t, invoker, adapter)
	ctx := context.Background()

	if err := loop.HandleTurn(ctx, adapter, inboundText("conv-1", "hello")); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	turns, err := store.RecentTurns(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(turns))
	}
	if turns[0].Direction != history.Inbound || turns[0].Text != "hello" {
		t.Errorf("inbound turn = %+v", turns[0])
	}
	if turns[1].Direction != history.Outbound || turns[1].Text != "a reply" {
		t.Errorf("outbound turn = %+v", turns[1])
	}

	if len(adapter.sent) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(adapter.sent))
	}
	if adapter.sent[0].Text != "a reply" {
		t.Errorf("delivered text = %q", adapter.sent[0].Text)
	}
	if adapter.sent[0].ReplyTargetID != "msg-1" {
		t.Errorf("ReplyTargetID = %q, want msg-1", adapter.sent[0].ReplyTargetID)
	}
}

func TestHandleTurnModelFailurePersistsNothing(t *testing.T) {
	adapter := newFakeAdapter()
	invoker := &fakeInvoker{err: errors.New("model down")}
	loop, store, _ := testLoop(t, invoker, adapter)
	ctx := context.Background()

	if err := loop.HandleTurn(ctx, adapter, inboundText("conv-2", "hello")); err == nil {
		t.Fatal("HandleTurn should fail when the model fails")
	}

	turns, err := store.RecentTurns(ctx, "conv-2", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("persisted %d turns after model failure, want 0", len(turns))
	}
	if len(adapter.sent) != 0 {
		t.Errorf("delivered %d messages after model failure, want 0", len(adapter.sent))
	}
}

func TestHandleTurnRecallAugmentsModelOnly(t *testing.T) {
	adapter := newFakeAdapter()
	invoker := &fakeInvoker{resp: &llm.Response{Text: "it is a cat"}}
	loop, store, cache := testLoop(t, invoker, adapter)
	ctx := context.Background()

	catPath := filepath.Join(cache.Dir(), "cat.png")
	if err := os.WriteFile(catPath, []byte("cat"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Seed history: a prior turn that carried the image.
	seed := &history.Turn{
		ID:             "seed-1",
		ConversationID: "conv-3",
		Direction:      history.Inbound,
		Text:           "look at this",
		Media:          []media.Reference{{Kind: media.KindImage, LocalPath: catPath}},
	}
	if err := store.Append(ctx, seed); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	if err := loop.HandleTurn(ctx, adapter, inboundText("conv-3", "what do you see in this picture?")); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	if len(invoker.requests) != 1 {
		t.Fatalf("model invoked %d times, want 1", len(invoker.requests))
	}
	req := invoker.requests[0]
	if len(req.ImagePaths) != 1 || req.ImagePaths[0] != catPath {
		t.Errorf("model request ImagePaths = %v, want [%s]", req.ImagePaths, catPath)
	}

	// The persisted inbound turn must record what the user actually sent,
	// not the recalled image.
	turns, err := store.RecentTurns(ctx, "conv-3", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	var inbound *history.Turn
	for i := range turns {
		if turns[i].Direction == history.Inbound && turns[i].Text == "what do you see in this picture?" {
			inbound = &turns[i]
		}
	}
	if inbound == nil {
		t.Fatal("inbound turn not persisted")
	}
	if len(inbound.Media) != 0 {
		t.Errorf("persisted inbound media = %+v, want none", inbound.Media)
	}
}

func TestHandleTurnNoRecallWhenMediaPresent(t *testing.T) {
	adapter := newFakeAdapter()
	invoker := &fakeInvoker{resp: &llm.Response{Text: "ok"}}
	loop, _, cache := testLoop(t, invoker, adapter)
	ctx := context.Background()

	fresh := filepath.Join(cache.Dir(), "fresh.png")
	if err := os.WriteFile(fresh, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	msg := inboundText("conv-4", "what do you see in this picture?")
	msg.Media = []media.Reference{{Kind: media.KindImage, LocalPath: fresh}}

	if err := loop.HandleTurn(ctx, adapter, msg); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	req := invoker.requests[0]
	if len(req.ImagePaths) != 1 || req.ImagePaths[0] != fresh {
		t.Errorf("ImagePaths = %v, want only the fresh attachment", req.ImagePaths)
	}
}

func TestHandleTurnPassesHistory(t *testing.T) {
	adapter := newFakeAdapter()
	invoker := &fakeInvoker{resp: &llm.Response{Text: "second reply"}}
	loop, _, _ := testLoop(t, invoker, adapter)
	ctx := context.Background()

	if err := loop.HandleTurn(ctx, adapter, inboundText("conv-5", "first")); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if err := loop.HandleTurn(ctx, adapter, inboundText("conv-5", "second")); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	req := invoker.requests[1]
	if len(req.History) != 2 {
		t.Fatalf("history has %d messages, want 2", len(req.History))
	}
	if req.History[0].Role != llm.RoleUser || req.History[0].Content != "first" {
		t.Errorf("history[0] = %+v", req.History[0])
	}
	if req.History[1].Role != llm.RoleAssistant {
		t.Errorf("history[1] role = %q, want assistant", req.History[1].Role)
	}
}

func TestDispatchSerializesPerConversation(t *testing.T) {
	adapter := newFakeAdapter()
	invoker := &fakeInvoker{resp: &llm.Response{Text: "ok"}}
	loop, store, _ := testLoop(t, invoker, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		msg := inboundText("conv-6", "hello")
		if err := loop.dispatch(ctx, adapter, msg); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		turns, err := store.RecentTurns(ctx, "conv-6", 20)
		if err != nil {
			t.Fatalf("RecentTurns: %v", err)
		}
		if len(turns) == 10 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for turns, have %d", len(turns))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDispatchRejectsMissingConversation(t *testing.T) {
	adapter := newFakeAdapter()
	loop, _, _ := testLoop(t, &fakeInvoker{resp: &llm.Response{Text: "ok"}}, adapter)

	msg := inboundText("", "hello")
	if err := loop.dispatch(context.Background(), adapter, msg); err == nil {
		t.Fatal("dispatch should reject a message without a conversation id")
	}
}
