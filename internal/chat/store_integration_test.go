package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/chat"
	"github.com/secondbrain-app/secondbrain/internal/llm"
	"github.com/secondbrain-app/secondbrain/internal/log"
	"github.com/secondbrain-app/secondbrain/internal/testutil"
)

func setupChatStore(t *testing.T) (*chat.Store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db, cleanup := testutil.SetupTestDB(t)
	store, err := chat.NewStore(db.Pool, log.NewNop())
	if err != nil {
		cleanup()
		t.Fatalf("NewStore: %v", err)
	}
	return store, cleanup
}

func TestChatStoreLifecycle(t *testing.T) {
	store, cleanup := setupChatStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateChat(ctx, "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if _, err := store.AddMessage(ctx, created.ID, llm.RoleUser, "hello"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := store.AddMessage(ctx, created.ID, llm.RoleAssistant, "hi there"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	got, err := store.GetChat(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", got.MessageCount)
	}

	messages, err := store.ListMessages(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "hello" || messages[1].Content != "hi there" {
		t.Errorf("messages out of order: %+v", messages)
	}
	if messages[0].TokenCount == 0 {
		t.Error("token count not recorded")
	}

	chats, err := store.ListChats(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 1 {
		t.Errorf("got %d chats, want 1", len(chats))
	}

	if err := store.DeleteChat(ctx, created.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if err := store.DeleteChat(ctx, created.ID); !errors.Is(err, chat.ErrChatNotFound) {
		t.Errorf("second delete = %v, want ErrChatNotFound", err)
	}
	if msgs, err := store.ListMessages(ctx, created.ID); err != nil || len(msgs) != 0 {
		t.Errorf("messages after delete = %v, %v; want cascade", msgs, err)
	}
}

func TestChatStoreTitles(t *testing.T) {
	store, cleanup := setupChatStore(t)
	defer cleanup()
	ctx := context.Background()

	created, err := store.CreateChat(ctx, "")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	set, err := store.SetTitleIfEmpty(ctx, created.ID, "First Title")
	if err != nil || !set {
		t.Fatalf("SetTitleIfEmpty = (%v, %v), want set", set, err)
	}
	set, err = store.SetTitleIfEmpty(ctx, created.ID, "Second Title")
	if err != nil || set {
		t.Fatalf("SetTitleIfEmpty on titled chat = (%v, %v), want no-op", set, err)
	}

	if err := store.RenameChat(ctx, created.ID, "Renamed"); err != nil {
		t.Fatalf("RenameChat: %v", err)
	}
	got, err := store.GetChat(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("Title = %q, want Renamed", got.Title)
	}

	if err := store.RenameChat(ctx, uuid.New(), "x"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Errorf("rename missing chat = %v, want ErrChatNotFound", err)
	}
}
