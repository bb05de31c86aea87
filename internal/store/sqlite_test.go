// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation upsert/lookup, reference last-write-wins, and group listing

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestUpsertAndGetConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := &ConversationRecord{
		ID:                "conv-123",
		WebConversationID: "web-abc",
		Status:            StatusUnanswered,
		DisplayName:       "Alice",
		EmailAddress:      "alice@example.com",
		Subject:           "Billing question",
		Description:       "My invoice looks wrong",
		TargetGroupID:     "grp-1",
		StartedAt:         time.Now().UTC().Truncate(time.Second),
	}

	if err := store.UpsertConversation(ctx, rec); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	got, err := store.GetConversation(ctx, "conv-123")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.DisplayName != "Alice" || got.Subject != "Billing question" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Status != StatusUnanswered {
		t.Errorf("status = %q, want %q", got.Status, StatusUnanswered)
	}
	if !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, rec.StartedAt)
	}
	if got.EndedAt != nil {
		t.Errorf("ended_at should be nil, got %v", got.EndedAt)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetConversation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetConversationByForeignIDs(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := &ConversationRecord{
		ID:                   "conv-1",
		WebConversationID:    "web-1",
		TargetConversationID: "C999/1700000000.000100",
		Status:               StatusInProgress,
		StartedAt:            time.Now().UTC().Truncate(time.Second),
	}
	if err := store.UpsertConversation(ctx, rec); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	byWeb, err := store.GetConversationByWebID(ctx, "web-1")
	if err != nil {
		t.Fatalf("GetConversationByWebID failed: %v", err)
	}
	if byWeb.ID != "conv-1" {
		t.Errorf("byWeb.ID = %q, want conv-1", byWeb.ID)
	}

	byTarget, err := store.GetConversationByTargetID(ctx, "C999/1700000000.000100")
	if err != nil {
		t.Fatalf("GetConversationByTargetID failed: %v", err)
	}
	if byTarget.ID != "conv-1" {
		t.Errorf("byTarget.ID = %q, want conv-1", byTarget.ID)
	}

	if _, err := store.GetConversationByWebID(ctx, "web-unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown web id, got %v", err)
	}
}

func TestGetConversationByWebID_PrefersNewest(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	ended := old
	if err := store.UpsertConversation(ctx, &ConversationRecord{
		ID: "conv-old", WebConversationID: "web-1", Status: StatusEnded,
		StartedAt: old, EndedAt: &ended,
	}); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}
	if err := store.UpsertConversation(ctx, &ConversationRecord{
		ID: "conv-new", WebConversationID: "web-1", Status: StatusUnanswered,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	got, err := store.GetConversationByWebID(ctx, "web-1")
	if err != nil {
		t.Fatalf("GetConversationByWebID failed: %v", err)
	}
	if got.ID != "conv-new" {
		t.Errorf("got %q, want conv-new", got.ID)
	}
}

func TestUpsertConversation_ImmutableSubmittedFields(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)
	rec := &ConversationRecord{
		ID: "conv-1", WebConversationID: "web-1", Status: StatusUnanswered,
		DisplayName: "Alice", Subject: "Help", StartedAt: started,
	}
	if err := store.UpsertConversation(ctx, rec); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	// A later upsert mutates status and closing notes but must not rewrite
	// the submitted fields.
	endedAt := time.Now().UTC().Truncate(time.Second)
	update := *rec
	update.DisplayName = "Mallory"
	update.Status = StatusEnded
	update.ClosingNotes = "resolved"
	update.EndedAt = &endedAt
	if err := store.UpsertConversation(ctx, &update); err != nil {
		t.Fatalf("second UpsertConversation failed: %v", err)
	}

	got, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Errorf("display name mutated: %q", got.DisplayName)
	}
	if got.Status != StatusEnded || got.ClosingNotes != "resolved" {
		t.Errorf("mutable fields not updated: %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(endedAt) {
		t.Errorf("ended_at = %v, want %v", got.EndedAt, endedAt)
	}
}

func TestUpsertReference_LastWriteWins(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	first := &SessionReference{
		Channel:        "webchat",
		ConversationID: "web-1",
		Reference:      json.RawMessage(`{"serviceUrl":"ws://one"}`),
	}
	if err := store.UpsertReference(ctx, first); err != nil {
		t.Fatalf("UpsertReference failed: %v", err)
	}

	second := &SessionReference{
		Channel:        "webchat",
		ConversationID: "web-1",
		Reference:      json.RawMessage(`{"serviceUrl":"ws://two"}`),
	}
	if err := store.UpsertReference(ctx, second); err != nil {
		t.Fatalf("second UpsertReference failed: %v", err)
	}

	got, err := store.GetReference(ctx, "webchat", "web-1")
	if err != nil {
		t.Fatalf("GetReference failed: %v", err)
	}
	if string(got.Reference) != `{"serviceUrl":"ws://two"}` {
		t.Errorf("reference = %s, want latest write", got.Reference)
	}
}

func TestGetReference_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetReference(context.Background(), "target", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReferences_ScopedByChannel(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.UpsertReference(ctx, &SessionReference{
		Channel: "webchat", ConversationID: "shared-id",
		Reference: json.RawMessage(`{"side":"web"}`),
	}); err != nil {
		t.Fatalf("UpsertReference failed: %v", err)
	}
	if err := store.UpsertReference(ctx, &SessionReference{
		Channel: "target", ConversationID: "shared-id",
		Reference: json.RawMessage(`{"side":"target"}`),
	}); err != nil {
		t.Fatalf("UpsertReference failed: %v", err)
	}

	web, err := store.GetReference(ctx, "webchat", "shared-id")
	if err != nil {
		t.Fatalf("GetReference(webchat) failed: %v", err)
	}
	if string(web.Reference) != `{"side":"web"}` {
		t.Errorf("webchat reference = %s", web.Reference)
	}
}

func TestTargetGroups(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	groups := []*TargetGroup{
		{ID: "grp-sales", DisplayName: "Sales", IsVisible: true},
		{ID: "grp-support", DisplayName: "Customer Support", IsVisible: true},
		{ID: "grp-internal", DisplayName: "Internal Ops", IsVisible: false},
	}
	for _, g := range groups {
		if err := store.UpsertTargetGroup(ctx, g); err != nil {
			t.Fatalf("UpsertTargetGroup(%s) failed: %v", g.ID, err)
		}
	}

	visible, err := store.ListVisibleTargetGroups(ctx)
	if err != nil {
		t.Fatalf("ListVisibleTargetGroups failed: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("got %d visible groups, want 2", len(visible))
	}
	// Ordered by display name
	if visible[0].DisplayName != "Customer Support" || visible[1].DisplayName != "Sales" {
		t.Errorf("unexpected order: %q, %q", visible[0].DisplayName, visible[1].DisplayName)
	}
}

func TestUpsertTargetGroup_Deactivate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.UpsertTargetGroup(ctx, &TargetGroup{ID: "grp-1", DisplayName: "Sales", IsVisible: true}); err != nil {
		t.Fatalf("UpsertTargetGroup failed: %v", err)
	}
	if err := store.UpsertTargetGroup(ctx, &TargetGroup{ID: "grp-1", DisplayName: "Sales", IsVisible: false}); err != nil {
		t.Fatalf("second UpsertTargetGroup failed: %v", err)
	}

	got, err := store.GetTargetGroup(ctx, "grp-1")
	if err != nil {
		t.Fatalf("GetTargetGroup failed: %v", err)
	}
	if got.IsVisible {
		t.Error("group should be hidden after deactivation")
	}

	visible, err := store.ListVisibleTargetGroups(ctx)
	if err != nil {
		t.Fatalf("ListVisibleTargetGroups failed: %v", err)
	}
	if len(visible) != 0 {
		t.Errorf("got %d visible groups, want 0", len(visible))
	}
}
