package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/nyaya/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	p := &models.Passage{
		DocumentID: "mw-act-1948",
		ActName:    "Minimum Wages Act, 1948",
		Section:    "3",
		Title:      "Fixing of minimum rates of wages",
		Text:       "The appropriate Government shall fix the minimum rates of wages.",
		Language:   "en",
	}
	if err := store.UpsertPassage(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetPassage(ctx, p.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.ActName != p.ActName || got.Text != p.Text || got.Title != p.Title {
		t.Errorf("got %+v", got)
	}

	p.Title = "Updated"
	p.SourceVersion = "2024-01"
	if err := store.UpsertPassage(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetPassage(ctx, p.Key())
	if got.Title != "Updated" || got.SourceVersion != "2024-01" {
		t.Errorf("expected updated passage, got %+v", got)
	}

	count, err := store.CountPassages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 passage after upsert, got %d", count)
	}

	if err := store.DeletePassage(ctx, p.Key()); err != nil {
		t.Fatal(err)
	}
	_, err = store.GetPassage(ctx, p.Key())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStorage_Batch(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	passages := []models.Passage{
		{DocumentID: "rent-act", ActName: "Maharashtra Rent Control Act, 1999", Section: "15", Text: "Landlord not to evict...", Language: "en"},
		{DocumentID: "rent-act", ActName: "Maharashtra Rent Control Act, 1999", Section: "16", Text: "Recovery of possession...", Language: "en"},
		{DocumentID: "mw-act-1948", ActName: "Minimum Wages Act, 1948", Section: "12", Text: "Payment of minimum rates...", Language: "en"},
	}
	if err := store.BatchUpsertPassages(ctx, passages); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListPassages(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 passages, got %d", len(list))
	}
	if list[0].DocumentID != "mw-act-1948" {
		t.Errorf("expected key order, got %s first", list[0].Key())
	}

	got, err := store.GetPassages(ctx, []models.PassageKey{
		{DocumentID: "rent-act", Section: "16"},
		{DocumentID: "rent-act", Section: "99"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if _, ok := got[models.PassageKey{DocumentID: "rent-act", Section: "16"}]; !ok {
		t.Error("missing rent-act#16")
	}

	if err := store.DeleteDocument(ctx, "rent-act"); err != nil {
		t.Fatal(err)
	}
	count, _ := store.CountPassages(ctx)
	if count != 1 {
		t.Errorf("expected 1 passage after document delete, got %d", count)
	}
}

func TestSQLiteStorage_RejectsMissingKey(t *testing.T) {
	store := newTestStorage(t)
	err := store.UpsertPassage(context.Background(), &models.Passage{DocumentID: "x", Text: "t", Language: "en"})
	if err == nil {
		t.Error("expected error for passage without section")
	}
}
