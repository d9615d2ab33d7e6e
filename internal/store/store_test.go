package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/buildloop-io/buildloop/pkg/models"
)

func openTemp(t *testing.T) Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "tickets.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func sampleFile() models.TicketFile {
	return models.TicketFile{
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Tickets: []models.Ticket{
			{ID: "SCHEMA-1", Title: "users table", Type: models.TypeImplementation, Status: models.StatusTodo},
			{ID: "BACKEND-1", Title: "users endpoint", Type: models.TypeImplementation, Status: models.StatusDone},
			{ID: "E2E-1", Title: "signup flow", Type: models.TypeE2ETest, Status: models.StatusError, Error: "boom"},
		},
	}
}

func TestOpen_emptyPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoad_missingFileReturnsEmpty(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	f, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Tickets) != 0 || f.TotalTickets != 0 {
		t.Errorf("expected empty file, got %+v", f)
	}
}

func TestSaveLoad_roundtrip(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()
	if err := st.Save(ctx, sampleFile()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Tickets) != 3 || f.TotalTickets != 3 {
		t.Errorf("roundtrip: %d tickets, count %d", len(f.Tickets), f.TotalTickets)
	}
	if f.Tickets[2].Error != "boom" {
		t.Errorf("error field lost: %+v", f.Tickets[2])
	}
}

func TestLoad_recomputesInconsistentCount(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tickets.json")
	// A file whose totalTickets disagrees with the ticket list.
	body := `{"generatedAt":"2026-01-01T00:00:00Z","totalTickets":99,"tickets":[{"id":"SCHEMA-1","title":"t","description":"","type":"implementation","status":"todo"}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.TotalTickets != 1 {
		t.Errorf("TotalTickets: got %d, want 1 (recomputed)", f.TotalTickets)
	}
}

func TestSave_writesConsistentCount(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tickets.json")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f := sampleFile()
	f.TotalTickets = 42 // wrong on purpose
	if err := st.Save(context.Background(), f); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"totalTickets": 3`) {
		t.Errorf("written file should carry recomputed count: %s", b)
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()
	if err := st.Save(ctx, sampleFile()); err != nil {
		t.Fatal(err)
	}

	if err := st.UpdateStatus(ctx, "SCHEMA-1", models.StatusError, "collaborator failed"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	f, _ := st.Load(ctx)
	if f.Tickets[0].Status != models.StatusError || f.Tickets[0].Error != "collaborator failed" {
		t.Errorf("error not recorded: %+v", f.Tickets[0])
	}

	// Moving out of error clears the message.
	if err := st.UpdateStatus(ctx, "SCHEMA-1", models.StatusDone, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	f, _ = st.Load(ctx)
	if f.Tickets[0].Status != models.StatusDone || f.Tickets[0].Error != "" {
		t.Errorf("error not cleared: %+v", f.Tickets[0])
	}
}

func TestUpdateStatus_unknownID(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()
	if err := st.Save(ctx, sampleFile()); err != nil {
		t.Fatal(err)
	}
	err := st.UpdateStatus(ctx, "NOPE-1", models.StatusDone, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPending_selectsTodoAndError(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()
	if err := st.Save(ctx, sampleFile()); err != nil {
		t.Fatal(err)
	}
	pending, err := st.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Pending: got %d tickets", len(pending))
	}
	if pending[0].ID != "SCHEMA-1" || pending[1].ID != "E2E-1" {
		t.Errorf("Pending: %v, %v", pending[0].ID, pending[1].ID)
	}
}

func TestResetAll(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()
	if err := st.Save(ctx, sampleFile()); err != nil {
		t.Fatal(err)
	}
	if err := st.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	f, _ := st.Load(ctx)
	for _, tk := range f.Tickets {
		if tk.Status != models.StatusTodo || tk.Error != "" {
			t.Errorf("ticket not reset: %+v", tk)
		}
	}
}
