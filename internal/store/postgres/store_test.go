package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/buildloop-io/buildloop/pkg/models"
)

func TestOpen_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.Save(ctx, models.TicketFile{Tickets: []models.Ticket{
		{ID: "SCHEMA-1", Title: "users table", Type: models.TypeImplementation, Status: models.StatusTodo},
	}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.TotalTickets != 1 {
		t.Errorf("TotalTickets: got %d", f.TotalTickets)
	}
	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Pending: got %d", len(pending))
	}
}

func TestOpen_noDSN(t *testing.T) {
	if os.Getenv("DATABASE_URL") != "" {
		t.Skip("DATABASE_URL set")
	}
	if _, err := Open(""); err == nil {
		t.Fatal("expected error without DSN")
	}
}
