package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// jsonFile stores the whole ticket file as one JSON document. Every update
// loads the full file, mutates one ticket, and rewrites the full file.
type jsonFile struct {
	path string
}

func openJSONFile(path string) (*jsonFile, error) {
	if path == "" {
		return nil, errors.New("ticket file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &jsonFile{path: path}, nil
}

func (s *jsonFile) Load(ctx context.Context) (models.TicketFile, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.TicketFile{GeneratedAt: time.Now().UTC()}, nil
		}
		return models.TicketFile{}, fmt.Errorf("read ticket file: %w", err)
	}
	var f models.TicketFile
	if err := json.Unmarshal(b, &f); err != nil {
		return models.TicketFile{}, fmt.Errorf("parse ticket file %s: %w", s.path, err)
	}
	// Never trust the stored count.
	f.TotalTickets = len(f.Tickets)
	return f, nil
}

func (s *jsonFile) Save(ctx context.Context, f models.TicketFile) error {
	f.TotalTickets = len(f.Tickets)
	if f.GeneratedAt.IsZero() {
		f.GeneratedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	// Write-then-rename so a crash mid-write cannot corrupt the store.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write ticket file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename ticket file: %w", err)
	}
	return nil
}

func (s *jsonFile) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	f, err := s.Load(ctx)
	if err != nil {
		return err
	}
	found := false
	for i := range f.Tickets {
		if f.Tickets[i].ID != id {
			continue
		}
		f.Tickets[i].Status = status
		if status == models.StatusError {
			f.Tickets[i].Error = errMsg
		} else {
			f.Tickets[i].Error = ""
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Save(ctx, f)
}

func (s *jsonFile) Pending(ctx context.Context) ([]models.Ticket, error) {
	f, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Ticket
	for _, t := range f.Tickets {
		if t.Status == models.StatusTodo || t.Status == models.StatusError {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *jsonFile) ResetAll(ctx context.Context) error {
	f, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for i := range f.Tickets {
		f.Tickets[i].Status = models.StatusTodo
		f.Tickets[i].Error = ""
	}
	return s.Save(ctx, f)
}

func (s *jsonFile) Close() error { return nil }
