package models

import (
	"encoding/json"
	"testing"
)

func TestTokenUsage_Add(t *testing.T) {
	t.Parallel()
	a := TokenUsage{Input: 1, Output: 2, CacheCreation: 3, CacheRead: 4}
	b := TokenUsage{Input: 10, Output: 20, CacheCreation: 30, CacheRead: 40}
	got := a.Add(b)
	want := TokenUsage{Input: 11, Output: 22, CacheCreation: 33, CacheRead: 44}
	if got != want {
		t.Errorf("Add: got %+v, want %+v", got, want)
	}
	if got.Total() != 110 {
		t.Errorf("Total: got %d", got.Total())
	}
}

func TestTokenUsage_AddCommutative(t *testing.T) {
	t.Parallel()
	a := TokenUsage{Input: 7, Output: 11}
	b := TokenUsage{CacheCreation: 13, CacheRead: 17}
	if a.Add(b) != b.Add(a) {
		t.Error("Add should be commutative")
	}
}

func TestTicket_JSONOmitsEmptyError(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Ticket{ID: "SCHEMA-1", Status: StatusTodo})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := m["error"]; ok {
		t.Error("empty error should be omitted from JSON")
	}
}

func TestValidStatus(t *testing.T) {
	t.Parallel()
	for _, s := range []string{StatusTodo, StatusInProgress, StatusDone, StatusError} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false", s)
		}
	}
	if ValidStatus("cancelled") {
		t.Error(`ValidStatus("cancelled") = true`)
	}
}
