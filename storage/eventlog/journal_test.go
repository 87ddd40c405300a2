package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"escrowd/core/events"
	"escrowd/core/types"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestJournalAppendAndList(t *testing.T) {
	journal := newJournal(t)
	ctx := context.Background()

	journal.Emit(&types.Event{Type: "escrow.agreement.created", Attributes: map[string]string{"id": "1", "amount": "10"}})
	journal.Emit(&types.Event{Type: "escrow.pool.added", Attributes: map[string]string{"arbitrator": "0c"}})
	journal.Emit(&types.Event{Type: "escrow.agreement.approved", Attributes: map[string]string{"id": "1"}})
	journal.Emit(nil)

	entries, err := journal.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Sequence != int64(i+1) {
			t.Fatalf("entry %d has sequence %d", i, entry.Sequence)
		}
	}
	if entries[0].Payload["amount"] != "10" {
		t.Fatalf("payload not preserved: %v", entries[0].Payload)
	}

	byAgreement, err := journal.ListByAgreement(ctx, 1)
	if err != nil {
		t.Fatalf("list by agreement: %v", err)
	}
	if len(byAgreement) != 2 || byAgreement[1].Type != "escrow.agreement.approved" {
		t.Fatalf("unexpected agreement history: %+v", byAgreement)
	}

	tail, err := journal.List(ctx, 2, 10)
	if err != nil {
		t.Fatalf("list tail: %v", err)
	}
	if len(tail) != 1 || tail[0].Sequence != 3 {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestJournalReplayAndCursor(t *testing.T) {
	journal := newJournal(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := journal.Append(ctx, &types.Event{Type: "escrow.agreement.funded", Attributes: map[string]string{"id": "7"}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := journal.Append(ctx, nil); err == nil {
		t.Fatalf("expected nil event to fail")
	}

	var seen []string
	last, err := journal.Replay(ctx, 1, events.EmitterFunc(func(evt events.Event) {
		seen = append(seen, evt.EventType())
	}))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if last != 3 || len(seen) != 2 {
		t.Fatalf("replay delivered %d events, last %d", len(seen), last)
	}

	cursor, err := journal.Cursor(ctx, "indexer")
	if err != nil || cursor != 0 {
		t.Fatalf("fresh cursor = %d, %v", cursor, err)
	}
	if err := journal.SetCursor(ctx, "indexer", last); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := journal.SetCursor(ctx, "indexer", last+1); err != nil {
		t.Fatalf("update cursor: %v", err)
	}
	cursor, err = journal.Cursor(ctx, "indexer")
	if err != nil || cursor != 4 {
		t.Fatalf("cursor = %d, %v", cursor, err)
	}
}
