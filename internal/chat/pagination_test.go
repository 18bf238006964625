package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func paginationFixture(t *testing.T, count int) (*Pager, *Chat, []*Message) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewMessages(store, store, &recordingBus{}, &recordingNotifier{})
	c := activeChat(t, store, "student-1", "faculty-1")

	contents := make([]string, count)
	for i := range contents {
		contents[i] = fmt.Sprintf("msg-%03d", i)
	}
	sent := sendN(t, svc, c.ID, "student-1", contents...)
	return NewPager(store, store, 30, 100), c, sent
}

func TestLoadLastReturnsNewestOldestFirst(t *testing.T) {
	pager, c, sent := paginationFixture(t, 10)

	page, err := pager.LoadLast(context.Background(), c.ID, 4)
	if err != nil {
		t.Fatalf("load last: %v", err)
	}
	if len(page) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(page))
	}
	for i, msg := range page {
		want := sent[len(sent)-4+i]
		if msg.ID != want.ID {
			t.Fatalf("position %d: expected %s, got %s", i, want.Content, msg.Content)
		}
	}
}

func TestLoadOlderThanWalksHistoryWithoutGaps(t *testing.T) {
	pager, c, sent := paginationFixture(t, 25)

	page, err := pager.LoadLast(context.Background(), c.ID, 10)
	if err != nil {
		t.Fatalf("load last: %v", err)
	}
	collected := append([]*Message(nil), page...)

	for len(collected) < len(sent) {
		cursor := collected[0]
		older, err := pager.LoadOlderThan(context.Background(), c.ID, cursor.ID, 10)
		if err != nil {
			t.Fatalf("load older: %v", err)
		}
		if len(older) == 0 {
			break
		}
		collected = append(older, collected...)
	}

	if len(collected) != len(sent) {
		t.Fatalf("expected %d messages, got %d", len(sent), len(collected))
	}
	seen := make(map[string]bool)
	for i, msg := range collected {
		if msg.ID != sent[i].ID {
			t.Fatalf("position %d: expected %s, got %s", i, sent[i].Content, msg.Content)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate message %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestLoadOlderThanRejectsForeignCursor(t *testing.T) {
	store := NewMemoryStore()
	svc := NewMessages(store, store, &recordingBus{}, &recordingNotifier{})
	first := activeChat(t, store, "student-1", "faculty-1")
	second := activeChat(t, store, "student-2", "faculty-2")
	foreign := sendN(t, svc, second.ID, "student-2", "elsewhere")[0]

	pager := NewPager(store, store, 30, 100)
	if _, err := pager.LoadOlderThan(context.Background(), first.ID, foreign.ID, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for cursor in another chat, got %v", err)
	}
	if _, err := pager.LoadOlderThan(context.Background(), first.ID, "missing", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown cursor, got %v", err)
	}
}

func TestPaginationIsPureRead(t *testing.T) {
	pager, c, _ := paginationFixture(t, 5)

	page, err := pager.LoadLast(context.Background(), c.ID, 5)
	if err != nil {
		t.Fatalf("load last: %v", err)
	}
	for _, msg := range page {
		if msg.Seen {
			t.Fatalf("pagination must not flip seen state: %+v", msg)
		}
	}
}

func TestClampAppliesDefaultsAndMax(t *testing.T) {
	pager, c, _ := paginationFixture(t, 40)

	page, err := pager.LoadLast(context.Background(), c.ID, 0)
	if err != nil {
		t.Fatalf("load last: %v", err)
	}
	if len(page) != 30 {
		t.Fatalf("expected default page size 30, got %d", len(page))
	}

	small := NewPager(pager.chats, pager.messages, 5, 10)
	page, err = small.LoadLast(context.Background(), c.ID, 500)
	if err != nil {
		t.Fatalf("load last: %v", err)
	}
	if len(page) != 10 {
		t.Fatalf("expected max page size 10, got %d", len(page))
	}
}

func TestSearchMatchesCaseInsensitive(t *testing.T) {
	store := NewMemoryStore()
	svc := NewMessages(store, store, &recordingBus{}, &recordingNotifier{})
	c := activeChat(t, store, "student-1", "faculty-1")
	sendN(t, svc, c.ID, "student-1", "Exam schedule posted", "lunch?", "about the EXAM question")
	deleted := sendN(t, svc, c.ID, "student-1", "exam deleted soon")[0]
	if _, err := svc.Delete(context.Background(), deleted.ID, "student-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	pager := NewPager(store, store, 30, 100)
	matches, err := pager.Search(context.Background(), c.ID, "exam", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches excluding tombstone, got %d", len(matches))
	}
	if matches[0].Content != "Exam schedule posted" {
		t.Fatalf("expected oldest-first order, got %q", matches[0].Content)
	}

	if _, err := pager.Search(context.Background(), c.ID, "   ", 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty query, got %v", err)
	}
}
