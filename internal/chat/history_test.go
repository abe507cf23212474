package chat

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func seedMessage(t *testing.T, repo *Repo, userID, conversationID, role, content string, at time.Time) {
	t.Helper()
	if err := repo.Append(context.Background(), &Message{
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      at,
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
}

func TestTruncate_Laws(t *testing.T) {
	exactly50 := strings.Repeat("x", 50)
	if got := truncate(exactly50, titleLimit); got != exactly50 {
		t.Fatalf("length-50 input must pass through verbatim, got %q", got)
	}

	over := strings.Repeat("y", 51)
	got := truncate(over, titleLimit)
	if !strings.HasSuffix(got, ellipsis) {
		t.Fatalf("truncated title must end in ellipsis: %q", got)
	}
	if len([]rune(strings.TrimSuffix(got, ellipsis))) != 50 {
		t.Fatalf("truncated title must keep exactly 50 chars, got %d", len([]rune(strings.TrimSuffix(got, ellipsis))))
	}

	if got := truncate("short", previewLimit); got != "short" {
		t.Fatalf("short preview must be verbatim, got %q", got)
	}
	longPreview := strings.Repeat("z", 100)
	got = truncate(longPreview, previewLimit)
	if len([]rune(strings.TrimSuffix(got, ellipsis))) != 80 || !strings.HasSuffix(got, ellipsis) {
		t.Fatalf("preview truncation law violated: %q", got)
	}
}

func TestListConversations_TitlePreviewAndOrder(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	agg := NewAggregator(repo)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	longQuestion := "Tell me about my rating increase eligibility and how the process works"
	seedMessage(t, repo, "u1", "c1", "user", longQuestion, base)
	seedMessage(t, repo, "u1", "c1", "assistant", "You may qualify if your condition worsened.", base.Add(time.Minute))
	seedMessage(t, repo, "u1", "c1", "user", "How do I apply?", base.Add(2*time.Minute))

	seedMessage(t, repo, "u1", "c2", "user", "Short question", base.Add(time.Hour))
	seedMessage(t, repo, "u1", "c2", "assistant", "Short answer", base.Add(time.Hour+time.Minute))

	list, err := agg.ListConversations(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if list.Total != 2 || list.Count != 2 {
		t.Fatalf("expected 2/2, got total=%d count=%d", list.Total, list.Count)
	}

	// most recently active first
	if list.Conversations[0].ConversationID != "c2" || list.Conversations[1].ConversationID != "c1" {
		t.Fatalf("expected c2 before c1, got %+v", list.Conversations)
	}

	c1 := list.Conversations[1]
	wantTitle := string([]rune(longQuestion)[:50]) + ellipsis
	if c1.Title != wantTitle {
		t.Fatalf("title = %q, want %q", c1.Title, wantTitle)
	}
	if c1.Preview != "How do I apply?" {
		t.Fatalf("preview must come from the last message, got %q", c1.Preview)
	}
	if c1.MessageCount != 3 {
		t.Fatalf("message count = %d, want 3", c1.MessageCount)
	}
	if !c1.CreatedAt.Equal(base) || !c1.UpdatedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("timestamp bounds wrong: created=%v updated=%v", c1.CreatedAt, c1.UpdatedAt)
	}

	c2 := list.Conversations[0]
	if c2.Title != "Short question" {
		t.Fatalf("short title must be verbatim, got %q", c2.Title)
	}
}

func TestListConversations_PlaceholderTitle(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	agg := NewAggregator(repo)

	seedMessage(t, repo, "u1", "c1", "assistant", "unsolicited greeting", time.Now().UTC())

	list, err := agg.ListConversations(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].Title != untitledConversation {
		t.Fatalf("expected placeholder title, got %+v", list.Conversations)
	}
}

func TestListConversations_LimitAndTotal(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	agg := NewAggregator(repo)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedMessage(t, repo, "u1", string(rune('a'+i)), "user", "q", base.Add(time.Duration(i)*time.Hour))
	}

	list, err := agg.ListConversations(context.Background(), "u1", 3)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if list.Total != 5 || list.Count != 3 || len(list.Conversations) != 3 {
		t.Fatalf("expected total=5 count=3, got total=%d count=%d", list.Total, list.Count)
	}
	// newest activity first after truncation
	if list.Conversations[0].ConversationID != "e" {
		t.Fatalf("expected newest conversation first, got %q", list.Conversations[0].ConversationID)
	}
}

func TestListConversations_Idempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	agg := NewAggregator(repo)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedMessage(t, repo, "u1", "c1", "user", "first", base)
	seedMessage(t, repo, "u1", "c1", "assistant", "second", base.Add(time.Minute))
	seedMessage(t, repo, "u1", "c2", "user", "other", base.Add(2*time.Minute))

	a, err := agg.ListConversations(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("first aggregation: %v", err)
	}
	b, err := agg.ListConversations(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("second aggregation: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("aggregation must be idempotent:\n%+v\n%+v", a, b)
	}
}

func TestDeleteConversation_RemovesEveryRow(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	agg := NewAggregator(repo)

	now := time.Now().UTC()
	seedMessage(t, repo, "u1", "c1", "user", "q1", now)
	seedMessage(t, repo, "u1", "c1", "assistant", "a1", now.Add(time.Second))
	seedMessage(t, repo, "u1", "c2", "user", "q2", now.Add(2*time.Second))
	seedMessage(t, repo, "u2", "c1", "user", "someone else", now.Add(3*time.Second))

	if err := agg.DeleteConversation(context.Background(), "u1", "c1"); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}

	list, err := agg.ListConversations(context.Background(), "u1", 20)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	for _, s := range list.Conversations {
		if s.ConversationID == "c1" {
			t.Fatalf("deleted conversation still listed: %+v", s)
		}
	}

	var count int64
	if err := db.Model(&Message{}).
		Where("user_id = ? AND conversation_id = ?", "u1", "c1").
		Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 rows after delete, got %d", count)
	}

	// the same conversation id owned by another user is untouched
	if err := db.Model(&Message{}).
		Where("user_id = ? AND conversation_id = ?", "u2", "c1").
		Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("other user's rows must survive, got %d", count)
	}
}
