package prompt

import (
	"context"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/vetclaims/assistant-api/internal/ai"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Article{}, &DatasetRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestFallback_Deterministic(t *testing.T) {
	history := []ai.Message{
		{Role: "user", Content: "What is a DD-214?"},
		{Role: "assistant", Content: "Your discharge document."},
	}
	a := Fallback("How do I get a copy?", history)
	b := Fallback("How do I get a copy?", history)
	if a != b {
		t.Fatalf("fallback must be deterministic")
	}
	if !strings.HasPrefix(a, BasePrompt) {
		t.Fatalf("fallback must start with the base instruction")
	}
	if !strings.Contains(a, "user: What is a DD-214?") || !strings.Contains(a, "How do I get a copy?") {
		t.Fatalf("fallback must include history and question: %q", a)
	}
}

func TestFallback_EmptyHistory(t *testing.T) {
	got := Fallback("question", nil)
	if strings.Contains(got, "Conversation so far") {
		t.Fatalf("empty history must not render a history block: %q", got)
	}
}

func TestBuildPrompt_IncludesMatchingArticles(t *testing.T) {
	db := openTestDB(t)
	if err := db.Create(&Article{
		Title:   "Disability Rating Increases",
		Content: "A veteran may request a rating increase when a condition worsens.",
	}).Error; err != nil {
		t.Fatalf("seed article: %v", err)
	}
	if err := db.Create(&Article{
		Title:   "GI Bill Basics",
		Content: "Education benefit details.",
	}).Error; err != nil {
		t.Fatalf("seed article: %v", err)
	}

	a := NewKBAssembler(db, nil)
	out, err := a.BuildPrompt(context.Background(), "Can I get a rating increase?", nil, true, false)
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if !strings.Contains(out, "Disability Rating Increases") {
		t.Fatalf("matching article missing from prompt: %q", out)
	}
	if !strings.HasPrefix(out, BasePrompt) {
		t.Fatalf("prompt must start with the base instruction")
	}
}

func TestBuildPrompt_DatasetRecords(t *testing.T) {
	db := openTestDB(t)
	if err := db.Create(&DatasetRecord{
		Question: "What is a rating decision letter?",
		Answer:   "The VA document explaining your rating.",
	}).Error; err != nil {
		t.Fatalf("seed record: %v", err)
	}

	a := NewKBAssembler(db, nil)
	out, err := a.BuildPrompt(context.Background(), "Explain my rating decision", nil, false, true)
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if !strings.Contains(out, "rating decision letter") {
		t.Fatalf("matching dataset record missing from prompt: %q", out)
	}
}

func TestBuildPrompt_NoKeywordsNoRetrieval(t *testing.T) {
	db := openTestDB(t)
	a := NewKBAssembler(db, nil)

	out, err := a.BuildPrompt(context.Background(), "a b c", nil, true, true)
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if strings.Contains(out, "reference material") {
		t.Fatalf("short words must not trigger retrieval: %q", out)
	}
}

func TestBuildPrompt_RendersHistory(t *testing.T) {
	db := openTestDB(t)
	a := NewKBAssembler(db, nil)

	out, err := a.BuildPrompt(context.Background(), "follow up", []ai.Message{
		{Role: "user", Content: "earlier question"},
	}, true, false)
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	if !strings.Contains(out, "user: earlier question") {
		t.Fatalf("history missing from prompt: %q", out)
	}
}
