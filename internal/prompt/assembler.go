// Package prompt builds the system prompt for the assistant. The gateway
// treats assembly as best-effort: any error here makes it fall back to
// Fallback, never abort the request.
package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vetclaims/assistant-api/internal/ai"
	"github.com/vetclaims/assistant-api/internal/store/redisstore"
	"gorm.io/gorm"
)

// BasePrompt is the fixed instruction every assembled or fallback prompt
// starts from.
const BasePrompt = "You are a knowledgeable assistant for U.S. veterans navigating VA benefits. " +
	"Answer questions about disability claims, ratings, appeals, education benefits, and related topics. " +
	"Be accurate and concise. If you are unsure, say so and point the veteran to official VA resources."

// Assembler augments BasePrompt with retrieved knowledge context.
type Assembler interface {
	BuildPrompt(ctx context.Context, question string, history []ai.Message, useKnowledgeBase, useDataset bool) (string, error)
}

// Fallback is the deterministic prompt used when assembly fails: base
// instruction, plain-text history, then the question.
func Fallback(question string, history []ai.Message) string {
	var b strings.Builder
	b.WriteString(BasePrompt)
	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, m := range history {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	if question != "" {
		b.WriteString("\nCurrent question: ")
		b.WriteString(question)
	}
	return b.String()
}

// Article is one knowledge-base document matched against the question.
type Article struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Title     string    `gorm:"type:varchar(255);not null;index"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Article) TableName() string { return "knowledge_articles" }

// DatasetRecord is one curated question/answer pair from the claims dataset.
type DatasetRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Question  string    `gorm:"type:text;not null"`
	Answer    string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (DatasetRecord) TableName() string { return "dataset_records" }

const (
	maxArticles       = 3
	maxDatasetRecords = 3
	cacheTTL          = 10 * time.Minute
)

// KBAssembler retrieves knowledge articles and dataset records matching the
// question, with a redis cache in front of the tables.
type KBAssembler struct {
	db    *gorm.DB
	cache *redisstore.Store
}

// NewKBAssembler builds an assembler. cache may be nil; retrieval then always
// hits the database.
func NewKBAssembler(db *gorm.DB, cache *redisstore.Store) *KBAssembler {
	return &KBAssembler{db: db, cache: cache}
}

func cacheKey(question string, useKB, useDataset bool) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%t|%t|%s", useKB, useDataset, question)))
	return hex.EncodeToString(sum[:16])
}

// keywords picks the searchable terms from a question. Short words are
// dropped to keep the LIKE queries selective.
func keywords(question string) []string {
	fields := strings.Fields(strings.ToLower(question))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?\"'()")
		if len(f) >= 4 {
			out = append(out, f)
		}
	}
	if len(out) > 6 {
		out = out[:6]
	}
	return out
}

func (a *KBAssembler) retrieveContext(ctx context.Context, question string, useKB, useDataset bool) (string, error) {
	key := cacheKey(question, useKB, useDataset)
	if a.cache != nil {
		if cached, err := a.cache.GetContext(ctx, key); err != nil {
			log.Printf("[PromptAssembler] cache get failed: %v", err)
		} else if cached != "" {
			return cached, nil
		}
	}

	terms := keywords(question)
	if len(terms) == 0 {
		return "", nil
	}

	var b strings.Builder

	if useKB {
		q := a.db.WithContext(ctx).Model(&Article{})
		for i, t := range terms {
			like := "%" + t + "%"
			if i == 0 {
				q = q.Where("title LIKE ? OR content LIKE ?", like, like)
			} else {
				q = q.Or("title LIKE ? OR content LIKE ?", like, like)
			}
		}
		var articles []Article
		if err := q.Limit(maxArticles).Find(&articles).Error; err != nil {
			return "", err
		}
		for _, art := range articles {
			b.WriteString("## ")
			b.WriteString(art.Title)
			b.WriteString("\n")
			b.WriteString(art.Content)
			b.WriteString("\n\n")
		}
	}

	if useDataset {
		q := a.db.WithContext(ctx).Model(&DatasetRecord{})
		for i, t := range terms {
			like := "%" + t + "%"
			if i == 0 {
				q = q.Where("question LIKE ? OR answer LIKE ?", like, like)
			} else {
				q = q.Or("question LIKE ? OR answer LIKE ?", like, like)
			}
		}
		var records []DatasetRecord
		if err := q.Limit(maxDatasetRecords).Find(&records).Error; err != nil {
			return "", err
		}
		for _, rec := range records {
			b.WriteString("Q: ")
			b.WriteString(rec.Question)
			b.WriteString("\nA: ")
			b.WriteString(rec.Answer)
			b.WriteString("\n\n")
		}
	}

	retrieved := strings.TrimSpace(b.String())
	if a.cache != nil && retrieved != "" {
		if err := a.cache.SetContext(ctx, key, retrieved, cacheTTL); err != nil {
			log.Printf("[PromptAssembler] cache set failed: %v", err)
		}
	}
	return retrieved, nil
}

func (a *KBAssembler) BuildPrompt(ctx context.Context, question string, history []ai.Message, useKnowledgeBase, useDataset bool) (string, error) {
	retrieved, err := a.retrieveContext(ctx, question, useKnowledgeBase, useDataset)
	if err != nil {
		return "", fmt.Errorf("prompt build: %w", err)
	}

	var b strings.Builder
	b.WriteString(BasePrompt)
	if retrieved != "" {
		b.WriteString("\n\nUse the following reference material when it is relevant:\n\n")
		b.WriteString(retrieved)
	}
	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, m := range history {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
