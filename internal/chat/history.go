package chat

import (
	"context"
	"sort"
)

const (
	titleLimit   = 50
	previewLimit = 80
	ellipsis     = "..."

	// shown when a conversation has no user turn to title it with
	untitledConversation = "New conversation"

	defaultListLimit = 20
)

// truncate cuts s to max runes and appends the ellipsis only when a cut
// actually happened.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + ellipsis
}

// Aggregator groups raw message rows into conversation summaries and handles
// whole-conversation deletion.
type Aggregator struct {
	repo *Repo
}

func NewAggregator(repo *Repo) *Aggregator {
	return &Aggregator{repo: repo}
}

// ListConversations fetches every message the user owns, groups by
// conversation, and returns summaries ordered by last activity, newest
// first. limit truncates the sorted list; Total reports the count before
// truncation.
func (a *Aggregator) ListConversations(ctx context.Context, userID string, limit int) (*ConversationList, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	msgs, err := a.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]Message)
	for _, m := range msgs {
		groups[m.ConversationID] = append(groups[m.ConversationID], m)
	}

	summaries := make([]ConversationSummary, 0, len(groups))
	for conversationID, group := range groups {
		// store ordering is not assumed
		sort.Slice(group, func(i, j int) bool {
			if group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].ID < group[j].ID
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})

		first := group[0]
		last := group[len(group)-1]

		title := untitledConversation
		for _, m := range group {
			if m.Role == "user" {
				title = truncate(m.Content, titleLimit)
				break
			}
		}

		summaries = append(summaries, ConversationSummary{
			ConversationID: conversationID,
			Title:          title,
			Preview:        truncate(last.Content, previewLimit),
			MessageCount:   len(group),
			CreatedAt:      first.CreatedAt,
			UpdatedAt:      last.CreatedAt,
		})
	}

	// most recently active first; conversation id breaks ties so the
	// ordering is stable across runs
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ConversationID < summaries[j].ConversationID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	total := len(summaries)
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}

	return &ConversationList{
		Conversations: summaries,
		Count:         len(summaries),
		Total:         total,
	}, nil
}

// DeleteConversation removes every message sharing (userID, conversationID).
func (a *Aggregator) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	return a.repo.DeleteConversation(ctx, userID, conversationID)
}
