package quota

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Decision is the outcome of an admission check. Remaining is -1 when the
// ledger store was unreachable and the request was admitted fail-open.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
}

// Ledger tracks per-user, per-day query counts against tier limits. All
// state lives in the backing store so multiple gateway instances share one
// ledger.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// TierFor resolves the user's subscription tier, defaulting to free when no
// subscription row exists or the lookup fails.
func (l *Ledger) TierFor(ctx context.Context, userID string) Tier {
	if userID == "" {
		return TierFree
	}
	var sub Subscription
	err := l.db.WithContext(ctx).First(&sub, "user_id = ?", userID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[QuotaLedger] tier lookup failed user=%s err=%v", userID, err)
		}
		return TierFree
	}
	switch Tier(sub.Tier) {
	case TierPremium, TierLifetime:
		return Tier(sub.Tier)
	default:
		return TierFree
	}
}

// Admit increments today's count for the user and compares it to the tier
// limit. Increment-then-compare: the request that crosses the limit is the
// one rejected, and it still counts toward the ledger. The increment is a
// conditional upsert so two concurrent requests cannot both observe
// pre-increment state.
//
// On store failure the ledger fails open: the error is logged and the
// request is admitted, so a transient outage does not take chat down.
func (l *Ledger) Admit(ctx context.Context, userID string, tier Tier) Decision {
	limit := DailyLimit(tier)
	today := time.Now().UTC().Format("2006-01-02")

	row := Record{
		UserID:     userID,
		Date:       today,
		QueryCount: 1,
		Tier:       string(tier),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"query_count": gorm.Expr("query_count + 1"),
		}),
	}).Create(&row).Error
	if err != nil {
		log.Printf("[QuotaLedger] increment failed user=%s date=%s err=%v (fail-open)", userID, today, err)
		return Decision{Allowed: true, Remaining: -1, Limit: limit}
	}

	// The upserted struct does not carry the post-increment count when the
	// row already existed; re-fetch for the actual state.
	var current Record
	if err := l.db.WithContext(ctx).
		First(&current, "user_id = ? AND date = ?", userID, today).Error; err != nil {
		log.Printf("[QuotaLedger] fetch after increment failed user=%s date=%s err=%v (fail-open)", userID, today, err)
		return Decision{Allowed: true, Remaining: -1, Limit: limit}
	}

	remaining := limit - current.QueryCount
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   current.QueryCount <= limit,
		Remaining: remaining,
		Limit:     limit,
	}
}
