package quota

import "time"

type Tier string

const (
	TierFree     Tier = "free"
	TierPremium  Tier = "premium"
	TierLifetime Tier = "lifetime"
)

// Daily query limits per tier. Premium and lifetime are effectively
// unlimited for real traffic but still bounded.
const (
	freeDailyLimit     = 50
	premiumDailyLimit  = 5000
	lifetimeDailyLimit = 5000
)

// DailyLimit returns the query limit for a tier. Unknown tiers are treated
// as free.
func DailyLimit(t Tier) int {
	switch t {
	case TierPremium:
		return premiumDailyLimit
	case TierLifetime:
		return lifetimeDailyLimit
	default:
		return freeDailyLimit
	}
}

// Record is one (user, UTC calendar day) quota row. QueryCount only ever
// grows, and only through Ledger.Admit.
type Record struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	UserID     string    `gorm:"type:varchar(64);not null;index:uniq_quota_user_date,unique,priority:1"`
	Date       string    `gorm:"type:varchar(10);not null;index:uniq_quota_user_date,unique,priority:2"`
	QueryCount int       `gorm:"not null;default:0"`
	Tier       string    `gorm:"type:varchar(16);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Record) TableName() string { return "user_query_quotas" }

// Subscription maps a user to a subscription tier. Users without a row are
// on the free tier.
type Subscription struct {
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	Tier      string    `gorm:"type:varchar(16);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Subscription) TableName() string { return "user_subscriptions" }
