// internal/models/user.go
package models

import "time"

// UserTier 用户等级，决定生成配额
type UserTier string

const (
	TierFree UserTier = "free"
	TierPro  UserTier = "pro"
)

// TierQuota 各等级的配额上限
type TierQuota struct {
	MaxScenesPerScript  int `json:"max_scenes_per_script"`
	MaxShotsPerScene    int `json:"max_shots_per_scene"`
	MaxGenerationsDaily int `json:"max_generations_daily"`
}

// tierQuotas 内置配额表
var tierQuotas = map[UserTier]TierQuota{
	TierFree: {MaxScenesPerScript: 10, MaxShotsPerScene: 12, MaxGenerationsDaily: 30},
	TierPro:  {MaxScenesPerScript: 200, MaxShotsPerScene: 60, MaxGenerationsDaily: 1000},
}

// QuotaFor 返回等级对应的配额，未知等级按 free 处理
func QuotaFor(tier UserTier) TierQuota {
	if q, ok := tierQuotas[tier]; ok {
		return q
	}
	return tierQuotas[TierFree]
}

// User 用户资料
type User struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email,omitempty"`
	Tier        UserTier          `json:"tier"`
	Preferences UserPreferences   `json:"preferences"`
	Usage       map[string]int    `json:"usage,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastActive  time.Time         `json:"last_active"`
}

// UserPreferences 用户个性化设置
type UserPreferences struct {
	DefaultStyle    ShotStyle `json:"default_style,omitempty"`
	PreferredModel  string    `json:"preferred_model,omitempty"`
	CreativityLevel float64   `json:"creativity_level,omitempty"`
}

// UsageKey 用量计数的日期键，形如 gen:2026-08-31
func UsageKey(day time.Time) string {
	return "gen:" + day.Format("2006-01-02")
}
