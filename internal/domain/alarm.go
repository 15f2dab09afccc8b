package domain

import (
	"strings"
	"time"
)

// MaxAlarmsPerUser caps how many active alarms a single user may hold.
const MaxAlarmsPerUser = 15

type Alarm struct {
	ID                uint
	UserID            uint
	ItemName          string
	NormalizedName    string
	Threshold         int64
	CurrentPrice      int64
	LastCheckedAt     *time.Time
	LastNotifiedPrice *int64
	LastNotifiedAt    *time.Time
	Flagged           bool
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// NormalizeItemName collapses whitespace and case-folds an item name.
// The result is the match key used for listing matching and for fetch
// coalescing, so every caller must normalize the same way.
func NormalizeItemName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
