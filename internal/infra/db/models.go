package db

import (
	"time"

	"gorm.io/gorm"
)

type userModel struct {
	ID             uint   `gorm:"primaryKey"`
	TelegramUserID int64  `gorm:"uniqueIndex;not null"`
	Username       string `gorm:""`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

type alarmModel struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            uint   `gorm:"index:idx_alarms_user_active_deleted,priority:1;not null"`
	ItemName          string `gorm:"not null"`
	NormalizedName    string `gorm:"index;not null"`
	Threshold         int64  `gorm:"not null"`
	CurrentPrice      int64
	LastCheckedAt     *time.Time
	LastNotifiedPrice *int64
	LastNotifiedAt    *time.Time
	Flagged           bool
	Active            bool `gorm:"index:idx_alarms_user_active_deleted,priority:2"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         gorm.DeletedAt `gorm:"index:idx_alarms_user_active_deleted,priority:3"`
}
