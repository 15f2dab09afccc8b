package db

import (
	"context"
	"time"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"gorm.io/gorm"
)

type AlarmRepository struct {
	db *gorm.DB
}

func NewAlarmRepository(db *gorm.DB) *AlarmRepository {
	return &AlarmRepository{db: db}
}

// Create inserts the alarm, enforcing the per-user capacity limit.
// The count-then-insert runs under a per-user advisory lock: at Read
// Committed two concurrent transactions would otherwise both count the
// pre-insert state and overshoot the cap.
func (r *AlarmRepository) Create(ctx context.Context, alarm *domain.Alarm) error {
	model := mapAlarmToModel(*alarm)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(alarm.UserID)).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&alarmModel{}).
			Where("user_id = ? AND active = ?", alarm.UserID, true).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= domain.MaxAlarmsPerUser {
			return domain.ErrCapacityExceeded
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return err
	}
	alarm.ID = model.ID
	alarm.CreatedAt = model.CreatedAt
	alarm.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *AlarmRepository) ListByUser(ctx context.Context, userID uint) ([]domain.Alarm, error) {
	var models []alarmModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("id").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return mapAlarmsToDomain(models), nil
}

func (r *AlarmRepository) ListActive(ctx context.Context) ([]domain.Alarm, error) {
	var models []alarmModel
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return mapAlarmsToDomain(models), nil
}

// Delete removes the alarm only when the requester owns it. Ownership
// failures leave the row untouched.
func (r *AlarmRepository) Delete(ctx context.Context, alarmID, requesterID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model alarmModel
		if err := tx.First(&model, alarmID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return domain.ErrNotFound
			}
			return err
		}
		if model.UserID != requesterID {
			return domain.ErrNotOwner
		}
		return tx.Delete(&model).Error
	})
}

func (r *AlarmRepository) SetObservedPrice(ctx context.Context, alarmID uint, price int64, at time.Time) error {
	return r.updateColumns(ctx, alarmID, map[string]interface{}{
		"current_price":   price,
		"last_checked_at": at,
	})
}

func (r *AlarmRepository) SetNotified(ctx context.Context, alarmID uint, price int64, at time.Time) error {
	return r.updateColumns(ctx, alarmID, map[string]interface{}{
		"last_notified_price": price,
		"last_notified_at":    at,
	})
}

func (r *AlarmRepository) SetFlagged(ctx context.Context, alarmID uint, flagged bool) error {
	return r.updateColumns(ctx, alarmID, map[string]interface{}{"flagged": flagged})
}

func (r *AlarmRepository) updateColumns(ctx context.Context, alarmID uint, values map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&alarmModel{}).Where("id = ?", alarmID).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func mapAlarmsToDomain(models []alarmModel) []domain.Alarm {
	alarms := make([]domain.Alarm, 0, len(models))
	for _, model := range models {
		alarms = append(alarms, mapAlarmToDomain(model))
	}
	return alarms
}

func mapAlarmToDomain(model alarmModel) domain.Alarm {
	var deleted *time.Time
	if model.DeletedAt.Valid {
		t := model.DeletedAt.Time
		deleted = &t
	}
	return domain.Alarm{
		ID:                model.ID,
		UserID:            model.UserID,
		ItemName:          model.ItemName,
		NormalizedName:    model.NormalizedName,
		Threshold:         model.Threshold,
		CurrentPrice:      model.CurrentPrice,
		LastCheckedAt:     model.LastCheckedAt,
		LastNotifiedPrice: model.LastNotifiedPrice,
		LastNotifiedAt:    model.LastNotifiedAt,
		Flagged:           model.Flagged,
		Active:            model.Active,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
		DeletedAt:         deleted,
	}
}

func mapAlarmToModel(alarm domain.Alarm) alarmModel {
	return alarmModel{
		ID:                alarm.ID,
		UserID:            alarm.UserID,
		ItemName:          alarm.ItemName,
		NormalizedName:    alarm.NormalizedName,
		Threshold:         alarm.Threshold,
		CurrentPrice:      alarm.CurrentPrice,
		LastCheckedAt:     alarm.LastCheckedAt,
		LastNotifiedPrice: alarm.LastNotifiedPrice,
		LastNotifiedAt:    alarm.LastNotifiedAt,
		Flagged:           alarm.Flagged,
		Active:            alarm.Active,
		CreatedAt:         alarm.CreatedAt,
		UpdatedAt:         alarm.UpdatedAt,
	}
}
