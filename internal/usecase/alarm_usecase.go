package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
)

var (
	ErrUserNotRegistered = errors.New("user not registered")
	ErrInvalidItemName   = errors.New("invalid item name")
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrDuplicateItem     = errors.New("duplicate item")
	ErrTooManyAlarms     = errors.New("too many alarms")
	ErrAlarmNotFound     = errors.New("alarm not found")
	ErrAlarmNotOwned     = errors.New("alarm not owned")
)

type AlarmUsecase struct {
	users  domain.UserRepository
	alarms domain.AlarmRepository
}

func NewAlarmUsecase(users domain.UserRepository, alarms domain.AlarmRepository) *AlarmUsecase {
	return &AlarmUsecase{users: users, alarms: alarms}
}

// AddAlarm validates and stores a new price alarm. The user is created
// implicitly if this is their first interaction.
func (u *AlarmUsecase) AddAlarm(ctx context.Context, telegramUserID int64, username, itemName string, threshold int64) (*domain.Alarm, error) {
	if threshold <= 0 {
		return nil, ErrInvalidThreshold
	}

	item := strings.Join(strings.Fields(itemName), " ")
	if len([]rune(item)) < 2 {
		return nil, ErrInvalidItemName
	}
	key := domain.NormalizeItemName(item)

	user, err := u.resolveOrCreateUser(ctx, telegramUserID, username)
	if err != nil {
		return nil, err
	}

	existing, err := u.alarms.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.NormalizedName == key {
			return nil, ErrDuplicateItem
		}
	}

	alarm := &domain.Alarm{
		UserID:         user.ID,
		ItemName:       item,
		NormalizedName: key,
		Threshold:      threshold,
		Active:         true,
	}
	if err := u.alarms.Create(ctx, alarm); err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			return nil, ErrTooManyAlarms
		}
		return nil, err
	}
	return alarm, nil
}

func (u *AlarmUsecase) ListAlarms(ctx context.Context, telegramUserID int64) ([]domain.Alarm, error) {
	user, err := u.users.GetByTelegramID(ctx, telegramUserID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, ErrUserNotRegistered
		}
		return nil, err
	}
	return u.alarms.ListByUser(ctx, user.ID)
}

func (u *AlarmUsecase) RemoveAlarm(ctx context.Context, telegramUserID int64, alarmID uint) error {
	user, err := u.users.GetByTelegramID(ctx, telegramUserID)
	if err != nil {
		if err == domain.ErrNotFound {
			return ErrUserNotRegistered
		}
		return err
	}

	if err := u.alarms.Delete(ctx, alarmID, user.ID); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return ErrAlarmNotFound
		case errors.Is(err, domain.ErrNotOwner):
			return ErrAlarmNotOwned
		}
		return err
	}
	return nil
}

func (u *AlarmUsecase) resolveOrCreateUser(ctx context.Context, telegramUserID int64, username string) (*domain.User, error) {
	user, err := u.users.GetByTelegramID(ctx, telegramUserID)
	if err == nil {
		return user, nil
	}
	if err != domain.ErrNotFound {
		return nil, err
	}
	user = &domain.User{TelegramUserID: telegramUserID, Username: username}
	if err := u.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
