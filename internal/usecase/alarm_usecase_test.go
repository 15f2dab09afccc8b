package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
)

func TestAddAlarmRegistersUserImplicitly(t *testing.T) {
	users := newFakeUserRepo()
	alarms := newFakeAlarmRepo()
	uc := NewAlarmUsecase(users, alarms)

	alarm, err := uc.AddAlarm(context.Background(), 42, "tester", "Dreugh  Wax", 50000)
	if err != nil {
		t.Fatalf("AddAlarm failed: %v", err)
	}
	if alarm.ItemName != "Dreugh Wax" {
		t.Errorf("expected collapsed whitespace in the display name, got %q", alarm.ItemName)
	}
	if alarm.NormalizedName != "dreugh wax" {
		t.Errorf("expected normalized match key, got %q", alarm.NormalizedName)
	}
	if !alarm.Active {
		t.Error("new alarms start active")
	}

	if _, err := users.GetByTelegramID(context.Background(), 42); err != nil {
		t.Errorf("expected the user to exist after a first add: %v", err)
	}
}

func TestAddAlarmValidation(t *testing.T) {
	uc := NewAlarmUsecase(newFakeUserRepo(), newFakeAlarmRepo())
	ctx := context.Background()

	if _, err := uc.AddAlarm(ctx, 42, "t", "Kuta", 0); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("zero threshold: expected ErrInvalidThreshold, got %v", err)
	}
	if _, err := uc.AddAlarm(ctx, 42, "t", "Kuta", -5); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("negative threshold: expected ErrInvalidThreshold, got %v", err)
	}
	if _, err := uc.AddAlarm(ctx, 42, "t", "K", 100); !errors.Is(err, ErrInvalidItemName) {
		t.Errorf("one-rune name: expected ErrInvalidItemName, got %v", err)
	}
	if _, err := uc.AddAlarm(ctx, 42, "t", "   ", 100); !errors.Is(err, ErrInvalidItemName) {
		t.Errorf("blank name: expected ErrInvalidItemName, got %v", err)
	}
}

func TestAddAlarmRejectsDuplicateItem(t *testing.T) {
	uc := NewAlarmUsecase(newFakeUserRepo(), newFakeAlarmRepo())
	ctx := context.Background()

	if _, err := uc.AddAlarm(ctx, 42, "t", "Dragon Rheum", 6000); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if _, err := uc.AddAlarm(ctx, 42, "t", "DRAGON rheum", 5000); !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem for the same item, got %v", err)
	}

	// a different user may watch the same item
	if _, err := uc.AddAlarm(ctx, 43, "u", "Dragon Rheum", 6000); err != nil {
		t.Fatalf("another user's add failed: %v", err)
	}
}

func TestAddAlarmCapacity(t *testing.T) {
	uc := NewAlarmUsecase(newFakeUserRepo(), newFakeAlarmRepo())
	ctx := context.Background()

	for i := 0; i < domain.MaxAlarmsPerUser; i++ {
		if _, err := uc.AddAlarm(ctx, 42, "t", fmt.Sprintf("Item Number %d", i), 100); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
	}

	if _, err := uc.AddAlarm(ctx, 42, "t", "One Too Many", 100); !errors.Is(err, ErrTooManyAlarms) {
		t.Fatalf("expected ErrTooManyAlarms past the cap, got %v", err)
	}

	listed, err := uc.ListAlarms(ctx, 42)
	if err != nil {
		t.Fatalf("ListAlarms failed: %v", err)
	}
	if len(listed) != domain.MaxAlarmsPerUser {
		t.Fatalf("a rejected add must not change the count: got %d", len(listed))
	}
}

func TestConcurrentAddsRespectCapacity(t *testing.T) {
	uc := NewAlarmUsecase(newFakeUserRepo(), newFakeAlarmRepo())
	ctx := context.Background()

	// register up front so concurrent adds race only on the alarm store
	if _, err := uc.AddAlarm(ctx, 42, "t", "Seed Item", 100); err != nil {
		t.Fatalf("seed add failed: %v", err)
	}

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := uc.AddAlarm(ctx, 42, "t", fmt.Sprintf("Item Number %d", i), 100)
			if err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, ErrTooManyAlarms) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	listed, err := uc.ListAlarms(ctx, 42)
	if err != nil {
		t.Fatalf("ListAlarms failed: %v", err)
	}
	if len(listed) != domain.MaxAlarmsPerUser {
		t.Fatalf("expected exactly %d alarms after concurrent adds, got %d", domain.MaxAlarmsPerUser, len(listed))
	}
	if int(accepted.Load())+1 != domain.MaxAlarmsPerUser {
		t.Errorf("accepted adds (%d) plus the seed should equal the cap", accepted.Load())
	}
}

func TestListAlarmsUnregisteredUser(t *testing.T) {
	uc := NewAlarmUsecase(newFakeUserRepo(), newFakeAlarmRepo())
	if _, err := uc.ListAlarms(context.Background(), 99); !errors.Is(err, ErrUserNotRegistered) {
		t.Fatalf("expected ErrUserNotRegistered, got %v", err)
	}
}

func TestRemoveAlarmOwnership(t *testing.T) {
	uc := NewAlarmUsecase(newFakeUserRepo(), newFakeAlarmRepo())
	ctx := context.Background()

	alarm, err := uc.AddAlarm(ctx, 42, "owner", "Dreugh Wax", 50000)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := uc.AddAlarm(ctx, 43, "other", "Kuta", 8000); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := uc.RemoveAlarm(ctx, 43, alarm.ID); !errors.Is(err, ErrAlarmNotOwned) {
		t.Fatalf("expected ErrAlarmNotOwned, got %v", err)
	}

	// the failed removal must leave the alarm in place
	listed, err := uc.ListAlarms(ctx, 42)
	if err != nil {
		t.Fatalf("ListAlarms failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected the owner's alarm to survive, got %d alarms", len(listed))
	}

	if err := uc.RemoveAlarm(ctx, 42, alarm.ID); err != nil {
		t.Fatalf("owner removal failed: %v", err)
	}
	if err := uc.RemoveAlarm(ctx, 42, alarm.ID); !errors.Is(err, ErrAlarmNotFound) {
		t.Fatalf("expected ErrAlarmNotFound after deletion, got %v", err)
	}
}
