package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"go.uber.org/zap"
)

func newTestMonitor(cfg MonitorConfig) (*Monitor, *fakeUserRepo, *fakeAlarmRepo, *fakeMarket, *fakeDispatcher) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	if cfg.FailLimit == 0 {
		cfg.FailLimit = 3
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	users := newFakeUserRepo()
	alarms := newFakeAlarmRepo()
	market := newFakeMarket()
	dispatch := &fakeDispatcher{}
	m := NewMonitor(users, alarms, market, dispatch, cfg, zap.NewNop())
	return m, users, alarms, market, dispatch
}

func seedAlarm(t *testing.T, users *fakeUserRepo, alarms *fakeAlarmRepo, telegramUserID int64, item string, threshold int64) domain.Alarm {
	t.Helper()
	ctx := context.Background()
	user := &domain.User{TelegramUserID: telegramUserID, Username: "tester"}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	alarm := &domain.Alarm{
		UserID:         user.ID,
		ItemName:       item,
		NormalizedName: domain.NormalizeItemName(item),
		Threshold:      threshold,
		Active:         true,
	}
	if err := alarms.Create(ctx, alarm); err != nil {
		t.Fatalf("failed to create alarm: %v", err)
	}
	return *alarm
}

func TestCheckAlarmDispatchesAndRecords(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{})
	alarm := seedAlarm(t, users, alarms, 100, "Dragon Rheum", 6000)
	market.setResult("dragon rheum", 6500, 5990)

	m.checkAlarm(context.Background(), alarm, false)

	if dispatch.eventCount() != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", dispatch.eventCount())
	}
	event := dispatch.events[0]
	if event.Listing.UnitPrice != 5990 {
		t.Errorf("expected the cheapest listing, got %d", event.Listing.UnitPrice)
	}
	if event.TargetChatID != 100 {
		t.Errorf("expected the owner's chat id, got %d", event.TargetChatID)
	}

	stored := alarms.get(alarm.ID)
	if stored.CurrentPrice != 5990 {
		t.Errorf("expected observed price 5990, got %d", stored.CurrentPrice)
	}
	if stored.LastNotifiedPrice == nil || *stored.LastNotifiedPrice != 5990 {
		t.Error("expected the notified price to be recorded")
	}
	if stored.LastNotifiedAt == nil {
		t.Error("expected the notification time to be recorded")
	}
}

func TestCooldownSuppressesRepeat(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{Cooldown: 10 * time.Minute})
	alarm := seedAlarm(t, users, alarms, 100, "Dragon Rheum", 6000)
	market.setResult("dragon rheum", 5990)

	now := time.Now()
	m.clock = func() time.Time { return now }

	lastAt := now.Add(-2 * time.Minute)
	lastPrice := int64(5990)
	alarm.LastNotifiedAt = &lastAt
	alarm.LastNotifiedPrice = &lastPrice

	m.checkAlarm(context.Background(), alarm, false)
	if dispatch.eventCount() != 0 {
		t.Fatalf("expected suppression inside the cooldown, got %d events", dispatch.eventCount())
	}

	// a strictly better price breaks through the cooldown
	market.setResult("dragon rheum", 5500)
	m.checkAlarm(context.Background(), alarm, false)
	if dispatch.eventCount() != 1 {
		t.Fatalf("expected an improved price to fire, got %d events", dispatch.eventCount())
	}
	if dispatch.events[0].Listing.UnitPrice != 5500 {
		t.Errorf("expected price 5500, got %d", dispatch.events[0].Listing.UnitPrice)
	}
}

func TestCooldownExpiredRefires(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{Cooldown: 10 * time.Minute})
	alarm := seedAlarm(t, users, alarms, 100, "Dragon Rheum", 6000)
	market.setResult("dragon rheum", 5990)

	now := time.Now()
	m.clock = func() time.Time { return now }

	lastAt := now.Add(-11 * time.Minute)
	lastPrice := int64(5990)
	alarm.LastNotifiedAt = &lastAt
	alarm.LastNotifiedPrice = &lastPrice

	m.checkAlarm(context.Background(), alarm, false)
	if dispatch.eventCount() != 1 {
		t.Fatalf("expected a re-fire after the cooldown, got %d events", dispatch.eventCount())
	}
}

func TestManualCheckBypassesCooldown(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{Cooldown: 10 * time.Minute})
	alarm := seedAlarm(t, users, alarms, 100, "Dragon Rheum", 6000)
	market.setResult("dragon rheum", 5990)

	now := time.Now()
	m.clock = func() time.Time { return now }

	lastAt := now.Add(-time.Minute)
	lastPrice := int64(5990)
	alarm.LastNotifiedAt = &lastAt
	alarm.LastNotifiedPrice = &lastPrice

	m.checkAlarm(context.Background(), alarm, true)
	if dispatch.eventCount() != 1 {
		t.Fatalf("expected a manual check to ignore the cooldown, got %d events", dispatch.eventCount())
	}
}

func TestManualCheckReportsAboveThreshold(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{})
	alarm := seedAlarm(t, users, alarms, 100, "Dragon Rheum", 6000)
	market.setResult("dragon rheum", 6500)

	m.checkAlarm(context.Background(), alarm, true)

	if dispatch.eventCount() != 0 {
		t.Fatal("a price above the threshold must not dispatch an alert")
	}
	if dispatch.textCount() != 1 {
		t.Fatalf("expected one status message for a manual check, got %d", dispatch.textCount())
	}
}

func TestDispatchFailureDoesNotRecordNotification(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{})
	alarm := seedAlarm(t, users, alarms, 100, "Dragon Rheum", 6000)
	market.setResult("dragon rheum", 5990)

	dispatch.dispatchErr = domain.ErrUserUnreachable
	m.checkAlarm(context.Background(), alarm, false)

	stored := alarms.get(alarm.ID)
	if stored.LastNotifiedAt != nil {
		t.Fatal("a failed delivery must not move the notification marker")
	}

	// the next cycle retries as if nothing was sent
	dispatch.dispatchErr = nil
	m.checkAlarm(context.Background(), alarm, false)
	if dispatch.eventCount() != 1 {
		t.Fatalf("expected a retry after delivery failure, got %d events", dispatch.eventCount())
	}
}

func TestFailureStreakFlagsOnce(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{FailLimit: 3})
	alarm := seedAlarm(t, users, alarms, 100, "Dreugh Wax", 50000)
	market.errs["dreugh wax"] = domain.ErrTransport

	ctx := context.Background()
	m.checkAlarm(ctx, alarm, false)
	m.checkAlarm(ctx, alarm, false)
	if alarms.get(alarm.ID).Flagged {
		t.Fatal("two failures must not flag the alarm yet")
	}
	if dispatch.textCount() != 0 {
		t.Fatalf("no diagnostic expected before the limit, got %d", dispatch.textCount())
	}

	m.checkAlarm(ctx, alarm, false)
	if !alarms.get(alarm.ID).Flagged {
		t.Fatal("expected the alarm to be flagged at the failure limit")
	}
	if dispatch.textCount() != 1 {
		t.Fatalf("expected exactly one diagnostic message, got %d", dispatch.textCount())
	}

	// the streak resets after the diagnostic; the next two failures
	// stay quiet
	m.checkAlarm(ctx, alarm, false)
	m.checkAlarm(ctx, alarm, false)
	if dispatch.textCount() != 1 {
		t.Fatalf("expected no repeated diagnostic mid-streak, got %d", dispatch.textCount())
	}
	m.checkAlarm(ctx, alarm, false)
	if dispatch.textCount() != 2 {
		t.Fatalf("expected a second diagnostic after another full streak, got %d", dispatch.textCount())
	}
}

func TestItemNotFoundDoesNotAdvanceStreak(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{FailLimit: 2})
	alarm := seedAlarm(t, users, alarms, 100, "Mystery Item", 100)
	market.errs["mystery item"] = domain.ErrItemNotFound

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.checkAlarm(ctx, alarm, false)
	}

	if alarms.get(alarm.ID).Flagged {
		t.Fatal("an empty search result is not a failure and must not flag the alarm")
	}
	if dispatch.textCount() != 0 {
		t.Fatalf("expected no diagnostics for scheduled not-found results, got %d", dispatch.textCount())
	}
}

func TestFailureStreaksIsolatedPerAlarm(t *testing.T) {
	m, users, alarms, market, _ := newTestMonitor(MonitorConfig{FailLimit: 3})
	alarmA := seedAlarm(t, users, alarms, 100, "Dreugh Wax", 50000)
	alarmB := seedAlarm(t, users, alarms, 200, "Kuta", 8000)
	market.errs["dreugh wax"] = domain.ErrTransport
	market.errs["kuta"] = domain.ErrTransport

	ctx := context.Background()
	m.checkAlarm(ctx, alarmA, false)
	m.checkAlarm(ctx, alarmA, false)
	m.checkAlarm(ctx, alarmB, false)

	if alarms.get(alarmA.ID).Flagged || alarms.get(alarmB.ID).Flagged {
		t.Fatal("failures on one alarm must not count against another")
	}
}

func TestSuccessClearsFlagAndStreak(t *testing.T) {
	m, users, alarms, market, _ := newTestMonitor(MonitorConfig{FailLimit: 3})
	alarm := seedAlarm(t, users, alarms, 100, "Kuta", 8000)

	ctx := context.Background()
	market.errs["kuta"] = domain.ErrTransport
	m.checkAlarm(ctx, alarm, false)
	m.checkAlarm(ctx, alarm, false)

	delete(market.errs, "kuta")
	market.setResult("kuta", 9000)
	alarm.Flagged = true
	if err := alarms.SetFlagged(ctx, alarm.ID, true); err != nil {
		t.Fatalf("failed to flag alarm: %v", err)
	}

	m.checkAlarm(ctx, alarm, false)
	if alarms.get(alarm.ID).Flagged {
		t.Fatal("a successful check must clear the flag")
	}

	// the earlier partial streak is gone; a fresh failure starts at one
	market.errs["kuta"] = domain.ErrTransport
	m.checkAlarm(ctx, alarm, false)
	if alarms.get(alarm.ID).Flagged {
		t.Fatal("a single failure after recovery must not flag the alarm")
	}
}

func TestRunCycleCoalescesSameItem(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{Workers: 4})
	seedAlarm(t, users, alarms, 100, "Dragon Rheum", 6000)
	seedAlarm(t, users, alarms, 200, "Dragon Rheum", 7000)
	market.setResult("dragon rheum", 5990)
	market.delay = 150 * time.Millisecond

	m.runCycle(context.Background())

	if got := market.callCount("dragon rheum"); got != 1 {
		t.Errorf("expected one coalesced fetch for concurrent alarms, got %d", got)
	}
	if dispatch.eventCount() != 2 {
		t.Errorf("both alarms should evaluate the shared snapshot, got %d events", dispatch.eventCount())
	}
}

func TestCheckNowQueueBound(t *testing.T) {
	m, _, _, _, _ := newTestMonitor(MonitorConfig{})

	accepted := 0
	for i := 0; i < 20; i++ {
		if m.CheckNow(1, 0) {
			accepted++
		}
	}
	if accepted != 16 {
		t.Fatalf("expected the queue to accept 16 requests, got %d", accepted)
	}
	if m.CheckNow(1, 0) {
		t.Fatal("a full queue must reject without blocking")
	}
}

func TestRunUserCheckWithoutAlarms(t *testing.T) {
	m, users, _, _, dispatch := newTestMonitor(MonitorConfig{})
	ctx := context.Background()
	user := &domain.User{TelegramUserID: 100}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	m.runUserCheck(ctx, checkRequest{userID: user.ID})
	if dispatch.textCount() != 1 {
		t.Fatalf("expected a hint when there is nothing to check, got %d messages", dispatch.textCount())
	}
	if !strings.Contains(dispatch.texts[0], "Nothing to check") {
		t.Errorf("expected the no-alarms hint, got %q", dispatch.texts[0])
	}
}

func TestRunUserCheckUnknownAlarmID(t *testing.T) {
	m, users, alarms, market, dispatch := newTestMonitor(MonitorConfig{})
	alarm := seedAlarm(t, users, alarms, 100, "Kuta", 8000)
	market.setResult("kuta", 9000)

	m.runUserCheck(context.Background(), checkRequest{userID: alarm.UserID, alarmID: alarm.ID + 99})

	if got := market.callCount("kuta"); got != 0 {
		t.Errorf("a wrong id must not trigger fetches, got %d", got)
	}
	if dispatch.textCount() != 1 {
		t.Fatalf("expected one message, got %d", dispatch.textCount())
	}
	if !strings.Contains(dispatch.texts[0], "not in your list") {
		t.Errorf("a wrong id should not read like an empty list, got %q", dispatch.texts[0])
	}
}
