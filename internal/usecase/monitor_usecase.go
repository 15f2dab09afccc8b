package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Dispatcher delivers evaluation results to users. Implementations own
// formatting and bounded delivery retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *domain.NotificationEvent) error
	NotifyText(ctx context.Context, chatID int64, text string) error
}

type MonitorConfig struct {
	Interval  time.Duration
	Cooldown  time.Duration
	FailLimit int
	Workers   int
}

// Monitor drives the evaluation of all alarms: a fixed-interval cycle
// over every active alarm, plus user-triggered immediate checks. Both
// paths run the same per-alarm logic, so failure handling and the
// notification policy cannot diverge.
type Monitor struct {
	users    domain.UserRepository
	alarms   domain.AlarmRepository
	market   domain.MarketClient
	dispatch Dispatcher
	cfg      MonitorConfig
	logger   *zap.Logger

	group     singleflight.Group
	checkNow  chan checkRequest
	cycleBusy atomic.Bool

	mu          sync.Mutex
	failStreaks map[uint]int

	clock func() time.Time
}

type checkRequest struct {
	userID  uint
	alarmID uint // 0 means all of the user's alarms
}

func NewMonitor(users domain.UserRepository, alarms domain.AlarmRepository, market domain.MarketClient, dispatch Dispatcher, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Monitor{
		users:       users,
		alarms:      alarms,
		market:      market,
		dispatch:    dispatch,
		cfg:         cfg,
		logger:      logger,
		checkNow:    make(chan checkRequest, 16),
		failStreaks: make(map[uint]int),
		clock:       time.Now,
	}
}

// Run blocks until ctx is cancelled. Scheduled cycles and check-now
// requests run in their own goroutines so neither delays the other; an
// in-flight check is never cancelled by a newer one.
func (m *Monitor) Run(ctx context.Context) error {
	// let the bot come up before the first pass
	first := time.NewTimer(30 * time.Second)
	defer first.Stop()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return nil
		case <-first.C:
			go m.runCycle(ctx)
		case <-ticker.C:
			go m.runCycle(ctx)
		case req := <-m.checkNow:
			go m.runUserCheck(ctx, req)
		}
	}
}

// CheckNow queues an immediate evaluation of one user's alarms (or a
// single alarm when alarmID is non-zero). It never blocks; false means
// the queue is full.
func (m *Monitor) CheckNow(userID, alarmID uint) bool {
	select {
	case m.checkNow <- checkRequest{userID: userID, alarmID: alarmID}:
		return true
	default:
		return false
	}
}

// TestItem fetches current listings for an arbitrary item, allowing an
// interactive captcha resolution. Used by the /test command.
func (m *Monitor) TestItem(ctx context.Context, itemName string) (*domain.FetchResult, error) {
	return m.market.Fetch(ctx, itemName, domain.FetchOptions{Interactive: true})
}

func (m *Monitor) runCycle(ctx context.Context) {
	if !m.cycleBusy.CompareAndSwap(false, true) {
		m.logger.Warn("previous cycle still running, skipping tick")
		return
	}
	defer m.cycleBusy.Store(false)

	alarms, err := m.alarms.ListActive(ctx)
	if err != nil {
		m.logger.Error("failed to list active alarms", zap.Error(err))
		return
	}

	start := m.clock()
	m.logger.Info("cycle start", zap.Int("alarms", len(alarms)))

	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for _, alarm := range alarms {
		alarm := alarm
		g.Go(func() error {
			m.checkAlarm(ctx, alarm, false)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("cycle complete", zap.Duration("duration", m.clock().Sub(start)))
}

func (m *Monitor) runUserCheck(ctx context.Context, req checkRequest) {
	alarms, err := m.alarms.ListByUser(ctx, req.userID)
	if err != nil {
		m.logger.Warn("failed to list alarms for check", zap.Uint("user_id", req.userID), zap.Error(err))
		return
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	matched := 0
	for _, alarm := range alarms {
		if req.alarmID != 0 && alarm.ID != req.alarmID {
			continue
		}
		matched++
		alarm := alarm
		g.Go(func() error {
			m.checkAlarm(ctx, alarm, true)
			return nil
		})
	}
	_ = g.Wait()

	if matched == 0 {
		if req.alarmID != 0 && len(alarms) > 0 {
			m.notifyOwner(ctx, req.userID, fmt.Sprintf(
				"Alarm #%d is not in your list. Ids are shown in /list.", req.alarmID))
			return
		}
		m.notifyOwner(ctx, req.userID, "Nothing to check. Add an alarm first: /add <item> <price>")
	}
}

// checkAlarm is the single evaluation path shared by scheduled cycles
// and explicit checks. manual marks a user-triggered check: results are
// reported even when nothing fires, and the cooldown does not apply.
func (m *Monitor) checkAlarm(ctx context.Context, alarm domain.Alarm, manual bool) {
	result, err := m.fetchCoalesced(ctx, alarm.NormalizedName)
	if err != nil {
		m.handleFetchError(ctx, alarm, err, manual)
		return
	}
	m.noteSuccess(ctx, alarm)

	now := m.clock()
	if low, ok := LowestMatch(alarm, result); ok {
		if err := m.alarms.SetObservedPrice(ctx, alarm.ID, low.UnitPrice, now); err != nil {
			m.logger.Warn("failed to record observed price", zap.Uint("alarm_id", alarm.ID), zap.Error(err))
		}
	}

	event := Evaluate(alarm, result, now)
	if event == nil {
		if manual {
			m.notifyOwner(ctx, alarm.UserID, fmt.Sprintf(
				"%s is still above your threshold of %dg.", alarm.ItemName, alarm.Threshold))
		}
		return
	}

	if !manual && !m.shouldDispatch(alarm, event.Listing.UnitPrice, now) {
		m.logger.Debug(
			"notification suppressed by cooldown",
			zap.Uint("alarm_id", alarm.ID),
			zap.Int64("price", event.Listing.UnitPrice),
		)
		return
	}

	owner, err := m.users.GetByID(ctx, alarm.UserID)
	if err != nil {
		m.logger.Warn("failed to resolve alarm owner", zap.Uint("alarm_id", alarm.ID), zap.Error(err))
		return
	}
	event.TargetChatID = owner.TelegramUserID

	if err := m.dispatch.Dispatch(ctx, event); err != nil {
		m.logger.Warn(
			"dispatch failed",
			zap.String("event_id", event.ID),
			zap.Uint("alarm_id", alarm.ID),
			zap.Error(err),
		)
		return
	}

	// lastFired moves only on an actual delivery
	if err := m.alarms.SetNotified(ctx, alarm.ID, event.Listing.UnitPrice, now); err != nil {
		m.logger.Warn("failed to record notification", zap.Uint("alarm_id", alarm.ID), zap.Error(err))
	}
}

// fetchCoalesced guarantees at most one in-flight TTC query per item:
// concurrent alarms on the same item share one result.
func (m *Monitor) fetchCoalesced(ctx context.Context, key string) (*domain.FetchResult, error) {
	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		return m.market.Fetch(ctx, key, domain.FetchOptions{})
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("fetch coalesced", zap.String("item", key))
	}
	return v.(*domain.FetchResult), nil
}

// shouldDispatch is the repeat policy: outside the cooldown any
// qualifying price fires; within it only an improvement on the last
// notified price does.
func (m *Monitor) shouldDispatch(alarm domain.Alarm, price int64, now time.Time) bool {
	if alarm.LastNotifiedAt == nil || alarm.LastNotifiedPrice == nil {
		return true
	}
	if now.Sub(*alarm.LastNotifiedAt) >= m.cfg.Cooldown {
		return true
	}
	return price < *alarm.LastNotifiedPrice
}

func (m *Monitor) handleFetchError(ctx context.Context, alarm domain.Alarm, err error, manual bool) {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		// a missing item is an answer, not a transient failure;
		// the failure streak stays untouched
		if manual {
			m.notifyOwner(ctx, alarm.UserID, fmt.Sprintf(
				"No TTC listings found for %q. Check the item name.", alarm.ItemName))
		} else {
			m.logger.Debug("no listings", zap.Uint("alarm_id", alarm.ID), zap.String("item", alarm.NormalizedName))
		}
	case errors.Is(err, domain.ErrChallengeRequired):
		m.logger.Warn("captcha blocking fetch", zap.Uint("alarm_id", alarm.ID), zap.String("item", alarm.NormalizedName))
		if manual {
			m.notifyOwner(ctx, alarm.UserID, fmt.Sprintf(
				"TTC is showing a captcha. Run /test %s to solve it in a browser tab; checks resume automatically afterwards.",
				alarm.ItemName))
		}
		m.noteFailure(ctx, alarm, true)
	default:
		m.logger.Warn(
			"fetch failed",
			zap.Uint("alarm_id", alarm.ID),
			zap.String("item", alarm.NormalizedName),
			zap.Error(err),
		)
		if manual {
			m.notifyOwner(ctx, alarm.UserID, fmt.Sprintf(
				"Could not check %s right now. The next scheduled cycle will retry.", alarm.ItemName))
		}
		m.noteFailure(ctx, alarm, false)
	}
}

func (m *Monitor) noteFailure(ctx context.Context, alarm domain.Alarm, challenge bool) {
	m.mu.Lock()
	m.failStreaks[alarm.ID]++
	streak := m.failStreaks[alarm.ID]
	if streak < m.cfg.FailLimit {
		m.mu.Unlock()
		return
	}
	// reset so the diagnostic fires once per streak, not every cycle
	m.failStreaks[alarm.ID] = 0
	m.mu.Unlock()

	if err := m.alarms.SetFlagged(ctx, alarm.ID, true); err != nil {
		m.logger.Warn("failed to flag alarm", zap.Uint("alarm_id", alarm.ID), zap.Error(err))
	}

	text := fmt.Sprintf(
		"Your alarm for %s has failed %d checks in a row. It stays active and will keep retrying.",
		alarm.ItemName, streak)
	if challenge {
		text += fmt.Sprintf(" TTC is asking for a captcha: run /test %s to solve it.", alarm.ItemName)
	}
	m.notifyOwner(ctx, alarm.UserID, text)
}

func (m *Monitor) noteSuccess(ctx context.Context, alarm domain.Alarm) {
	m.mu.Lock()
	delete(m.failStreaks, alarm.ID)
	m.mu.Unlock()

	if alarm.Flagged {
		if err := m.alarms.SetFlagged(ctx, alarm.ID, false); err != nil {
			m.logger.Warn("failed to clear alarm flag", zap.Uint("alarm_id", alarm.ID), zap.Error(err))
		}
	}
}

func (m *Monitor) notifyOwner(ctx context.Context, userID uint, text string) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		m.logger.Warn("failed to resolve user", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if err := m.dispatch.NotifyText(ctx, user.TelegramUserID, text); err != nil {
		m.logger.Warn("failed to notify user", zap.Int64("telegram_user_id", user.TelegramUserID), zap.Error(err))
	}
}
