package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/tamrielwatch/ttcwatch/internal/domain"
)

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[uint]*domain.User
	nextID uint
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]*domain.User{}}
}

func (r *fakeUserRepo) GetByTelegramID(_ context.Context, telegramUserID int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.TelegramUserID == telegramUserID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) GetByID(_ context.Context, userID uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	user.ID = r.nextID
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

type fakeAlarmRepo struct {
	mu     sync.Mutex
	alarms map[uint]*domain.Alarm
	nextID uint
}

func newFakeAlarmRepo() *fakeAlarmRepo {
	return &fakeAlarmRepo{alarms: map[uint]*domain.Alarm{}}
}

func (r *fakeAlarmRepo) Create(_ context.Context, alarm *domain.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.alarms {
		if a.UserID == alarm.UserID && a.Active {
			count++
		}
	}
	if count >= domain.MaxAlarmsPerUser {
		return domain.ErrCapacityExceeded
	}
	r.nextID++
	alarm.ID = r.nextID
	copied := *alarm
	r.alarms[alarm.ID] = &copied
	return nil
}

func (r *fakeAlarmRepo) ListByUser(_ context.Context, userID uint) ([]domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alarm
	for _, a := range r.alarms {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeAlarmRepo) ListActive(_ context.Context) ([]domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alarm
	for _, a := range r.alarms {
		if a.Active {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeAlarmRepo) Delete(_ context.Context, alarmID, requesterID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alarms[alarmID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.UserID != requesterID {
		return domain.ErrNotOwner
	}
	delete(r.alarms, alarmID)
	return nil
}

func (r *fakeAlarmRepo) SetObservedPrice(_ context.Context, alarmID uint, price int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alarms[alarmID]
	if !ok {
		return domain.ErrNotFound
	}
	a.CurrentPrice = price
	checked := at
	a.LastCheckedAt = &checked
	return nil
}

func (r *fakeAlarmRepo) SetNotified(_ context.Context, alarmID uint, price int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alarms[alarmID]
	if !ok {
		return domain.ErrNotFound
	}
	notifiedPrice := price
	notifiedAt := at
	a.LastNotifiedPrice = &notifiedPrice
	a.LastNotifiedAt = &notifiedAt
	return nil
}

func (r *fakeAlarmRepo) SetFlagged(_ context.Context, alarmID uint, flagged bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alarms[alarmID]
	if !ok {
		return domain.ErrNotFound
	}
	a.Flagged = flagged
	return nil
}

func (r *fakeAlarmRepo) get(alarmID uint) domain.Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.alarms[alarmID]
}

type fakeMarket struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]*domain.FetchResult
	errs    map[string]error
	delay   time.Duration
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		calls:   map[string]int{},
		results: map[string]*domain.FetchResult{},
		errs:    map[string]error{},
	}
}

func (m *fakeMarket) Fetch(_ context.Context, itemName string, _ domain.FetchOptions) (*domain.FetchResult, error) {
	key := domain.NormalizeItemName(itemName)
	m.mu.Lock()
	m.calls[key]++
	err := m.errs[key]
	result := m.results[key]
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, domain.ErrItemNotFound
	}
	return result, nil
}

func (m *fakeMarket) callCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

func (m *fakeMarket) setResult(key string, prices ...int64) {
	listings := make([]domain.Listing, 0, len(prices))
	for _, p := range prices {
		listings = append(listings, domain.Listing{ItemName: key, UnitPrice: p})
	}
	m.mu.Lock()
	m.results[key] = &domain.FetchResult{Listings: listings, SearchURL: "https://example.test/search"}
	m.mu.Unlock()
}

type fakeDispatcher struct {
	mu          sync.Mutex
	events      []*domain.NotificationEvent
	texts       []string
	dispatchErr error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, event *domain.NotificationEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	d.events = append(d.events, event)
	return nil
}

func (d *fakeDispatcher) NotifyText(_ context.Context, _ int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
	return nil
}

func (d *fakeDispatcher) eventCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *fakeDispatcher) textCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.texts)
}
