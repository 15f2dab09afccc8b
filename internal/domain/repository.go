package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Fetch failures. ErrTransport is retryable; the others are not.
var (
	ErrItemNotFound        = errors.New("item not found")
	ErrTransport           = errors.New("marketplace unreachable")
	ErrChallengeRequired   = errors.New("challenge required")
	ErrChallengeUnresolved = errors.New("challenge unresolved")
)

// Store failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrNotOwner         = errors.New("not owner")
	ErrCapacityExceeded = errors.New("alarm capacity exceeded")
)

// ErrUserUnreachable means the chat platform rejected delivery, e.g.
// the user blocked the bot.
var ErrUserUnreachable = errors.New("user unreachable")

type UserRepository interface {
	GetByTelegramID(ctx context.Context, telegramUserID int64) (*User, error)
	GetByID(ctx context.Context, userID uint) (*User, error)
	Create(ctx context.Context, user *User) error
}

type AlarmRepository interface {
	Create(ctx context.Context, alarm *Alarm) error
	ListByUser(ctx context.Context, userID uint) ([]Alarm, error)
	ListActive(ctx context.Context) ([]Alarm, error)
	Delete(ctx context.Context, alarmID, requesterID uint) error
	SetObservedPrice(ctx context.Context, alarmID uint, price int64, at time.Time) error
	SetNotified(ctx context.Context, alarmID uint, price int64, at time.Time) error
	SetFlagged(ctx context.Context, alarmID uint, flagged bool) error
}

// FetchOptions controls a single marketplace query. Interactive fetches
// may open a human-resolvable challenge session; scheduled fetches must
// not, and fail with ErrChallengeRequired instead.
type FetchOptions struct {
	Interactive bool
}

type MarketClient interface {
	Fetch(ctx context.Context, itemName string, opts FetchOptions) (*FetchResult, error)
}

// ChallengeSolver presents a challenge URL on a surface a human can
// complete and returns the session cookies once the challenge is gone.
// Implementations must release the surface on every exit path.
type ChallengeSolver interface {
	Solve(ctx context.Context, challengeURL string) ([]*http.Cookie, error)
}

// ListingCache holds recent fetch snapshots keyed by normalized item
// name. A nil cache is valid; caching only trims marketplace load.
type ListingCache interface {
	Get(ctx context.Context, key string) (*FetchResult, bool)
	Put(ctx context.Context, key string, result *FetchResult)
}
