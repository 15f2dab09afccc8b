package usecase

import (
	"time"

	"github.com/google/uuid"
	"github.com/tamrielwatch/ttcwatch/internal/domain"
)

// LowestMatch returns the cheapest listing whose name matches the
// alarm's key, regardless of threshold.
func LowestMatch(alarm domain.Alarm, result *domain.FetchResult) (domain.Listing, bool) {
	var best domain.Listing
	found := false
	for _, listing := range result.Listings {
		if domain.NormalizeItemName(listing.ItemName) != alarm.NormalizedName {
			continue
		}
		if !found || listing.UnitPrice < best.UnitPrice {
			best = listing
			found = true
		}
	}
	return best, found
}

// Evaluate decides whether an alarm fires against a listing snapshot:
// it fires iff the minimum matching unit price is at or below the
// threshold. Repeat-notification suppression is dispatcher policy, not
// evaluator policy, so this stays a pure function of its inputs.
func Evaluate(alarm domain.Alarm, result *domain.FetchResult, now time.Time) *domain.NotificationEvent {
	if result == nil {
		return nil
	}
	best, found := LowestMatch(alarm, result)
	if !found || best.UnitPrice > alarm.Threshold {
		return nil
	}
	return &domain.NotificationEvent{
		ID:        uuid.NewString(),
		Alarm:     alarm,
		Listing:   best,
		SearchURL: result.SearchURL,
		CreatedAt: now,
	}
}
