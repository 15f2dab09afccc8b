package domain

import "time"

// Listing is one observed sell offer for an item. Listings are never
// persisted or merged across fetches; every fetch is a full snapshot.
type Listing struct {
	ItemName  string
	UnitPrice int64
	Guild     string
	Location  string
	FetchedAt time.Time
}

// FetchResult is the outcome of one marketplace query.
type FetchResult struct {
	Listings  []Listing
	SearchURL string
	FetchedAt time.Time
}

// NotificationEvent carries a firing alarm from the evaluator to the
// dispatcher. It lives for one delivery attempt only.
type NotificationEvent struct {
	ID           string
	TargetChatID int64
	Alarm        Alarm
	Listing      Listing
	SearchURL    string
	CreatedAt    time.Time
}
