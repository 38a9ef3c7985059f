package models

import (
	"time"

	"github.com/lib/pq"

	"github.com/customeros/imagestack/internal/enum"
)

// FeedEntry is one listing from the external feed. ListingURL is an opaque fetch token.
type FeedEntry struct {
	PropertyID string   `json:"propertyId"`
	ImageURLs  []string `json:"imageUrls,omitempty"`
	ListingURL string   `json:"listingUrl,omitempty"`
}

type FeedPage struct {
	Entries    []FeedEntry `json:"entries"`
	NextOffset int         `json:"nextOffset"`
}

type PendingEntry struct {
	Entry     FeedEntry `json:"entry"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CursorState is the archiver's durable progress for one subscription.
type CursorState struct {
	SubscriptionID string
	Offset         int
	Pending        []PendingEntry
	UpdatedAt      time.Time
}

func (s *CursorState) FindPending(propertyID string) int {
	for i, p := range s.Pending {
		if p.Entry.PropertyID == propertyID {
			return i
		}
	}
	return -1
}

func (s *CursorState) UpsertPending(entry PendingEntry) {
	if i := s.FindPending(entry.Entry.PropertyID); i >= 0 {
		s.Pending[i] = entry
		return
	}
	s.Pending = append(s.Pending, entry)
}

func (s *CursorState) RemovePending(propertyID string) {
	if i := s.FindPending(propertyID); i >= 0 {
		s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
	}
}

func (s *CursorState) Clone() *CursorState {
	pending := make([]PendingEntry, len(s.Pending))
	copy(pending, s.Pending)
	return &CursorState{SubscriptionID: s.SubscriptionID, Offset: s.Offset, Pending: pending, UpdatedAt: s.UpdatedAt}
}

type EntryResult struct {
	PropertyID    string           `json:"propertyId"`
	Status        enum.EntryStatus `json:"status"`
	NewImages     int              `json:"newImages"`
	SkippedImages int              `json:"skippedImages,omitempty"`
	Retried       bool             `json:"retried,omitempty"`
	Err           error            `json:"-"`
	Error         string           `json:"error,omitempty"`
}

type RunReport struct {
	RunID          string        `json:"runId"`
	SubscriptionID string        `json:"subscriptionId"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
	CursorBefore   int           `json:"cursorBefore"`
	CursorAfter    int           `json:"cursorAfter"`
	StoppedEarly   bool          `json:"stoppedEarly"`
	Results        []EntryResult `json:"results"`
}

func (r *RunReport) Add(result EntryResult) {
	if result.Err != nil {
		result.Error = result.Err.Error()
	}
	r.Results = append(r.Results, result)
}

func (r *RunReport) Count(status enum.EntryStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

type ArchiverCursor struct {
	SubscriptionID string    `gorm:"column:subscription_id;type:varchar(255);primaryKey"`
	Offset         int       `gorm:"column:feed_offset;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamp"`
}

func (ArchiverCursor) TableName() string {
	return "archiver_cursors"
}

type ArchiverPendingEntry struct {
	SubscriptionID string         `gorm:"column:subscription_id;type:varchar(255);primaryKey"`
	PropertyID     string         `gorm:"column:property_id;type:varchar(100);primaryKey"`
	ImageURLs      pq.StringArray `gorm:"column:image_urls;type:text[]"`
	ListingURL     string         `gorm:"column:listing_url;type:text"`
	Attempts       int            `gorm:"column:attempts;not null;default:0"`
	LastError      string         `gorm:"column:last_error;type:text"`
	CreatedAt      time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;type:timestamp"`
}

func (ArchiverPendingEntry) TableName() string {
	return "archiver_pending_entries"
}

func NewArchiverPendingEntry(subscriptionID string, p PendingEntry) ArchiverPendingEntry {
	return ArchiverPendingEntry{
		SubscriptionID: subscriptionID,
		PropertyID:     p.Entry.PropertyID,
		ImageURLs:      pq.StringArray(p.Entry.ImageURLs),
		ListingURL:     p.Entry.ListingURL,
		Attempts:       p.Attempts,
		LastError:      p.LastError,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (a ArchiverPendingEntry) ToPendingEntry() PendingEntry {
	return PendingEntry{
		Entry: FeedEntry{
			PropertyID: a.PropertyID,
			ImageURLs:  []string(a.ImageURLs),
			ListingURL: a.ListingURL,
		},
		Attempts:  a.Attempts,
		LastError: a.LastError,
		UpdatedAt: a.UpdatedAt.UTC(),
	}
}
