package model

import (
	"sort"
	"strings"
	"time"
)

// StoredRecord is the persisted entity: a canonical posting plus its
// classification, lifecycle state and dedup provenance.
type StoredRecord struct {
	ID string `json:"id"`

	Posting        CanonicalPosting `json:"posting"`
	Classification Classification   `json:"classification"`

	Status            Status     `json:"status"`
	StatusLastChecked *time.Time `json:"status_last_checked,omitempty"`
	StatusCheckCode   int        `json:"status_check_code,omitempty"`
	StatusCheckError  string     `json:"status_check_error,omitempty"`

	DedupSources []string `json:"dedup_sources"`
	DedupCount   int      `json:"dedup_count"`
	SourceURLs   []string `json:"source_urls"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// AddSource adds platform to DedupSources (set semantics, sorted) and keeps
// DedupCount equal to the set size. Returns true if the set grew.
func (r *StoredRecord) AddSource(platform string) bool {
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return false
	}
	for _, s := range r.DedupSources {
		if strings.EqualFold(s, platform) {
			r.DedupCount = len(r.DedupSources)
			return false
		}
	}
	r.DedupSources = append(r.DedupSources, platform)
	sort.Strings(r.DedupSources)
	r.DedupCount = len(r.DedupSources)
	return true
}

// AddSourceURL appends url to SourceURLs if not already present.
func (r *StoredRecord) AddSourceURL(url string) bool {
	if url == "" {
		return false
	}
	for _, u := range r.SourceURLs {
		if u == url {
			return false
		}
	}
	r.SourceURLs = append(r.SourceURLs, url)
	return true
}

// Transition moves the record to next if the state machine allows it.
func (r *StoredRecord) Transition(next Status) bool {
	if !CanTransition(r.Status, next) {
		return false
	}
	r.Status = next
	return true
}

// StatusCheck is one liveness verdict as written by the status checker.
// The write applies only while the record is still in From.
type StatusCheck struct {
	From      Status
	To        Status
	CheckedAt time.Time
	Code      int
	Error     string
}

// CheckCursor is the keyset position of the due-for-check listing: records
// order by last check time (never-checked first), then id. The zero value
// starts from the beginning.
type CheckCursor struct {
	Checked *time.Time
	ID      string
}

// CursorAfter returns the cursor positioned at r.
func CursorAfter(r StoredRecord) CheckCursor {
	c := CheckCursor{ID: r.ID}
	if r.StatusLastChecked != nil {
		t := *r.StatusLastChecked
		c.Checked = &t
	}
	return c
}

// MatchResult is the deduplicator's verdict for one posting.
type MatchResult struct {
	Duplicate  *StoredRecord
	Score      float64
	Candidates int
}

// IsDuplicate reports whether a stored record matched.
func (m MatchResult) IsDuplicate() bool { return m.Duplicate != nil }
