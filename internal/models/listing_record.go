package models

import "strings"

// StaleListingPrefix marks a sync error caused by the remote listing
// having vanished (HTTP 404). The operator resolves it with an explicit
// clear-and-recreate rather than a blind retry.
const StaleListingPrefix = "404:"

// ListingRecord is the per-product marketplace sync metadata owned by
// the sync engine. ListingID is set if and only if a create or update
// has succeeded and no subsequent delete has.
type ListingRecord struct {
	ListingID    string            `json:"listing_id,omitempty"`
	LastSync     int64             `json:"last_sync,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	SyncedImages map[string]string `json:"synced_images,omitempty"`
}

// TableName returns the table name for ListingRecord.
func (ListingRecord) TableName() string {
	return "listing_meta"
}

// IsStale reports whether the last sync failed because the remote
// listing no longer exists.
func (r *ListingRecord) IsStale() bool {
	return strings.HasPrefix(r.LastError, StaleListingPrefix)
}
