package models

import "time"

// CacheEntry is one locally stored cache value. Last writer wins.
type CacheEntry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	WrittenAt time.Time `json:"written_at"`
}
