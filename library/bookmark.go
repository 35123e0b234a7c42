package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Bookmark is the blob stored in the cache for each downloaded asset.
type Bookmark struct {
	Path    string    `json:"path"`
	Created time.Time `json:"created"`
}

// NewBookmark returns a bookmark for location, made absolute.
func NewBookmark(location string, created time.Time) (Bookmark, error) {
	if location == "" {
		return Bookmark{}, errors.New("bookmark location is empty")
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return Bookmark{}, fmt.Errorf("resolve bookmark location: %w", err)
	}
	return Bookmark{Path: abs, Created: created.UTC()}, nil
}

// Encode serializes b.
func (b Bookmark) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBookmark parses a blob produced by Encode.
func DecodeBookmark(data []byte) (Bookmark, error) {
	var b Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return Bookmark{}, fmt.Errorf("decode bookmark: %w", err)
	}
	if b.Path == "" {
		return Bookmark{}, errors.New("decode bookmark: missing path")
	}
	return b, nil
}

// Resolve reports whether the bookmarked file or directory still exists.
// A bookmark whose target is gone is stale.
func (b Bookmark) Resolve() (string, bool) {
	if _, err := os.Stat(b.Path); err != nil {
		return "", false
	}
	return b.Path, true
}
