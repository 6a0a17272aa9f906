package models

import (
	"math"
	"time"
)

type SearchScope string

const (
	ScopeDocuments SearchScope = "documents"
	ScopeData      SearchScope = "data"
)

// AllScopes searches both the documents and the data bucket.
var AllScopes = []SearchScope{ScopeDocuments, ScopeData}

type DownloadingStatus string

const (
	DownloadingStatusNotDownloaded DownloadingStatus = "not_downloaded"
	DownloadingStatusDownloaded    DownloadingStatus = "downloaded"
	DownloadingStatusCurrent       DownloadingStatus = "current"
)

// ItemAttributes is one result row of a metadata query.
type ItemAttributes struct {
	Name              string            `json:"name" db:"name"`
	Path              string            `json:"path" db:"path"`
	AbsPath           string            `json:"abs_path" db:"-"`
	Scope             SearchScope       `json:"scope" db:"scope"`
	SizeBytes         int64             `json:"size_bytes" db:"size_bytes"`
	PercentUploaded   float64           `json:"percent_uploaded" db:"percent_uploaded"`
	PercentDownloaded float64           `json:"percent_downloaded" db:"percent_downloaded"`
	IsUploaded        bool              `json:"is_uploaded" db:"is_uploaded"`
	DownloadingStatus DownloadingStatus `json:"downloading_status" db:"downloading_status"`
	UploadError       string            `json:"upload_error,omitempty" db:"upload_error"`
	DownloadError     string            `json:"download_error,omitempty" db:"download_error"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// Predicate matches items whose display name is one of Names.
type Predicate struct {
	Names []string
}

func NameIn(names ...string) Predicate {
	return Predicate{Names: names}
}

func (p Predicate) Match(item ItemAttributes) bool {
	for _, name := range p.Names {
		if item.Name == name {
			return true
		}
	}
	return false
}

// Snapshot is the watcher's view of one matched item at one point in time.
type Snapshot struct {
	Name       string  `json:"name"`
	SizeBytes  int64   `json:"size_bytes"`
	Fraction   float64 `json:"fraction"`
	IsComplete bool    `json:"is_complete"`
	Path       string  `json:"path,omitempty"`
	Err        error   `json:"-"`
}

// Usable reports whether the fraction can be folded into an aggregate.
func (s Snapshot) Usable() bool {
	return !math.IsNaN(s.Fraction) && !math.IsInf(s.Fraction, 0)
}
