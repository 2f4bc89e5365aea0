// Package store persists song records.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means no song has the requested id.
	ErrNotFound = errors.New("song not found")
	// ErrExists means a song with the same id was already created.
	ErrExists = errors.New("song already exists")
	// ErrAlreadyAnalyzed means the analysis attributes were already written.
	ErrAlreadyAnalyzed = errors.New("song already analyzed")
)

// AnalysisStatus tracks the background analysis of a song.
type AnalysisStatus string

const (
	AnalysisPending AnalysisStatus = "pending"
	AnalysisReady   AnalysisStatus = "ready"
	AnalysisFailed  AnalysisStatus = "failed"
)

// Song is an uploaded track. Waveform and Duration are written once by
// analysis and never change afterwards.
type Song struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Title       string         `json:"title"`
	Filename    string         `json:"filename"`
	SizeBytes   int64          `json:"size_bytes"`
	ContentType string         `json:"content_type"`
	CreatedAt   time.Time      `json:"created_at"`
	Analysis    AnalysisStatus `json:"analysis"`
	Waveform    []float64      `json:"waveform_data"`
	Duration    *uint32        `json:"duration"`
	AnalyzedAt  *time.Time     `json:"analyzed_at,omitempty"`
}

// Analysis holds the attributes derived from a song's audio.
type Analysis struct {
	Waveform []float64
	Duration *uint32
	Failed   bool
}

// Store is the set of operations the server needs.
type Store interface {
	Create(song *Song) error
	Get(id string) (*Song, error)
	ListByOwner(ownerID string) ([]*Song, error)
	ListPending() ([]*Song, error)
	SetAnalysis(id string, a Analysis) error
	Close() error
}
