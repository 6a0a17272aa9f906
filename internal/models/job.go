package models

import (
	"time"
)

type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusInFlight  TransferStatus = "in_flight"
	TransferStatusSucceeded TransferStatus = "succeeded"
	TransferStatusFailed    TransferStatus = "failed"
)

// TransferJob is one file's upload or download inside a batch.
type TransferJob struct {
	ID           string         `json:"id" db:"id"`
	BatchID      string         `json:"batch_id" db:"batch_id"`
	Direction    Direction      `json:"direction" db:"direction"`
	LocalPath    string         `json:"local_path" db:"local_path"`
	CloudPath    string         `json:"cloud_path" db:"cloud_path"`
	SizeBytes    int64          `json:"size_bytes" db:"size_bytes"`
	Status       TransferStatus `json:"status" db:"status"`
	LastFraction float64        `json:"last_fraction" db:"last_fraction"`
	ErrorMessage string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Helper methods
func (j *TransferJob) IsActive() bool {
	return j.Status == TransferStatusPending || j.Status == TransferStatusInFlight
}

func (j *TransferJob) IsTerminal() bool {
	return j.Status == TransferStatusSucceeded || j.Status == TransferStatusFailed
}

// UpdateFraction records the latest raw fraction. Backward values are ignored
// so the per-job sequence stays non-decreasing.
func (j *TransferJob) UpdateFraction(fraction float64) bool {
	if fraction < j.LastFraction {
		return false
	}
	j.LastFraction = fraction
	j.UpdatedAt = time.Now()
	return true
}

func (j *TransferJob) MarkStarted() {
	now := time.Now()
	j.Status = TransferStatusInFlight
	j.StartedAt = &now
	j.UpdatedAt = now
}

func (j *TransferJob) MarkSucceeded(path string) {
	now := time.Now()
	j.Status = TransferStatusSucceeded
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.LastFraction = 100.0
	if j.Direction == DirectionUpload {
		j.CloudPath = path
	} else {
		j.LocalPath = path
	}
}

func (j *TransferJob) MarkFailed(errorMsg string) {
	now := time.Now()
	j.Status = TransferStatusFailed
	j.ErrorMessage = errorMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// TransferResult is the per-item outcome returned by batch operations.
type TransferResult struct {
	Success bool      `json:"success"`
	Path    string    `json:"path,omitempty"`
	Error   string    `json:"error,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
}

func SucceededResult(path string) TransferResult {
	return TransferResult{Success: true, Path: path}
}

func FailedResult(err error) TransferResult {
	return TransferResult{Success: false, Error: err.Error(), Code: CodeOf(err)}
}

// TransferFilter represents filtering options for transfer history queries
type TransferFilter struct {
	BatchID   string           `json:"batch_id,omitempty"`
	Direction Direction        `json:"direction,omitempty"`
	Status    []TransferStatus `json:"status,omitempty"`
	Limit     int              `json:"limit,omitempty"`
	Offset    int              `json:"offset,omitempty"`
}

// TransferSummary represents aggregated transfer statistics
type TransferSummary struct {
	TotalTransfers     int `json:"total_transfers"`
	PendingTransfers   int `json:"pending_transfers"`
	InFlightTransfers  int `json:"in_flight_transfers"`
	SucceededTransfers int `json:"succeeded_transfers"`
	FailedTransfers    int `json:"failed_transfers"`
}
