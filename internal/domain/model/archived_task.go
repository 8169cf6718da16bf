package model

import (
	"encoding/json"
	"time"
)

// ArchivedTask is a terminal task result persisted for forensic replay.
type ArchivedTask struct {
	JobID       string          `json:"job_id"       db:"job_id"`
	Vendor      Vendor          `json:"vendor"       db:"vendor"`
	Status      TaskStatus      `json:"status"       db:"status"`
	ErrorCode   string          `json:"error_code"   db:"error_code"`
	Result      json.RawMessage `json:"result"       db:"result"`
	RawCallback json.RawMessage `json:"raw_callback" db:"raw_callback"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"   db:"updated_at"`
	CleanedAt   *time.Time      `json:"cleaned_at"   db:"cleaned_at"`
}

// TaskResult decodes the archived canonical result.
func (a *ArchivedTask) TaskResult() (TaskResult, error) {
	var res TaskResult
	if err := json.Unmarshal(a.Result, &res); err != nil {
		return TaskResult{}, err
	}
	return res, nil
}

// ArchiveListOptions filters archived task listings.
type ArchiveListOptions struct {
	Vendor Vendor
	Status TaskStatus
	Limit  int
	Offset int
}
