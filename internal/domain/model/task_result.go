package model

import (
	"encoding/json"
	"maps"
	"time"
)

// Canonical data keys. The same logical field always lives under the same key,
// so pipeline code never branches on vendor.
const (
	DataVideoURL        = "videoUrl"
	DataImageURL        = "imageUrl"
	DataAudioURL        = "audioUrl"
	DataVoiceID         = "voiceId"
	DataCoverURL        = "coverUrl"
	DataDurationSeconds = "durationSeconds"
)

// Error codes produced by the engine itself rather than by a vendor.
const (
	ErrorCodeConversion    = "CONVERSION_ERROR"
	ErrorCodeTimeout       = "TIMEOUT"
	ErrorCodeUnknownVendor = "UNKNOWN_VENDOR"
	ErrorCodeWaitFailed    = "WAIT_FAILED"
)

// Fallback codes for vendor failures that arrive without an error code.
const (
	ErrorCodeVendorFailed    = "VENDOR_FAILED"
	ErrorCodeVendorCancelled = "VENDOR_CANCELLED"
)

// VendorErrorCode returns code, or the fallback for status when the vendor sent none.
func VendorErrorCode(status TaskStatus, code string) string {
	if code != "" {
		return code
	}
	if status == TaskStatusCancelled {
		return ErrorCodeVendorCancelled
	}
	return ErrorCodeVendorFailed
}

// TaskResult is the canonical record every vendor callback is normalized into.
type TaskResult struct {
	JobID           string            `json:"jobId"`
	Vendor          Vendor            `json:"vendor"`
	Status          TaskStatus        `json:"status"`
	ErrorCode       string            `json:"errorCode,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	Data            map[string]string `json:"data,omitempty"`
	BusinessMessage string            `json:"businessMessage,omitempty"`
	CallbackTime    time.Time         `json:"callbackTime"`
	RawCallback     json.RawMessage   `json:"rawCallback,omitempty"`
}

// NewPendingResult returns the placeholder written before submission.
func NewPendingResult(id JobIdentity, now time.Time) TaskResult {
	return TaskResult{
		JobID:        id.JobID,
		Vendor:       id.Vendor,
		Status:       TaskStatusPending,
		CallbackTime: now,
	}
}

// NewTimeoutResult returns the caller-local result synthesized when a wait deadline elapses.
func NewTimeoutResult(id JobIdentity, now time.Time) TaskResult {
	return TaskResult{
		JobID:        id.JobID,
		Vendor:       id.Vendor,
		Status:       TaskStatusTimeout,
		ErrorCode:    ErrorCodeTimeout,
		ErrorMessage: "no terminal result before the wait deadline",
		CallbackTime: now,
	}
}

// NewConversionFailure returns the FAILED result used when a vendor payload cannot be parsed.
func NewConversionFailure(vendor Vendor, raw []byte, cause error, now time.Time) TaskResult {
	msg := "unable to convert vendor payload"
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return TaskResult{
		Vendor:       vendor,
		Status:       TaskStatusFailed,
		ErrorCode:    ErrorCodeConversion,
		ErrorMessage: msg,
		CallbackTime: now,
		RawCallback:  RawJSON(raw),
	}
}

// Identity returns the job identity the result belongs to.
func (r TaskResult) Identity() JobIdentity {
	return JobIdentity{JobID: r.JobID, Vendor: r.Vendor}
}

// IsSuccess reports whether the result is a SUCCESS.
func (r TaskResult) IsSuccess() bool {
	return r.Status == TaskStatusSuccess
}

// Field returns a data field. Only trustworthy when the result IsSuccess.
func (r TaskResult) Field(key string) (string, bool) {
	if r.Data == nil {
		return "", false
	}
	v, ok := r.Data[key]
	return v, ok
}

// SameOutcome reports whether two results describe the same outcome,
// ignoring callback time and raw payload.
func (r TaskResult) SameOutcome(other TaskResult) bool {
	if r.Status != other.Status || r.ErrorCode != other.ErrorCode {
		return false
	}
	if len(r.Data) != len(other.Data) {
		return false
	}
	return maps.Equal(r.Data, other.Data)
}

// RawJSON returns raw as a json.RawMessage when it is valid JSON,
// otherwise it is quoted as a JSON string so the result stays serializable.
func RawJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(append([]byte(nil), raw...))
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return quoted
}
