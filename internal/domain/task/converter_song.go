package task

import (
	"fmt"

	"github.com/target/taskrelay/internal/domain/model"
)

// Song provider body:
//
//	{"job_id":"...","task_type":"song_conversion","status":"completed",
//	 "error":{"code":"","message":""},"result":{"song_url":"...","cover_url":"...","duration":183},
//	 "metadata":{"business_message":"..."}}
const (
	songExprJobID    = "job_id"
	songExprTaskType = "task_type"
	songExprStatus   = "status"
	songExprErrCode  = "error.code"
	songExprErrMsg   = "error.message"
	songExprBusiness = "metadata.business_message"
)

var songStatuses = map[string]model.TaskStatus{
	"pending":    model.TaskStatusPending,
	"queued":     model.TaskStatusPending,
	"processing": model.TaskStatusProcessing,
	"running":    model.TaskStatusProcessing,
	"completed":  model.TaskStatusSuccess,
	"success":    model.TaskStatusSuccess,
	"failed":     model.TaskStatusFailed,
	"cancelled":  model.TaskStatusCancelled,
	"canceled":   model.TaskStatusCancelled,
}

// SongConverter handles song conversion callbacks.
type SongConverter struct {
	converterBase
	outputs []fieldSpec
}

// NewSongConversionConverter returns the song conversion converter.
func NewSongConversionConverter(opts ConverterOptions) *SongConverter {
	return &SongConverter{
		converterBase: newConverterBase(model.VendorSongConversion, opts),
		outputs: []fieldSpec{
			{Key: model.DataAudioURL, Expr: "result.song_url"},
			{Key: model.DataCoverURL, Expr: "result.cover_url"},
			{Key: model.DataDurationSeconds, Expr: "result.duration"},
		},
	}
}

// IdentifyVendor reads task_type. The song provider only serves one capability, so a body
// carrying a job_id without task_type is still attributed to it.
func (c *SongConverter) IdentifyVendor(payload []byte) (model.Vendor, bool) {
	doc, err := c.decode(payload)
	if err != nil {
		return "", false
	}
	switch normalizeTag(c.str(doc, songExprTaskType)) {
	case "songconversion", "song", "cover":
		return model.VendorSongConversion, true
	case "":
		if c.str(doc, songExprJobID) != "" {
			return model.VendorSongConversion, true
		}
	}
	return "", false
}

// Convert normalizes a song callback.
func (c *SongConverter) Convert(payload []byte) model.TaskResult {
	doc, err := c.decode(payload)
	if err != nil {
		return c.failure(payload, err)
	}

	res := c.result(c.str(doc, songExprJobID), payload)
	res.BusinessMessage = c.str(doc, songExprBusiness)

	raw := c.str(doc, songExprStatus)
	status, ok := songStatuses[normalizeStatus(raw)]
	if !ok {
		failed := c.failure(payload, fmt.Errorf("%w: %q", errUnknownStatus, raw))
		failed.JobID = res.JobID
		failed.BusinessMessage = res.BusinessMessage
		return failed
	}
	res.Status = status

	switch status {
	case model.TaskStatusSuccess:
		res.Data = c.extract(doc, c.outputs)
	case model.TaskStatusFailed, model.TaskStatusCancelled:
		res.ErrorCode = model.VendorErrorCode(status, c.str(doc, songExprErrCode))
		res.ErrorMessage = orDefault(c.str(doc, songExprErrMsg), "song conversion "+normalizeStatus(raw))
	case model.TaskStatusPending, model.TaskStatusProcessing, model.TaskStatusTimeout:
	}
	return res
}

func (c *SongConverter) expressions() []string {
	exprs := []string{songExprJobID, songExprTaskType, songExprStatus, songExprErrCode, songExprErrMsg, songExprBusiness}
	for _, f := range c.outputs {
		exprs = append(exprs, f.Expr)
	}
	return exprs
}

var _ PayloadConverter = (*SongConverter)(nil)
