package task

import (
	"fmt"

	"github.com/target/taskrelay/internal/domain/model"
)

// Voice provider body (flat):
//
//	{"requestId":"...","type":"clone|tts","state":2,"errCode":"","errMsg":"",
//	 "voiceId":"...","audioUrl":"...","duration":12.5,"extra":"..."}
const (
	voiceExprRequestID = "requestId"
	voiceExprType      = "type"
	voiceExprState     = "state"
	voiceExprErrCode   = "errCode"
	voiceExprErrMsg    = "errMsg"
	voiceExprExtra     = "extra"
)

var voiceStates = map[string]model.TaskStatus{
	"0": model.TaskStatusPending,
	"1": model.TaskStatusProcessing,
	"2": model.TaskStatusSuccess,
	"3": model.TaskStatusFailed,
	"4": model.TaskStatusCancelled,
}

var voiceTypes = map[string]model.Vendor{
	"clone":      model.VendorVoiceClone,
	"voiceclone": model.VendorVoiceClone,
	"tts":        model.VendorVoiceTTS,
	"voicetts":   model.VendorVoiceTTS,
}

// VoiceConverter handles the voice provider's clone and text-to-speech callbacks.
type VoiceConverter struct {
	converterBase
	outputs []fieldSpec
}

// NewVoiceCloneConverter returns the voice clone converter.
func NewVoiceCloneConverter(opts ConverterOptions) *VoiceConverter {
	return &VoiceConverter{
		converterBase: newConverterBase(model.VendorVoiceClone, opts),
		outputs: []fieldSpec{
			{Key: model.DataVoiceID, Expr: "voiceId"},
			{Key: model.DataAudioURL, Expr: "demoAudioUrl || audioUrl"},
		},
	}
}

// NewVoiceTTSConverter returns the text-to-speech converter.
func NewVoiceTTSConverter(opts ConverterOptions) *VoiceConverter {
	return &VoiceConverter{
		converterBase: newConverterBase(model.VendorVoiceTTS, opts),
		outputs: []fieldSpec{
			{Key: model.DataAudioURL, Expr: "audioUrl"},
			{Key: model.DataVoiceID, Expr: "voiceId"},
			{Key: model.DataDurationSeconds, Expr: "duration"},
		},
	}
}

// IdentifyVendor reads the type field.
func (c *VoiceConverter) IdentifyVendor(payload []byte) (model.Vendor, bool) {
	doc, err := c.decode(payload)
	if err != nil {
		return "", false
	}
	v, ok := voiceTypes[normalizeTag(c.str(doc, voiceExprType))]
	return v, ok
}

// Convert normalizes a voice callback.
func (c *VoiceConverter) Convert(payload []byte) model.TaskResult {
	doc, err := c.decode(payload)
	if err != nil {
		return c.failure(payload, err)
	}

	res := c.result(c.str(doc, voiceExprRequestID), payload)
	res.BusinessMessage = c.str(doc, voiceExprExtra)

	raw := c.str(doc, voiceExprState)
	status, ok := voiceStates[raw]
	if !ok {
		failed := c.failure(payload, fmt.Errorf("%w: state %q", errUnknownStatus, raw))
		failed.JobID = res.JobID
		failed.BusinessMessage = res.BusinessMessage
		return failed
	}
	res.Status = status

	switch status {
	case model.TaskStatusSuccess:
		res.Data = c.extract(doc, c.outputs)
	case model.TaskStatusFailed, model.TaskStatusCancelled:
		res.ErrorCode = model.VendorErrorCode(status, c.str(doc, voiceExprErrCode))
		res.ErrorMessage = orDefault(c.str(doc, voiceExprErrMsg), "voice task ended with state "+raw)
	case model.TaskStatusPending, model.TaskStatusProcessing, model.TaskStatusTimeout:
	}
	return res
}

func (c *VoiceConverter) expressions() []string {
	exprs := []string{voiceExprRequestID, voiceExprType, voiceExprState, voiceExprErrCode, voiceExprErrMsg, voiceExprExtra}
	for _, f := range c.outputs {
		exprs = append(exprs, f.Expr)
	}
	return exprs
}

var _ PayloadConverter = (*VoiceConverter)(nil)
