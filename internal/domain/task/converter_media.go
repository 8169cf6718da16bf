package task

import (
	"fmt"

	"github.com/target/taskrelay/internal/domain/model"
)

// Media provider envelope:
//
//	{"code":0,"message":"ok","data":{"task_id":"...","ability":"lip_sync","status":"succeeded",
//	 "result_code":0,"result_msg":"","output":{"video_url":"..."},"business_message":"..."}}
//
// Status is encoded in two layers. A non-zero envelope code is a transport failure and wins;
// otherwise a non-zero result_code is an algorithm failure even when status says succeeded.
const (
	mediaExprCode      = "code"
	mediaExprMessage   = "message"
	mediaExprTaskID    = "data.task_id"
	mediaExprAbility   = "data.ability"
	mediaExprStatus    = "data.status"
	mediaExprResCode   = "data.result_code"
	mediaExprResMsg    = "data.result_msg"
	mediaExprBusiness  = "data.business_message"
	mediaDefaultFailed = "vendor reported failure"
)

var mediaStatuses = map[string]model.TaskStatus{
	"queued":     model.TaskStatusPending,
	"submitted":  model.TaskStatusPending,
	"pending":    model.TaskStatusPending,
	"running":    model.TaskStatusProcessing,
	"processing": model.TaskStatusProcessing,
	"succeeded":  model.TaskStatusSuccess,
	"success":    model.TaskStatusSuccess,
	"failed":     model.TaskStatusFailed,
	"error":      model.TaskStatusFailed,
	"canceled":   model.TaskStatusCancelled,
	"cancelled":  model.TaskStatusCancelled,
}

// mediaAbilities maps normalized ability tags to vendors.
var mediaAbilities = map[string]model.Vendor{
	"faceswap":    model.VendorFaceSwap,
	"lipsync":     model.VendorLipSync,
	"imagegen":    model.VendorImageGen,
	"text2image":  model.VendorImageGen,
	"videogen":    model.VendorVideoGen,
	"image2video": model.VendorVideoGen,
	"text2video":  model.VendorVideoGen,
}

// MediaConverter handles the media provider's face swap, lip sync, image and video generation callbacks.
type MediaConverter struct {
	converterBase
	outputs []fieldSpec
}

func newMediaConverter(vendor model.Vendor, outputs []fieldSpec, opts ConverterOptions) *MediaConverter {
	return &MediaConverter{converterBase: newConverterBase(vendor, opts), outputs: outputs}
}

// NewFaceSwapConverter returns the face swap converter.
func NewFaceSwapConverter(opts ConverterOptions) *MediaConverter {
	return newMediaConverter(model.VendorFaceSwap, []fieldSpec{
		{Key: model.DataImageURL, Expr: "data.output.image_url"},
		{Key: model.DataVideoURL, Expr: "data.output.video_url"},
	}, opts)
}

// NewLipSyncConverter returns the lip sync converter.
func NewLipSyncConverter(opts ConverterOptions) *MediaConverter {
	return newMediaConverter(model.VendorLipSync, []fieldSpec{
		{Key: model.DataVideoURL, Expr: "data.output.video_url"},
		{Key: model.DataCoverURL, Expr: "data.output.cover_url"},
		{Key: model.DataDurationSeconds, Expr: "data.output.duration"},
	}, opts)
}

// NewImageGenConverter returns the image generation converter.
func NewImageGenConverter(opts ConverterOptions) *MediaConverter {
	return newMediaConverter(model.VendorImageGen, []fieldSpec{
		{Key: model.DataImageURL, Expr: "data.output.image_url"},
		{Key: model.DataImageURL, Expr: "data.output.images[0].url"},
	}, opts)
}

// NewVideoGenConverter returns the video generation converter.
func NewVideoGenConverter(opts ConverterOptions) *MediaConverter {
	return newMediaConverter(model.VendorVideoGen, []fieldSpec{
		{Key: model.DataVideoURL, Expr: "data.output.video_url"},
		{Key: model.DataCoverURL, Expr: "data.output.cover_url"},
		{Key: model.DataDurationSeconds, Expr: "data.output.duration"},
	}, opts)
}

// IdentifyVendor reads data.ability.
func (c *MediaConverter) IdentifyVendor(payload []byte) (model.Vendor, bool) {
	doc, err := c.decode(payload)
	if err != nil {
		return "", false
	}
	v, ok := mediaAbilities[normalizeTag(c.str(doc, mediaExprAbility))]
	return v, ok
}

// Convert normalizes a media callback.
func (c *MediaConverter) Convert(payload []byte) model.TaskResult {
	doc, err := c.decode(payload)
	if err != nil {
		return c.failure(payload, err)
	}

	res := c.result(c.str(doc, mediaExprTaskID), payload)
	res.BusinessMessage = c.str(doc, mediaExprBusiness)

	if code := c.str(doc, mediaExprCode); !isZeroCode(code) {
		res.Status = model.TaskStatusFailed
		res.ErrorCode = code
		res.ErrorMessage = orDefault(c.str(doc, mediaExprMessage), mediaDefaultFailed)
		return res
	}
	if code := c.str(doc, mediaExprResCode); !isZeroCode(code) {
		res.Status = model.TaskStatusFailed
		res.ErrorCode = code
		res.ErrorMessage = orDefault(c.str(doc, mediaExprResMsg), mediaDefaultFailed)
		return res
	}

	raw := c.str(doc, mediaExprStatus)
	status, ok := mediaStatuses[normalizeStatus(raw)]
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
	case model.TaskStatusFailed:
		res.ErrorCode = model.ErrorCodeVendorFailed
		res.ErrorMessage = orDefault(c.str(doc, mediaExprResMsg), mediaDefaultFailed)
	case model.TaskStatusCancelled:
		res.ErrorCode = model.ErrorCodeVendorCancelled
		res.ErrorMessage = orDefault(c.str(doc, mediaExprResMsg), "vendor cancelled the task")
	case model.TaskStatusPending, model.TaskStatusProcessing, model.TaskStatusTimeout:
	}
	return res
}

func (c *MediaConverter) expressions() []string {
	exprs := []string{
		mediaExprCode, mediaExprMessage, mediaExprTaskID, mediaExprAbility,
		mediaExprStatus, mediaExprResCode, mediaExprResMsg, mediaExprBusiness,
	}
	for _, f := range c.outputs {
		exprs = append(exprs, f.Expr)
	}
	return exprs
}

// isZeroCode treats a missing, "0" or "0.0" style code as success.
func isZeroCode(code string) bool {
	switch code {
	case "", "0", "0.0", "00", "000":
		return true
	default:
		return false
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var _ PayloadConverter = (*MediaConverter)(nil)
