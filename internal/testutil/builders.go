package testutil

import (
	"encoding/json"

	"github.com/target/taskrelay/internal/domain/model"
)

// MediaCallbackBuilder builds media-provider callback bodies with a fluent API.
type MediaCallbackBuilder struct {
	body map[string]any
	data map[string]any
}

// NewMediaCallback starts a successful media callback for jobID and ability.
func NewMediaCallback(jobID string, ability model.Vendor) *MediaCallbackBuilder {
	data := map[string]any{
		"task_id":     jobID,
		"ability":     string(ability),
		"status":      "succeeded",
		"result_code": 0,
		"result_msg":  "",
		"output":      map[string]any{},
	}
	return &MediaCallbackBuilder{
		body: map[string]any{"code": 0, "message": "ok", "data": data},
		data: data,
	}
}

// WithStatus sets data.status.
func (b *MediaCallbackBuilder) WithStatus(status string) *MediaCallbackBuilder {
	b.data["status"] = status
	return b
}

// WithEnvelopeError sets a non-zero transport code.
func (b *MediaCallbackBuilder) WithEnvelopeError(code int, msg string) *MediaCallbackBuilder {
	b.body["code"] = code
	b.body["message"] = msg
	return b
}

// WithResultError sets a non-zero business result code.
func (b *MediaCallbackBuilder) WithResultError(code int, msg string) *MediaCallbackBuilder {
	b.data["result_code"] = code
	b.data["result_msg"] = msg
	return b
}

// WithOutput sets one output field (video_url, image_url, ...).
func (b *MediaCallbackBuilder) WithOutput(key string, value any) *MediaCallbackBuilder {
	out, _ := b.data["output"].(map[string]any)
	out[key] = value
	return b
}

// WithBusinessMessage sets data.business_message.
func (b *MediaCallbackBuilder) WithBusinessMessage(msg string) *MediaCallbackBuilder {
	b.data["business_message"] = msg
	return b
}

// Build returns the JSON body.
func (b *MediaCallbackBuilder) Build() []byte {
	return mustJSON(b.body)
}

// VoiceCallback builds a voice-provider callback body.
func VoiceCallback(requestID, kind string, state int, fields map[string]any) []byte {
	body := map[string]any{
		"requestId": requestID,
		"type":      kind,
		"state":     state,
	}
	for k, v := range fields {
		body[k] = v
	}
	return mustJSON(body)
}

// SongCallback builds a song-provider callback body.
func SongCallback(jobID, status string, result map[string]any, errInfo map[string]any) []byte {
	body := map[string]any{
		"job_id":    jobID,
		"task_type": "song_conversion",
		"status":    status,
	}
	if result != nil {
		body["result"] = result
	}
	if errInfo != nil {
		body["error"] = errInfo
	}
	return mustJSON(body)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
