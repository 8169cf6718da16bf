package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVendor_Valid(t *testing.T) {
	for _, v := range AllVendors() {
		assert.True(t, v.Valid(), "vendor %s", v)
	}
	assert.False(t, Vendor("unknown").Valid())
	assert.False(t, Vendor("").Valid())
}

func TestParseVendor(t *testing.T) {
	v, err := ParseVendor("  Face_Swap ")
	require.NoError(t, err)
	assert.Equal(t, VendorFaceSwap, v)

	_, err = ParseVendor("karaoke")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidVendor))
}

func TestVendor_UnmarshalText(t *testing.T) {
	var v Vendor
	require.NoError(t, v.UnmarshalText([]byte("voice_tts")))
	assert.Equal(t, VendorVoiceTTS, v)
	assert.Error(t, v.UnmarshalText([]byte("nope")))
}

func TestJobIdentity_Validate(t *testing.T) {
	tests := []struct {
		name    string
		id      JobIdentity
		wantErr error
	}{
		{name: "valid", id: NewJobIdentity("j-1", VendorLipSync)},
		{name: "missing job id", id: NewJobIdentity("  ", VendorLipSync), wantErr: ErrJobIDRequired},
		{name: "bad vendor", id: NewJobIdentity("j-1", Vendor("x")), wantErr: ErrInvalidVendor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestJobIdentity_String(t *testing.T) {
	assert.Equal(t, "face_swap:abc", NewJobIdentity("abc", VendorFaceSwap).String())
}

func TestNewJobID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for range 100 {
		id := NewJobID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestTaskStatus_TerminalAndFinal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
		final    bool
	}{
		{TaskStatusPending, false, false},
		{TaskStatusProcessing, false, false},
		{TaskStatusSuccess, true, true},
		{TaskStatusFailed, true, true},
		{TaskStatusCancelled, true, true},
		{TaskStatusTimeout, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.final, tt.status.IsFinal())
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{"", TaskStatusSuccess, true},
		{TaskStatusPending, TaskStatusProcessing, true},
		{TaskStatusPending, TaskStatusSuccess, true},
		{TaskStatusProcessing, TaskStatusProcessing, true},
		{TaskStatusProcessing, TaskStatusFailed, true},
		{TaskStatusProcessing, TaskStatusPending, false},
		{TaskStatusSuccess, TaskStatusSuccess, true},
		{TaskStatusSuccess, TaskStatusFailed, false},
		{TaskStatusSuccess, TaskStatusProcessing, false},
		{TaskStatusFailed, TaskStatusPending, false},
		{TaskStatusCancelled, TaskStatusSuccess, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTaskResult_JSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := TaskResult{
		JobID:           "job-1",
		Vendor:          VendorLipSync,
		Status:          TaskStatusSuccess,
		Data:            map[string]string{DataVideoURL: "https://cdn/x.mp4"},
		BusinessMessage: `{"order":7}`,
		CallbackTime:    now,
		RawCallback:     json.RawMessage(`{"code":0}`),
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out TaskResult
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.Data, out.Data)
	assert.True(t, in.CallbackTime.Equal(out.CallbackTime))
	assert.True(t, in.SameOutcome(out))
	assert.JSONEq(t, `{"code":0}`, string(out.RawCallback))
}

func TestTaskResult_Field(t *testing.T) {
	r := TaskResult{Status: TaskStatusSuccess, Data: map[string]string{DataVoiceID: "v-9"}}
	v, ok := r.Field(DataVoiceID)
	assert.True(t, ok)
	assert.Equal(t, "v-9", v)

	_, ok = TaskResult{}.Field(DataVoiceID)
	assert.False(t, ok)
}

func TestTaskResult_SameOutcome(t *testing.T) {
	a := TaskResult{Status: TaskStatusSuccess, Data: map[string]string{DataImageURL: "a"}}
	b := TaskResult{Status: TaskStatusSuccess, Data: map[string]string{DataImageURL: "a"}, CallbackTime: time.Now()}
	c := TaskResult{Status: TaskStatusSuccess, Data: map[string]string{DataImageURL: "b"}}
	d := TaskResult{Status: TaskStatusFailed, ErrorCode: "E1"}

	assert.True(t, a.SameOutcome(b))
	assert.False(t, a.SameOutcome(c))
	assert.False(t, a.SameOutcome(d))
}

func TestNewConversionFailure(t *testing.T) {
	res := NewConversionFailure(VendorVoiceTTS, []byte("not json"), errors.New("boom"), time.Now())
	assert.Equal(t, TaskStatusFailed, res.Status)
	assert.Equal(t, ErrorCodeConversion, res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "boom")
	assert.True(t, json.Valid(res.RawCallback))
}

func TestNewTimeoutResult(t *testing.T) {
	id := NewJobIdentity("j", VendorImageGen)
	res := NewTimeoutResult(id, time.Now())
	assert.Equal(t, TaskStatusTimeout, res.Status)
	assert.Equal(t, id, res.Identity())
	assert.False(t, res.IsSuccess())
}

func TestArchivedTask_TaskResult(t *testing.T) {
	a := ArchivedTask{Result: json.RawMessage(`{"jobId":"j","vendor":"song_conversion","status":"SUCCESS"}`)}
	res, err := a.TaskResult()
	require.NoError(t, err)
	assert.Equal(t, VendorSongConversion, res.Vendor)
	assert.Equal(t, TaskStatusSuccess, res.Status)

	bad := ArchivedTask{Result: json.RawMessage(`{`)}
	_, err = bad.TaskResult()
	assert.Error(t, err)
}

func TestVendorErrorCode(t *testing.T) {
	assert.Equal(t, "3004", VendorErrorCode(TaskStatusFailed, "3004"))
	assert.Equal(t, ErrorCodeVendorFailed, VendorErrorCode(TaskStatusFailed, ""))
	assert.Equal(t, ErrorCodeVendorCancelled, VendorErrorCode(TaskStatusCancelled, ""))
}
