package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/testutil"
)

var fixedNow = func() time.Time { return testutil.TestTime() }

func TestMediaConverter_Convert(t *testing.T) {
	conv := NewLipSyncConverter(ConverterOptions{Now: fixedNow})

	tests := []struct {
		name       string
		payload    []byte
		wantStatus model.TaskStatus
		wantCode   string
		wantMsg    string
		wantData   map[string]string
	}{
		{
			name: "success extracts canonical fields",
			payload: testutil.NewMediaCallback("job-1", model.VendorLipSync).
				WithOutput("video_url", "https://x/a.mp4").
				WithOutput("duration", 12.5).
				Build(),
			wantStatus: model.TaskStatusSuccess,
			wantData: map[string]string{
				model.DataVideoURL:        "https://x/a.mp4",
				model.DataDurationSeconds: "12.5",
			},
		},
		{
			name: "envelope failure wins over inner success",
			payload: testutil.NewMediaCallback("job-1", model.VendorLipSync).
				WithEnvelopeError(500, "gateway error").
				WithOutput("video_url", "https://x/a.mp4").
				Build(),
			wantStatus: model.TaskStatusFailed,
			wantCode:   "500",
			wantMsg:    "gateway error",
		},
		{
			name: "inner result code fails a succeeded status",
			payload: testutil.NewMediaCallback("job-1", model.VendorLipSync).
				WithResultError(3004, "no face detected").
				Build(),
			wantStatus: model.TaskStatusFailed,
			wantCode:   "3004",
			wantMsg:    "no face detected",
		},
		{
			name:       "processing",
			payload:    testutil.NewMediaCallback("job-1", model.VendorLipSync).WithStatus("running").Build(),
			wantStatus: model.TaskStatusProcessing,
		},
		{
			name:       "cancelled",
			payload:    testutil.NewMediaCallback("job-1", model.VendorLipSync).WithStatus("canceled").Build(),
			wantStatus: model.TaskStatusCancelled,
			wantCode:   model.ErrorCodeVendorCancelled,
			wantMsg:    "vendor cancelled the task",
		},
		{
			name:       "failed status without a code",
			payload:    testutil.NewMediaCallback("job-1", model.VendorLipSync).WithStatus("failed").Build(),
			wantStatus: model.TaskStatusFailed,
			wantCode:   model.ErrorCodeVendorFailed,
		},
		{
			name:       "unknown status downgrades to conversion error",
			payload:    testutil.NewMediaCallback("job-1", model.VendorLipSync).WithStatus("melted").Build(),
			wantStatus: model.TaskStatusFailed,
			wantCode:   model.ErrorCodeConversion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := conv.Convert(tt.payload)
			assert.Equal(t, "job-1", res.JobID)
			assert.Equal(t, model.VendorLipSync, res.Vendor)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, res.ErrorMessage)
			}
			if tt.wantData != nil {
				assert.Equal(t, tt.wantData, res.Data)
			}
			assert.JSONEq(t, string(tt.payload), string(res.RawCallback))
			assert.True(t, res.CallbackTime.Equal(testutil.TestTime()))
		})
	}
}

func TestMediaConverter_BusinessMessage(t *testing.T) {
	payload := testutil.NewMediaCallback("job-2", model.VendorFaceSwap).
		WithOutput("image_url", "https://x/face.png").
		WithBusinessMessage(`{"order":"o-1"}`).
		Build()

	res := NewFaceSwapConverter(ConverterOptions{}).Convert(payload)
	require.Equal(t, model.TaskStatusSuccess, res.Status)
	assert.Equal(t, `{"order":"o-1"}`, res.BusinessMessage)
	assert.Equal(t, "https://x/face.png", res.Data[model.DataImageURL])
}

func TestImageGenConverter_FallsBackToImagesArray(t *testing.T) {
	payload := testutil.NewMediaCallback("job-3", model.VendorImageGen).
		WithOutput("images", []map[string]any{{"url": "https://x/0.png"}, {"url": "https://x/1.png"}}).
		Build()

	res := NewImageGenConverter(ConverterOptions{}).Convert(payload)
	require.Equal(t, model.TaskStatusSuccess, res.Status)
	assert.Equal(t, "https://x/0.png", res.Data[model.DataImageURL])
}

func TestConverters_MalformedInputNeverPanics(t *testing.T) {
	inputs := [][]byte{nil, []byte(""), []byte("not json"), []byte("[]"), []byte("null"), []byte(`{"data":7}`)}
	registry, err := NewDefaultRegistry(ConverterOptions{}, nil)
	require.NoError(t, err)

	for _, v := range model.AllVendors() {
		conv, ok := registry.Converter(v)
		require.True(t, ok, "vendor %s", v)
		for _, in := range inputs {
			res := conv.Convert(in)
			assert.Equal(t, model.TaskStatusFailed, res.Status, "vendor %s input %q", v, in)
			assert.Equal(t, model.ErrorCodeConversion, res.ErrorCode)
			assert.Equal(t, v, res.Vendor)
		}
	}
}

func TestVoiceConverter_Convert(t *testing.T) {
	clone := NewVoiceCloneConverter(ConverterOptions{})
	tts := NewVoiceTTSConverter(ConverterOptions{})

	t.Run("clone success yields voiceId", func(t *testing.T) {
		res := clone.Convert(testutil.VoiceCallback("req-1", "clone", 2, map[string]any{"voiceId": "v-42"}))
		assert.Equal(t, "req-1", res.JobID)
		assert.Equal(t, model.TaskStatusSuccess, res.Status)
		assert.Equal(t, map[string]string{model.DataVoiceID: "v-42"}, res.Data)
	})

	t.Run("tts success yields audioUrl", func(t *testing.T) {
		res := tts.Convert(testutil.VoiceCallback("req-2", "tts", 2, map[string]any{
			"audioUrl": "https://x/a.wav",
			"duration": 3,
			"extra":    "biz-7",
		}))
		assert.Equal(t, model.TaskStatusSuccess, res.Status)
		assert.Equal(t, "https://x/a.wav", res.Data[model.DataAudioURL])
		assert.Equal(t, "3", res.Data[model.DataDurationSeconds])
		assert.Equal(t, "biz-7", res.BusinessMessage)
	})

	t.Run("failure carries vendor error", func(t *testing.T) {
		res := clone.Convert(testutil.VoiceCallback("req-3", "clone", 3, map[string]any{
			"errCode": "E_SAMPLE",
			"errMsg":  "sample too short",
		}))
		assert.Equal(t, model.TaskStatusFailed, res.Status)
		assert.Equal(t, "E_SAMPLE", res.ErrorCode)
		assert.Equal(t, "sample too short", res.ErrorMessage)
		assert.Nil(t, res.Data)
	})

	t.Run("failure without message gets one", func(t *testing.T) {
		res := clone.Convert(testutil.VoiceCallback("req-4", "clone", 4, nil))
		assert.Equal(t, model.TaskStatusCancelled, res.Status)
		assert.Equal(t, model.ErrorCodeVendorCancelled, res.ErrorCode)
		assert.NotEmpty(t, res.ErrorMessage)
	})

	t.Run("interim states", func(t *testing.T) {
		assert.Equal(t, model.TaskStatusPending, tts.Convert(testutil.VoiceCallback("r", "tts", 0, nil)).Status)
		assert.Equal(t, model.TaskStatusProcessing, tts.Convert(testutil.VoiceCallback("r", "tts", 1, nil)).Status)
	})

	t.Run("unknown state", func(t *testing.T) {
		res := tts.Convert(testutil.VoiceCallback("r", "tts", 9, nil))
		assert.Equal(t, model.ErrorCodeConversion, res.ErrorCode)
		assert.Equal(t, "r", res.JobID)
	})
}

func TestSongConverter_Convert(t *testing.T) {
	conv := NewSongConversionConverter(ConverterOptions{})

	res := conv.Convert(testutil.SongCallback("song-1", "completed",
		map[string]any{"song_url": "https://x/s.mp3", "cover_url": "https://x/c.jpg", "duration": 183},
		nil))
	assert.Equal(t, model.TaskStatusSuccess, res.Status)
	assert.Equal(t, map[string]string{
		model.DataAudioURL:        "https://x/s.mp3",
		model.DataCoverURL:        "https://x/c.jpg",
		model.DataDurationSeconds: "183",
	}, res.Data)

	failed := conv.Convert(testutil.SongCallback("song-2", "failed", nil,
		map[string]any{"code": "VOCAL_SPLIT", "message": "separation failed"}))
	assert.Equal(t, model.TaskStatusFailed, failed.Status)
	assert.Equal(t, "VOCAL_SPLIT", failed.ErrorCode)
	assert.Equal(t, "separation failed", failed.ErrorMessage)

	bare := conv.Convert(testutil.SongCallback("song-3", "failed", nil, nil))
	assert.Equal(t, model.ErrorCodeVendorFailed, bare.ErrorCode)
	assert.Equal(t, "song conversion failed", bare.ErrorMessage)
}

func TestConverters_IdentifyDistinctVendors(t *testing.T) {
	registry, err := NewDefaultRegistry(ConverterOptions{}, nil)
	require.NoError(t, err)

	payloads := map[model.Vendor][]byte{
		model.VendorFaceSwap:       testutil.NewMediaCallback("a", model.VendorFaceSwap).Build(),
		model.VendorLipSync:        testutil.NewMediaCallback("b", model.VendorLipSync).Build(),
		model.VendorImageGen:       testutil.NewMediaCallback("c", model.VendorImageGen).Build(),
		model.VendorVideoGen:       testutil.NewMediaCallback("d", model.VendorVideoGen).Build(),
		model.VendorVoiceClone:     testutil.VoiceCallback("e", "clone", 2, nil),
		model.VendorVoiceTTS:       testutil.VoiceCallback("f", "tts", 2, nil),
		model.VendorSongConversion: testutil.SongCallback("g", "completed", nil, nil),
	}

	for a, pa := range payloads {
		for b, pb := range payloads {
			if a == b {
				continue
			}
			convA, _ := registry.Converter(a)
			convB, _ := registry.Converter(b)
			tagA, okA := convA.IdentifyVendor(pa)
			tagB, okB := convB.IdentifyVendor(pb)
			require.True(t, okA, "vendor %s", a)
			require.True(t, okB, "vendor %s", b)
			assert.NotEqual(t, tagA, tagB, "%s vs %s", a, b)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	registry, err := NewDefaultRegistry(ConverterOptions{}, nil)
	require.NoError(t, err)

	conv, ok := registry.Resolve("/media/", testutil.NewMediaCallback("x", model.VendorVideoGen).Build())
	require.True(t, ok)
	assert.Equal(t, model.VendorVideoGen, conv.Vendor())

	conv, ok = registry.Resolve(EndpointVoice, testutil.VoiceCallback("x", "TTS", 1, nil))
	require.True(t, ok)
	assert.Equal(t, model.VendorVoiceTTS, conv.Vendor())

	_, ok = registry.Resolve(EndpointMedia, testutil.NewMediaCallback("x", "karaoke").Build())
	assert.False(t, ok)

	_, ok = registry.Resolve(EndpointVoice, testutil.NewMediaCallback("x", model.VendorLipSync).Build())
	assert.False(t, ok, "media payload on voice endpoint")

	_, ok = registry.Resolve("unknown", []byte(`{}`))
	assert.False(t, ok)

	assert.Equal(t, []string{EndpointMedia, EndpointSong, EndpointVoice}, registry.Endpoints())
	ep, ok := registry.EndpointFor(model.VendorSongConversion)
	assert.True(t, ok)
	assert.Equal(t, EndpointSong, ep)
}

func TestRegistry_RejectsDuplicateVendor(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(EndpointMedia, NewLipSyncConverter(ConverterOptions{})))
	err := r.Register(EndpointVoice, NewLipSyncConverter(ConverterOptions{}))
	assert.True(t, errors.Is(err, ErrConverterConflict))
}

type failingEvaluator struct{ jmespathEvaluator }

func (failingEvaluator) Validate(string) error { return errors.New("bad expression") }

func TestRegistry_ValidateReportsBadExpressions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(EndpointSong, NewSongConversionConverter(ConverterOptions{})))
	assert.NoError(t, r.Validate(nil))
	assert.Error(t, r.Validate(failingEvaluator{}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "abc", stringify("abc"))
	assert.Equal(t, "12", stringify(float64(12)))
	assert.Equal(t, "0.25", stringify(0.25))
	assert.Equal(t, "true", stringify(true))
	assert.JSONEq(t, `{"a":1}`, stringify(map[string]any{"a": 1}))
}
