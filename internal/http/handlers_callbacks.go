package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/domain/task"
)

const defaultCallbackBodyLimit = 1 << 20

const ackResponse = `{"status":"ok"}`

// CallbackHandlers receive vendor callbacks. Every response is 200 so vendors never retry.
type CallbackHandlers struct {
	Dispatcher *task.Dispatcher
	Registry   *task.Registry
	BodyLimit  int64
	Logger     *slog.Logger
}

// Receive handles a terminal or status callback on POST /callbacks/{endpoint}.
func (h *CallbackHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	defer ack(w)

	raw, err := h.readPayload(w, r)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "unreadable callback body",
			"endpoint", endpoint,
			"error", err)
		return
	}

	res := h.Dispatcher.Handle(r.Context(), endpoint, raw)
	h.Logger.DebugContext(r.Context(), "callback handled",
		"endpoint", endpoint,
		"job_id", res.JobID,
		"vendor", res.Vendor,
		"status", res.Status)
}

type progressRequest struct {
	JobID    string       `json:"jobId"`
	Vendor   model.Vendor `json:"vendor"`
	Progress string       `json:"progress"`
}

// Progress handles POST /callbacks/{endpoint}/progress.
func (h *CallbackHandlers) Progress(w http.ResponseWriter, r *http.Request) {
	endpoint := r.PathValue("endpoint")
	defer ack(w)

	raw, err := h.readPayload(w, r)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "unreadable progress body", "endpoint", endpoint, "error", err)
		return
	}
	var req progressRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.Logger.WarnContext(r.Context(), "malformed progress callback", "endpoint", endpoint, "error", err)
		return
	}
	if h.Registry != nil {
		if ep, ok := h.Registry.EndpointFor(req.Vendor); ok && ep != strings.ToLower(endpoint) {
			h.Logger.WarnContext(r.Context(), "progress callback on foreign endpoint",
				"endpoint", endpoint,
				"vendor", req.Vendor,
				"expected_endpoint", ep)
			return
		}
	}
	h.Dispatcher.HandleProgress(r.Context(), model.NewJobIdentity(req.JobID, req.Vendor), req.Progress)
}

// readPayload returns the body as JSON. Form-encoded bodies become a JSON object of their
// fields; field values that are themselves JSON documents are embedded as such.
func (h *CallbackHandlers) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := h.BodyLimit
	if limit <= 0 {
		limit = defaultCallbackBodyLimit
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, err
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		return body, nil
	}
	return formToJSON(body)
}

var errEmptyForm = errors.New("empty form body")

func formToJSON(body []byte) ([]byte, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errEmptyForm
	}
	doc := make(map[string]json.RawMessage, len(values))
	for key, vals := range values {
		v := vals[0]
		trimmed := strings.TrimSpace(v)
		if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
			doc[key] = json.RawMessage(trimmed)
			continue
		}
		quoted, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc[key] = quoted
	}
	return json.Marshal(doc)
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ackResponse)
}
