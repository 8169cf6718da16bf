package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
)

// PayloadConverter turns one vendor's callback body into a canonical TaskResult.
// Convert is total: malformed input yields a FAILED result with errorCode CONVERSION_ERROR.
type PayloadConverter interface {
	Vendor() model.Vendor
	// IdentifyVendor reads the vendor tag carried by the payload; ok is false when the
	// payload carries no tag this converter's provider family understands.
	IdentifyVendor(payload []byte) (model.Vendor, bool)
	Convert(payload []byte) model.TaskResult
}

// Callback endpoints, one per vendor provider family.
const (
	EndpointMedia = "media"
	EndpointVoice = "voice"
	EndpointSong  = "song"
)

var (
	errNotObject     = errors.New("payload is not a JSON object")
	errUnknownStatus = errors.New("unrecognized vendor status")
)

// ConverterOptions are shared by the built-in converters.
type ConverterOptions struct {
	Evaluator FieldEvaluator
	Now       func() time.Time
}

// fieldSpec maps a canonical data key to the JMESPath expression that extracts it.
type fieldSpec struct {
	Key  string
	Expr string
}

// converterBase carries what every JSON converter needs.
type converterBase struct {
	vendor model.Vendor
	eval   FieldEvaluator
	now    func() time.Time
}

func newConverterBase(vendor model.Vendor, opts ConverterOptions) converterBase {
	eval := opts.Evaluator
	if eval == nil {
		eval = jmespathEvaluator{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return converterBase{vendor: vendor, eval: eval, now: now}
}

func (b converterBase) Vendor() model.Vendor {
	return b.vendor
}

func (b converterBase) decode(payload []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if doc == nil {
		return nil, errNotObject
	}
	return doc, nil
}

// str evaluates expr against doc; evaluation errors and missing values yield "".
func (b converterBase) str(doc any, expr string) string {
	if expr == "" {
		return ""
	}
	v, err := b.eval.Evaluate(expr, doc)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

func (b converterBase) extract(doc any, fields []fieldSpec) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if _, done := out[f.Key]; done {
			continue
		}
		if v := b.str(doc, f.Expr); v != "" {
			out[f.Key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b converterBase) failure(payload []byte, cause error) model.TaskResult {
	return model.NewConversionFailure(b.vendor, payload, cause, b.now())
}

func (b converterBase) result(jobID string, payload []byte) model.TaskResult {
	return model.TaskResult{
		JobID:        jobID,
		Vendor:       b.vendor,
		CallbackTime: b.now(),
		RawCallback:  model.RawJSON(payload),
	}
}

// expressions lists every JMESPath expression a converter relies on, for validation.
type expressionSource interface {
	expressions() []string
}

// Registry resolves callback endpoints and vendor tags to converters.
type Registry struct {
	byEndpoint map[string][]PayloadConverter
	byVendor   map[model.Vendor]PayloadConverter
	endpointOf map[model.Vendor]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byEndpoint: make(map[string][]PayloadConverter),
		byVendor:   make(map[model.Vendor]PayloadConverter),
		endpointOf: make(map[model.Vendor]string),
	}
}

// Register binds c to endpoint. A vendor can only be registered once.
func (r *Registry) Register(endpoint string, c PayloadConverter) error {
	endpoint = normalizeEndpoint(endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: empty endpoint", ErrUnknownEndpoint)
	}
	v := c.Vendor()
	if _, exists := r.byVendor[v]; exists {
		return fmt.Errorf("%w: %s", ErrConverterConflict, v)
	}
	r.byVendor[v] = c
	r.endpointOf[v] = endpoint
	r.byEndpoint[endpoint] = append(r.byEndpoint[endpoint], c)
	return nil
}

// Converter returns the converter registered for vendor.
func (r *Registry) Converter(vendor model.Vendor) (PayloadConverter, bool) {
	c, ok := r.byVendor[vendor]
	return c, ok
}

// HasEndpoint reports whether any converter serves endpoint.
func (r *Registry) HasEndpoint(endpoint string) bool {
	return len(r.byEndpoint[normalizeEndpoint(endpoint)]) > 0
}

// Endpoints returns the registered endpoints in sorted order.
func (r *Registry) Endpoints() []string {
	out := make([]string, 0, len(r.byEndpoint))
	for ep := range r.byEndpoint {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// EndpointFor returns the endpoint a vendor's callbacks arrive on.
func (r *Registry) EndpointFor(vendor model.Vendor) (string, bool) {
	ep, ok := r.endpointOf[vendor]
	return ep, ok
}

// Resolve picks the converter of endpoint whose vendor matches the tag carried by payload.
func (r *Registry) Resolve(endpoint string, payload []byte) (PayloadConverter, bool) {
	for _, c := range r.byEndpoint[normalizeEndpoint(endpoint)] {
		if v, ok := c.IdentifyVendor(payload); ok && v == c.Vendor() {
			return c, true
		}
	}
	return nil, false
}

// Validate compiles every expression used by the registered converters.
func (r *Registry) Validate(eval FieldEvaluator) error {
	if eval == nil {
		eval = jmespathEvaluator{}
	}
	vendors := make([]string, 0, len(r.byVendor))
	for v := range r.byVendor {
		vendors = append(vendors, string(v))
	}
	sort.Strings(vendors)

	var errs []error
	for _, name := range vendors {
		src, ok := r.byVendor[model.Vendor(name)].(expressionSource)
		if !ok {
			continue
		}
		for _, expr := range src.expressions() {
			if err := eval.Validate(expr); err != nil {
				errs = append(errs, fmt.Errorf("%s: expression %q: %w", name, expr, err))
			}
		}
	}
	return errors.Join(errs...)
}

// NewDefaultRegistry registers the built-in converter of every supported vendor
// and validates their expressions.
func NewDefaultRegistry(opts ConverterOptions, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	converters := []struct {
		endpoint string
		conv     PayloadConverter
	}{
		{EndpointMedia, NewFaceSwapConverter(opts)},
		{EndpointMedia, NewLipSyncConverter(opts)},
		{EndpointMedia, NewImageGenConverter(opts)},
		{EndpointMedia, NewVideoGenConverter(opts)},
		{EndpointVoice, NewVoiceCloneConverter(opts)},
		{EndpointVoice, NewVoiceTTSConverter(opts)},
		{EndpointSong, NewSongConversionConverter(opts)},
	}
	for _, c := range converters {
		if err := r.Register(c.endpoint, c.conv); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(opts.Evaluator); err != nil {
		return nil, err
	}
	logger.Debug("converter registry ready", "endpoints", r.Endpoints())
	return r, nil
}

func normalizeEndpoint(ep string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(ep), "/"))
}

// normalizeTag lowercases a vendor tag and drops separators so "Face-Swap", "face_swap"
// and "faceswap" compare equal.
func normalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(tag)
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
