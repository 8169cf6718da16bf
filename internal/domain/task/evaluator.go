package task

import (
	"encoding/json"
	"strconv"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// FieldEvaluator abstracts JMESPath evaluation so converters can be tested with fakes.
type FieldEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathEvaluator implements FieldEvaluator using go-jmespath.
type jmespathEvaluator struct{}

// NewFieldEvaluator returns the JMESPath-backed evaluator.
func NewFieldEvaluator() FieldEvaluator {
	return jmespathEvaluator{}
}

func (jmespathEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (jmespathEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// stringify renders a decoded JSON value as the canonical string form stored in TaskResult.Data.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
