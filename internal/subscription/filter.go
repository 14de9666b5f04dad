package subscription

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/rzbill/strand/internal/eventstore"
)

// Filter wraps a compiled CEL program evaluated per event before delivery.
// When disabled (empty expression), Eval always returns true.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr. An empty expression yields a disabled filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("stream", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("version", cel.IntType),
		cel.Variable("position", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against ev. Evaluation errors count as a
// non-match.
func (f Filter) Eval(ev eventstore.Event) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(ev.Payload, &jsonObj)
	metadata := map[string]string{}
	if len(ev.Metadata) > 0 {
		var mm map[string]string
		if err := json.Unmarshal(ev.Metadata, &mm); err == nil {
			metadata = mm
		}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"stream":     ev.Stream,
		"event_type": ev.Type,
		"version":    ev.Version,
		"position":   int64(ev.Position),
		"ts_ms":      ev.CreatedAtMs,
		"size":       int64(len(ev.Payload)),
		"text":       string(ev.Payload),
		"json":       jsonObj,
		"metadata":   metadata,
		"now_ms":     time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
