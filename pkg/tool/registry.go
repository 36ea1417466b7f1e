package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	validator "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sameehj/execbridge/pkg/types"
)

// Recorder receives one observation per finished call.
type Recorder interface {
	ToolCalled(tool, outcome string, elapsed time.Duration)
}

type Registry struct {
	tools    map[string]*Tool
	logger   *slog.Logger
	recorder Recorder
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

func (r *Registry) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

func (r *Registry) SetRecorder(rec Recorder) {
	r.recorder = rec
}

func (r *Registry) Register(t *Tool) error {
	if t == nil || t.def.Name == "" {
		return errors.New("tool name is required")
	}
	if _, exists := r.tools[t.def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", t.def.Name)
	}
	r.tools[t.def.Name] = t
	return nil
}

// Definitions lists every tool sorted by name.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Call validates args and runs the named tool. Unknown tools and arguments
// that fail the schema are MalformedRequest errors raised before the tool
// does anything.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	start := time.Now()
	out, err := r.call(ctx, name, args)
	outcome := "ok"
	if err != nil {
		outcome = string(types.KindOf(err))
		if outcome == "" {
			outcome = "internal"
		}
		r.logWarn("tool_call_failed", "tool", name, "kind", outcome, "error", err)
	} else {
		r.logDebug("tool_call", "tool", name, "elapsed_ms", time.Since(start).Milliseconds())
	}
	if r.recorder != nil {
		r.recorder.ToolCalled(name, outcome, time.Since(start))
	}
	return out, err
}

func (r *Registry) call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, types.Malformed("tools/call", "unknown tool %q", name)
	}
	args, err := t.validate(args)
	if err != nil {
		return nil, &types.Error{
			Kind:    types.KindMalformedRequest,
			Op:      name,
			Message: "invalid arguments: " + schemaMessage(err),
			Err:     err,
		}
	}
	return t.call(ctx, args)
}

func schemaMessage(err error) string {
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		lines := strings.Split(strings.TrimSpace(ve.Error()), "\n")
		for i := range lines {
			lines[i] = strings.TrimSpace(lines[i])
		}
		return strings.Join(lines, "; ")
	}
	return err.Error()
}

func (r *Registry) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Registry) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
