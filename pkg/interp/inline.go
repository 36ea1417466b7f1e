package interp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sameehj/execbridge/pkg/types"
)

const previewRunes = 100

type InlineRequest struct {
	Code    string
	Cwd     string
	Timeout time.Duration
	Env     map[string]string
}

type InlineResult struct {
	types.ExecutionResult
	CodePreview string `json:"code_preview"`
}

// RunInlineCode screens code with the safety filter, stages it in the
// scratch directory and runs it with Python. The staged file is removed on
// every return path, including after a timeout kill.
func (f *Facade) RunInlineCode(ctx context.Context, req InlineRequest) (*InlineResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, types.Malformed("run_inline_code", "code is required")
	}
	if verdict := f.filter.Check(req.Code); !verdict.Safe {
		if f.observer != nil {
			f.observer.UnsafeCodeBlocked(verdict.Rule)
		}
		f.logWarn("inline_code_blocked", "rule", verdict.Rule)
		return nil, &types.Error{
			Kind:    types.KindUnsafeCode,
			Op:      "run_inline_code",
			Message: verdict.Reason,
			Details: map[string]string{"rule": verdict.Rule},
		}
	}
	cwd, err := f.guard.ValidateOptional(req.Cwd)
	if err != nil {
		return nil, err
	}

	path, cleanup, err := f.stage("inline", req.Code)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if cwd == "" {
		cwd = f.opts.ScratchDir
	}
	res, err := f.runner.Run(ctx, f.scriptRequest(types.KindPython, path, nil, cwd, req.Timeout, req.Env))
	if err != nil {
		return nil, err
	}
	return &InlineResult{ExecutionResult: res, CodePreview: preview(req.Code)}, nil
}

// stage writes code to a fresh file in the scratch directory. The returned
// cleanup removes it and must always be called.
func (f *Facade) stage(prefix, code string) (string, func(), error) {
	if err := os.MkdirAll(f.opts.ScratchDir, 0o700); err != nil {
		return "", nil, types.FromOS("stage", f.opts.ScratchDir, err)
	}
	path := filepath.Join(f.opts.ScratchDir, fmt.Sprintf("%s_%s.py", prefix, uuid.NewString()))
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", nil, types.FromOS("stage", path, err)
	}
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			f.logWarn("temp_file_cleanup_failed", "path", path, "error", err)
		}
	}
	_, err = fh.WriteString(code)
	if closeErr := fh.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, types.FromOS("stage", path, err)
	}
	return path, cleanup, nil
}

func preview(code string) string {
	r := []rune(code)
	if len(r) <= previewRunes {
		return code
	}
	return string(r[:previewRunes]) + "..."
}
