package interp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sameehj/execbridge/pkg/types"
)

const (
	syntaxTimeout = 10 * time.Second
	verdictPrefix = "SYNTAX_CHECK:"
)

// syntaxDriver parses (never executes) the file named by argv[1] and prints
// a single verdict line.
const syntaxDriver = `import ast, json, sys
path = sys.argv[1]
try:
    with open(path, "rb") as fh:
        source = fh.read()
    ast.parse(source, filename=path)
    verdict = {"valid": True}
except SyntaxError as e:
    verdict = {"valid": False, "line": e.lineno, "column": e.offset, "message": e.msg}
except Exception as e:
    verdict = {"valid": False, "message": str(e)}
print("` + verdictPrefix + `" + json.dumps(verdict))
`

type SyntaxRequest struct {
	Code       string
	ScriptPath string
}

type SyntaxResult struct {
	Valid   bool   `json:"valid"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source"`
	Error   string `json:"error,omitempty"`
}

// CheckSyntax asks the Python interpreter to parse either inline code or an
// existing script. Exactly one of the two must be given.
func (f *Facade) CheckSyntax(ctx context.Context, req SyntaxRequest) (*SyntaxResult, error) {
	hasCode := req.Code != ""
	hasPath := strings.TrimSpace(req.ScriptPath) != ""
	if hasCode == hasPath {
		return nil, types.Malformed("check_syntax", "exactly one of code or script_path is required")
	}

	var target, source string
	if hasPath {
		p, err := f.guard.Validate(req.ScriptPath)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, types.FromOS("check_syntax", p, err)
		}
		if info.IsDir() {
			return nil, &types.Error{Kind: types.KindMalformedRequest, Op: "check_syntax", Path: p, Message: "script path is a directory"}
		}
		target, source = p, p
	} else {
		p, cleanup, err := f.stage("syntax", req.Code)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		target, source = p, "inline"
	}

	py := f.opts.Python
	res, err := f.runner.Run(ctx, types.ExecutionRequest{
		Kind:    types.KindPython,
		Command: py.Command,
		Args:    append(append([]string{}, py.Args...), "-c", syntaxDriver, target),
		Dir:     f.opts.ScratchDir,
		Env:     withPythonTuning(nil),
		Timeout: syntaxTimeout,
	})
	if err != nil {
		return nil, err
	}
	out := parseVerdict(res)
	out.Source = source
	return out, nil
}

type verdictLine struct {
	Valid   bool   `json:"valid"`
	Line    *int   `json:"line"`
	Column  *int   `json:"column"`
	Message string `json:"message"`
}

// parseVerdict extracts the last verdict line from the driver output. A run
// without one (interpreter missing, timeout, crash) is reported as invalid
// with the reason in Error.
func parseVerdict(res types.ExecutionResult) *SyntaxResult {
	lines := strings.Split(strings.ReplaceAll(res.Stdout, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, verdictPrefix) {
			continue
		}
		var v verdictLine
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, verdictPrefix)), &v); err != nil {
			return &SyntaxResult{Error: fmt.Sprintf("unreadable verdict: %v", err)}
		}
		out := &SyntaxResult{Valid: v.Valid, Message: v.Message}
		if v.Line != nil {
			out.Line = *v.Line
		}
		if v.Column != nil {
			out.Column = *v.Column
		}
		return out
	}

	reason := res.Error
	if reason == "" {
		reason = strings.TrimSpace(res.Stderr)
	}
	if reason == "" {
		reason = fmt.Sprintf("interpreter exited with code %d", res.ExitCode)
	}
	return &SyntaxResult{Error: "syntax check produced no verdict: " + reason}
}
