package tool

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sameehj/execbridge/pkg/fsops"
	"github.com/sameehj/execbridge/pkg/interp"
	"github.com/sameehj/execbridge/pkg/types"
)

type PathParams struct {
	Path string `json:"path" jsonschema:"minLength=1" jsonschema_description:"Absolute or home-relative path"`
}

type ReadParams struct {
	Path     string `json:"path" jsonschema:"minLength=1" jsonschema_description:"File to read"`
	Encoding string `json:"encoding,omitempty" jsonschema_description:"text (default), base64, or an encoding label such as latin1 or utf-16le"`
}

type WriteParams struct {
	Path         string `json:"path" jsonschema:"minLength=1" jsonschema_description:"File to write; parent directories are created"`
	Content      string `json:"content" jsonschema_description:"New file content"`
	CreateBackup *bool  `json:"create_backup,omitempty" jsonschema:"default=true" jsonschema_description:"Copy an existing file aside before overwriting it"`
	Encoding     string `json:"encoding,omitempty" jsonschema_description:"Encoding of content: text (default), base64, or an encoding label"`
}

type SearchParams struct {
	Directory string `json:"directory" jsonschema:"minLength=1" jsonschema_description:"Directory to search beneath"`
	Pattern   string `json:"pattern" jsonschema:"minLength=1" jsonschema_description:"Glob relative to directory; ** matches across directories"`
}

type DeleteParams struct {
	Path         string `json:"path" jsonschema:"minLength=1" jsonschema_description:"File to delete"`
	CreateBackup *bool  `json:"create_backup,omitempty" jsonschema:"default=true" jsonschema_description:"Copy the file aside before deleting it"`
}

type ScriptParams struct {
	ScriptPath string            `json:"script_path" jsonschema:"minLength=1" jsonschema_description:"Script to execute"`
	Args       []string          `json:"args,omitempty" jsonschema_description:"Arguments passed to the script"`
	Cwd        string            `json:"cwd,omitempty" jsonschema_description:"Working directory; defaults to the script directory"`
	Timeout    int64             `json:"timeout,omitempty" jsonschema:"minimum=0" jsonschema_description:"Timeout in milliseconds; clamped to the configured bounds"`
	Env        map[string]string `json:"env,omitempty" jsonschema_description:"Environment variables added to the inherited environment"`
}

type InlineParams struct {
	Code    string            `json:"code" jsonschema:"minLength=1" jsonschema_description:"Python source to run"`
	Cwd     string            `json:"cwd,omitempty" jsonschema_description:"Working directory; defaults to the scratch directory"`
	Timeout int64             `json:"timeout,omitempty" jsonschema:"minimum=0" jsonschema_description:"Timeout in milliseconds"`
	Env     map[string]string `json:"env,omitempty" jsonschema_description:"Environment variables added to the inherited environment"`
}

type SyntaxParams struct {
	Code       string `json:"code,omitempty" jsonschema_description:"Python source to parse; mutually exclusive with script_path"`
	ScriptPath string `json:"script_path,omitempty" jsonschema_description:"Python file to parse; mutually exclusive with code"`
}

type ShellParams struct {
	Command string `json:"command" jsonschema:"minLength=1" jsonschema_description:"PowerShell command line, passed through unmodified"`
	Cwd     string `json:"cwd,omitempty" jsonschema_description:"Working directory; defaults to the home directory"`
	Timeout int64  `json:"timeout,omitempty" jsonschema:"minimum=0" jsonschema_description:"Timeout in milliseconds"`
}

type NoParams struct{}

// millis saturates instead of wrapping so huge values still hit the
// interpreter's maximum timeout.
func millis(ms int64) time.Duration {
	const limit = math.MaxInt64 / int64(time.Millisecond)
	switch {
	case ms > limit:
		return math.MaxInt64
	case ms < -limit:
		return math.MinInt64
	}
	return time.Duration(ms) * time.Millisecond
}

// RegisterBuiltins adds the file and interpreter tools to r.
func RegisterBuiltins(r *Registry, files *fsops.Service, facade *interp.Facade) error {
	var (
		tools []*Tool
		errs  []error
	)
	add := func(t *Tool, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		tools = append(tools, t)
	}

	add(New("list_directory", "List a directory with sizes and timestamps", func(ctx context.Context, p PathParams) (any, error) {
		return files.List(p.Path)
	}))
	add(New("read_file", "Read a file", func(ctx context.Context, p ReadParams) (any, error) {
		return files.Read(p.Path, p.Encoding)
	}))
	add(New("write_file", "Write a file, backing up any existing content first", func(ctx context.Context, p WriteParams) (any, error) {
		return files.Write(p.Path, p.Content, fsops.WriteOptions{Backup: p.CreateBackup, Encoding: p.Encoding})
	}))
	add(New("search_files", "Find files matching a glob pattern", func(ctx context.Context, p SearchParams) (any, error) {
		return files.Search(p.Directory, p.Pattern)
	}))
	add(New("get_file_info", "Report size, type and timestamps of a path", func(ctx context.Context, p PathParams) (any, error) {
		return files.Stat(p.Path)
	}))
	add(New("create_directory", "Create a directory and any missing parents", func(ctx context.Context, p PathParams) (any, error) {
		return files.Mkdir(p.Path)
	}))
	add(New("delete_file", "Delete a file, backing it up first", func(ctx context.Context, p DeleteParams) (any, error) {
		return files.Delete(p.Path, p.CreateBackup == nil || *p.CreateBackup)
	}))
	add(New("run_python_script", "Run a Python script", func(ctx context.Context, p ScriptParams) (any, error) {
		return facade.RunScript(ctx, types.KindPython, scriptRequest(p))
	}))
	add(New("run_powershell_script", "Run a PowerShell script", func(ctx context.Context, p ScriptParams) (any, error) {
		return facade.RunScript(ctx, types.KindPowerShell, scriptRequest(p))
	}))
	add(New("run_inline_code", "Run inline Python after a best-effort screen for dangerous calls", func(ctx context.Context, p InlineParams) (any, error) {
		return facade.RunInlineCode(ctx, interp.InlineRequest{Code: p.Code, Cwd: p.Cwd, Timeout: millis(p.Timeout), Env: p.Env})
	}))
	add(New("check_syntax", "Parse Python code without running it", func(ctx context.Context, p SyntaxParams) (any, error) {
		return facade.CheckSyntax(ctx, interp.SyntaxRequest{Code: p.Code, ScriptPath: p.ScriptPath})
	}))
	add(New("run_shell_command", "Run a PowerShell command without any filtering", func(ctx context.Context, p ShellParams) (any, error) {
		return facade.RunShellCommand(ctx, interp.ShellRequest{Command: p.Command, Cwd: p.Cwd, Timeout: millis(p.Timeout)})
	}))
	add(New("get_runtime_info", "Report server version, host facts, interpreters and access rules", func(ctx context.Context, _ NoParams) (any, error) {
		return facade.RuntimeInfo(ctx)
	}))

	if err := errors.Join(errs...); err != nil {
		return err
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func scriptRequest(p ScriptParams) interp.ScriptRequest {
	return interp.ScriptRequest{
		ScriptPath: p.ScriptPath,
		Args:       p.Args,
		Cwd:        p.Cwd,
		Timeout:    millis(p.Timeout),
		Env:        p.Env,
	}
}
