package safety

import "testing"

func TestDefaultFilterBlocksKnownConstructs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		source string
		rule   string
	}{
		{"import os\nos.system('ls')", "os.system"},
		{"import subprocess\nsubprocess.run(['ls'])", "subprocess"},
		{"from subprocess import Popen", "subprocess"},
		{"os.popen('dir').read()", "os.popen"},
		{"os.execvp('sh', ['sh'])", "os.popen"},
		{"import pty\npty.spawn('/bin/sh')", "pty.spawn"},
		{"import shutil\nshutil.rmtree('/data')", "shutil.rmtree"},
		{"os.remove('a.txt')", "os.remove"},
		{"os.unlink('a.txt')", "os.remove"},
		{"from pathlib import Path\nPath('a').unlink()", "path.unlink"},
		{"eval('1+1')", "eval"},
		{"exec(code)", "exec"},
		{"compile(src, 'x', 'exec')", "compile"},
		{"mod = __import__('os')", "__import__"},
		{"import importlib", "importlib"},
		{"with open('out.txt', 'w') as fh:\n    fh.write('x')", "open.write"},
		{"open(path, mode='ab')", "open.write"},
		{"open(path, \"r+\")", "open.write"},
	}

	f := Default()
	for _, tc := range cases {
		v := f.Check(tc.source)
		if v.Safe {
			t.Errorf("expected %q to be blocked", tc.source)
			continue
		}
		if v.Rule != tc.rule {
			t.Errorf("Check(%q) rule = %q, want %q", tc.source, v.Rule, tc.rule)
		}
		if v.Reason == "" {
			t.Errorf("Check(%q) missing reason", tc.source)
		}
	}
}

func TestDefaultFilterAllowsOrdinaryCode(t *testing.T) {
	t.Parallel()

	sources := []string{
		"print('hello')",
		"import re\npattern = re.compile(r'\\d+')",
		"import ast\nast.literal_eval('[1, 2]')",
		"with open('in.txt') as fh:\n    data = fh.read()",
		"with open('in.txt', 'rb') as fh:\n    data = fh.read()",
		"import json, math\nprint(json.dumps({'pi': math.pi}))",
		"evaluation = 3\nexecutor = None",
	}

	f := Default()
	for _, src := range sources {
		if v := f.Check(src); !v.Safe {
			t.Errorf("expected %q to pass, blocked by %s", src, v.Rule)
		}
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	t.Parallel()

	src := "eval('x')\nimport shutil\nshutil.rmtree('/')"
	if v := Default().Check(src); v.Rule != "shutil.rmtree" {
		t.Fatalf("expected earlier rule shutil.rmtree to win, got %q", v.Rule)
	}

	custom := NewPatternFilter([]Rule{DefaultRules[7], DefaultRules[4]})
	if v := custom.Check(src); v.Rule != "eval" {
		t.Fatalf("expected custom ordering to report eval, got %q", v.Rule)
	}
}

// The filter is a lexical heuristic. These sources do dangerous things and
// still pass; nothing may treat a Safe verdict as a security guarantee.
func TestFilterIsBypassable(t *testing.T) {
	t.Parallel()

	bypasses := []string{
		"import builtins\ngetattr(builtins, 'ev' + 'al')('1+1')",
		"import os as o\ngetattr(o, 'sys' + 'tem')('echo bypass')",
		"import shutil as s\nrm = getattr(s, 'rm' + 'tree')\nrm('/tmp/x')",
	}
	f := Default()
	for _, src := range bypasses {
		if v := f.Check(src); !v.Safe {
			t.Errorf("bypass %q unexpectedly blocked by %s; update this documentation test", src, v.Rule)
		}
	}
}

func TestRulesListsEvaluationOrder(t *testing.T) {
	t.Parallel()

	names := Default().Rules()
	if len(names) != len(DefaultRules) || names[0] != "os.system" {
		t.Fatalf("unexpected rule order: %v", names)
	}
}
