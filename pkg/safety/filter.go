// Package safety screens inline Python source for constructs that commonly
// cause unintended damage.
//
// The filter is a lexical heuristic and NOT a security boundary. Trivial
// obfuscation (string concatenation, getattr lookups, aliasing a module)
// walks straight past it. It exists to stop a cooperative caller from
// hurting itself by accident and must never be relied upon for untrusted
// input. The unrestricted shell surface has no filter at all.
package safety

import "regexp"

// Checker screens source text before it is staged for execution.
type Checker interface {
	Check(source string) Verdict
}

// Verdict is the outcome of a Check. When Safe is false, Rule and Reason
// name the first rule that matched.
type Verdict struct {
	Safe   bool   `json:"safe"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Rule is one blocked construct.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Reason  string
}

// DefaultRules is the ordered rule list for Python source. Order matters:
// the first matching rule is the one reported.
var DefaultRules = []Rule{
	{"os.system", regexp.MustCompile(`\bos\s*\.\s*system\s*\(`), "shell escape via os.system"},
	{"subprocess", regexp.MustCompile(`\bsubprocess\b`), "shell escape via the subprocess module"},
	{"os.popen", regexp.MustCompile(`\bos\s*\.\s*(popen|exec[lv]p?e?|spawn[lv]p?e?|posix_spawnp?|fork)\s*\(`), "process creation via the os module"},
	{"pty.spawn", regexp.MustCompile(`\bpty\s*\.\s*spawn\s*\(`), "process creation via pty.spawn"},
	{"shutil.rmtree", regexp.MustCompile(`\bshutil\s*\.\s*rmtree\s*\(`), "recursive delete via shutil.rmtree"},
	{"os.remove", regexp.MustCompile(`\bos\s*\.\s*(remove|unlink|rmdir|removedirs)\s*\(`), "file removal via the os module"},
	{"path.unlink", regexp.MustCompile(`\.\s*(unlink|rmdir)\s*\(`), "file removal via pathlib"},
	{"eval", regexp.MustCompile(`\beval\s*\(`), "dynamic evaluation via eval"},
	{"exec", regexp.MustCompile(`\bexec\s*\(`), "dynamic evaluation via exec"},
	{"compile", regexp.MustCompile(`(?:^|[^.\w])compile\s*\(`), "dynamic code compilation"},
	{"__import__", regexp.MustCompile(`\b__import__\s*\(`), "dynamic import via __import__"},
	{"importlib", regexp.MustCompile(`\bimportlib\b`), "dynamic import via importlib"},
	{"open.write", regexp.MustCompile(`\bopen\s*\([^)]*,\s*(?:mode\s*=\s*)?['"](?:[wWaAxX]|[rR][bBtT]?\+)[^'"]*['"]`), "file opened for writing"},
}

// PatternFilter applies an ordered list of rules; first match wins.
type PatternFilter struct {
	rules []Rule
}

func NewPatternFilter(rules []Rule) *PatternFilter {
	return &PatternFilter{rules: append([]Rule(nil), rules...)}
}

// Default returns a filter over DefaultRules.
func Default() *PatternFilter {
	return NewPatternFilter(DefaultRules)
}

func (f *PatternFilter) Check(source string) Verdict {
	for _, rule := range f.rules {
		if rule.Pattern.MatchString(source) {
			return Verdict{Safe: false, Rule: rule.Name, Reason: rule.Reason}
		}
	}
	return Verdict{Safe: true}
}

// Rules returns the rule names in evaluation order.
func (f *PatternFilter) Rules() []string {
	names := make([]string, 0, len(f.rules))
	for _, r := range f.rules {
		names = append(names, r.Name)
	}
	return names
}
