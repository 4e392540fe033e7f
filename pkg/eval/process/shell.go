package process

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"gokernel/pkg/eval"
)

// ShellQuote quotes s as one POSIX shell word.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:=@%+,", r)
}

// IsComplete reports whether a shell cell looks finished: no open quote, no
// trailing continuation and no dangling pipeline operator.
func (e *Evaluator) IsComplete(_ context.Context, code string) (eval.Completeness, error) {
	trimmed := strings.TrimRight(code, " \t\r\n")
	if trimmed == "" {
		return eval.Completeness{Status: eval.Complete}, nil
	}
	if openQuote(trimmed) {
		return eval.Completeness{Status: eval.Incomplete}, nil
	}
	for _, suffix := range []string{"\\", "|", "&&", "||"} {
		if strings.HasSuffix(trimmed, suffix) {
			return eval.Completeness{Status: eval.Incomplete, Indent: "  "}, nil
		}
	}
	return eval.Completeness{Status: eval.Complete}, nil
}

func openQuote(code string) bool {
	var quote rune
	escaped := false
	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		}
	}
	return quote != 0
}

// Complete offers file names relative to the evaluator's directory for the
// word under the cursor.
func (e *Evaluator) Complete(_ context.Context, code string, cursor int) (eval.Completion, error) {
	if cursor < 0 || cursor > len(code) {
		cursor = len(code)
	}
	start := strings.LastIndexAny(code[:cursor], " \t\r\n;|&<>") + 1
	word := code[start:cursor]

	dir := e.opts.Dir
	if dir == "" {
		dir = "."
	}

	matches, err := filepath.Glob(filepath.Join(dir, word) + "*")
	if err != nil {
		return eval.Completion{}, err
	}

	out := make([]string, 0, len(matches))
	for _, match := range matches {
		rel, err := filepath.Rel(dir, match)
		if err != nil {
			continue
		}
		if strings.HasPrefix(word, "./") {
			rel = "./" + rel
		}
		if info, err := os.Stat(match); err == nil && info.IsDir() {
			rel += string(filepath.Separator)
		}
		out = append(out, rel)
	}

	return eval.Completion{
		Matches:     out,
		CursorStart: start,
		CursorEnd:   cursor,
		Metadata:    map[string]any{},
	}, nil
}
