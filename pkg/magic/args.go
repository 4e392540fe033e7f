package magic

import (
	"fmt"
	"strings"
)

// Cardinality bounds how often a keyword may appear.
type Cardinality int

const (
	Once Cardinality = iota
	Repeatable
)

type paramKind int

const (
	paramRequired paramKind = iota
	paramOptional
	paramVararg
	paramKeyword
	paramFlag
)

type param struct {
	name        string
	kind        paramKind
	cardinality Cardinality
}

// ArgsError reports a token list that does not fit an Args schema.
type ArgsError struct {
	Param  string
	Reason string
}

func (e *ArgsError) Error() string {
	if e.Param == "" {
		return "invalid magic arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid magic argument %q: %s", e.Param, e.Reason)
}

func (e *ArgsError) ErrorName() string { return "UsageError" }

// ParsedArgs maps every declared parameter to its collected values. Names
// that were not supplied map to an empty slice.
type ParsedArgs map[string][]string

// Has reports whether name collected at least one value.
func (p ParsedArgs) Has(name string) bool {
	return len(p[name]) > 0
}

// First returns the first value for name, or "".
func (p ParsedArgs) First(name string) string {
	if values := p[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// Args is a declarative schema for magic arguments. Declaration mistakes
// such as a second vararg panic, since they are programming errors.
type Args struct {
	params        []param
	onlyKnownKW   bool
	onlyKnownFlag bool
}

func NewArgs() *Args {
	return &Args{}
}

// Required declares a positional parameter that must be supplied.
func (a *Args) Required(name string) *Args {
	if a.has(paramOptional) || a.has(paramVararg) {
		panic(fmt.Sprintf("magic args: required %q declared after optional or vararg parameters", name))
	}
	return a.add(param{name: name, kind: paramRequired})
}

// Optional declares a positional parameter that may be omitted.
func (a *Args) Optional(name string) *Args {
	if a.has(paramVararg) {
		panic(fmt.Sprintf("magic args: optional %q declared after vararg", name))
	}
	return a.add(param{name: name, kind: paramOptional})
}

// Vararg collects every remaining positional token.
func (a *Args) Vararg(name string) *Args {
	if a.has(paramVararg) {
		panic(fmt.Sprintf("magic args: second vararg %q", name))
	}
	return a.add(param{name: name, kind: paramVararg})
}

// Keyword declares name, matched as "name", "--name" or "--name=value". Plain
// forms take the tokens up to the next recognized keyword or flag.
func (a *Args) Keyword(name string, cardinality Cardinality) *Args {
	return a.add(param{name: name, kind: paramKeyword, cardinality: cardinality})
}

// Flag declares a presence-only option matched as "-name" or "--name".
func (a *Args) Flag(name string) *Args {
	return a.add(param{name: name, kind: paramFlag})
}

// OnlyKnownKeywords rejects unrecognized "--key=value" tokens.
func (a *Args) OnlyKnownKeywords() *Args {
	a.onlyKnownKW = true
	return a
}

// OnlyKnownFlags rejects unrecognized "-x" and "--x" tokens.
func (a *Args) OnlyKnownFlags() *Args {
	a.onlyKnownFlag = true
	return a
}

func (a *Args) add(p param) *Args {
	for _, existing := range a.params {
		if existing.name == p.name {
			panic(fmt.Sprintf("magic args: parameter %q declared twice", p.name))
		}
	}
	a.params = append(a.params, p)
	return a
}

func (a *Args) has(kind paramKind) bool {
	for _, p := range a.params {
		if p.kind == kind {
			return true
		}
	}
	return false
}

// Parse validates tokens against the schema.
func (a *Args) Parse(tokens []string) (ParsedArgs, error) {
	result := make(ParsedArgs, len(a.params))
	for _, p := range a.params {
		result[p.name] = []string{}
	}

	seen := map[string]bool{}
	var positional []string

	for i := 0; i < len(tokens); {
		token := tokens[i]

		if flag, ok := a.matchFlag(token); ok {
			result[flag.name] = append(result[flag.name], "true")
			i++
			continue
		}

		if kw, value, inline, ok := a.matchKeyword(token); ok {
			if kw.cardinality == Once && seen[kw.name] {
				return nil, &ArgsError{Param: kw.name, Reason: "may only be given once"}
			}
			seen[kw.name] = true
			i++

			if inline {
				result[kw.name] = append(result[kw.name], value)
				continue
			}

			start := i
			for i < len(tokens) && !a.recognized(tokens[i]) {
				i++
			}
			if i == start {
				return nil, &ArgsError{Param: kw.name, Reason: "requires a value"}
			}
			result[kw.name] = append(result[kw.name], tokens[start:i]...)
			continue
		}

		if err := a.checkUnknown(token); err != nil {
			return nil, err
		}
		positional = append(positional, token)
		i++
	}

	for _, p := range a.params {
		switch p.kind {
		case paramRequired:
			if len(positional) == 0 {
				return nil, &ArgsError{Param: p.name, Reason: "missing required argument"}
			}
			result[p.name] = []string{positional[0]}
			positional = positional[1:]
		case paramOptional:
			if len(positional) > 0 {
				result[p.name] = []string{positional[0]}
				positional = positional[1:]
			}
		case paramVararg:
			result[p.name] = append(result[p.name], positional...)
			positional = nil
		}
	}

	if len(positional) > 0 {
		return nil, &ArgsError{Reason: fmt.Sprintf("unexpected argument %q", positional[0])}
	}
	return result, nil
}

func (a *Args) recognized(token string) bool {
	if _, ok := a.matchFlag(token); ok {
		return true
	}
	_, _, _, ok := a.matchKeyword(token)
	return ok
}

func (a *Args) matchFlag(token string) (param, bool) {
	if !strings.HasPrefix(token, "-") {
		return param{}, false
	}
	name := strings.TrimPrefix(strings.TrimPrefix(token, "-"), "-")
	for _, p := range a.params {
		if p.kind == paramFlag && p.name == name {
			return p, true
		}
	}
	return param{}, false
}

func (a *Args) matchKeyword(token string) (param, string, bool, bool) {
	for _, p := range a.params {
		if p.kind != paramKeyword {
			continue
		}
		switch {
		case token == p.name || token == "--"+p.name:
			return p, "", false, true
		case strings.HasPrefix(token, "--"+p.name+"="):
			return p, strings.TrimPrefix(token, "--"+p.name+"="), true, true
		}
	}
	return param{}, "", false, false
}

func (a *Args) checkUnknown(token string) error {
	if len(token) < 2 || token[0] != '-' || isNumeric(token[1:]) {
		return nil
	}
	if strings.HasPrefix(token, "--") && strings.Contains(token, "=") {
		if a.onlyKnownKW {
			name, _, _ := strings.Cut(strings.TrimPrefix(token, "--"), "=")
			return &ArgsError{Param: name, Reason: "unknown keyword"}
		}
		return nil
	}
	if a.onlyKnownFlag {
		return &ArgsError{Param: strings.TrimLeft(token, "-"), Reason: "unknown flag"}
	}
	return nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
