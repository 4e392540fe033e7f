// Package builtin provides the magics every kernel ships with: %lsmagic,
// %env, %load and %%writefile.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gokernel/pkg/eval"
	"gokernel/pkg/extension"
	"gokernel/pkg/magic"
	"gokernel/pkg/workspace"
)

// Name is the extension name the built-in magics register under.
const Name = "builtin"

var (
	envArgs       = magic.NewArgs().Optional("name").Optional("value")
	loadArgs      = magic.NewArgs().Required("path")
	writefileArgs = magic.NewArgs().Flag("a").Required("path").OnlyKnownFlags()
)

// Register adds the built-in magics to r.
func Register(r *extension.Registry) error {
	return r.Register(Name, func() extension.Extension { return &Extension{} })
}

// Extension installs the built-in magics into a host.
type Extension struct {
	files      *workspace.Files
	linePrefix string
	cellPrefix string
}

func (e *Extension) Load(_ context.Context, host extension.Host) error {
	e.files = host.Files()
	e.linePrefix, e.cellPrefix = host.MagicPrefixes()

	host.Magics().
		Line("lsmagic", e.lsmagic).
		Line("env", e.env).
		Line("load", e.load).
		Cell("writefile", e.writefile)
	return nil
}

func (e *Extension) lsmagic(ctx context.Context, _ []string) (any, error) {
	registry, ok := magic.RegistryFromContext(ctx)
	if !ok {
		return nil, errors.New("lsmagic: no magic registry in context")
	}

	var b strings.Builder
	b.WriteString("Available line magics:\n")
	b.WriteString(prefixed(e.linePrefix, registry.LineNames()))
	if e.cellPrefix != "" {
		b.WriteString("\n\nAvailable cell magics:\n")
		b.WriteString(prefixed(e.cellPrefix, registry.CellNames()))
	}
	b.WriteString("\n")

	_, err := fmt.Fprint(eval.Stdout(ctx), b.String())
	return nil, err
}

func prefixed(prefix string, names []string) string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = prefix + name
	}
	return strings.Join(out, "  ")
}

// env lists the environment, prints one variable, or sets one with either
// "NAME VALUE" or "NAME=VALUE".
func (e *Extension) env(ctx context.Context, args []string) (any, error) {
	parsed, err := envArgs.Parse(args)
	if err != nil {
		return nil, err
	}

	name := parsed.First("name")
	value := parsed.First("value")
	if key, inline, ok := strings.Cut(name, "="); ok && !parsed.Has("value") {
		name, value = key, inline
		parsed["value"] = []string{inline}
	}

	out := eval.Stdout(ctx)
	switch {
	case name == "":
		env := os.Environ()
		sort.Strings(env)
		for _, kv := range env {
			if _, err := fmt.Fprintln(out, kv); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case !parsed.Has("value"):
		current, ok := os.LookupEnv(name)
		if !ok {
			return nil, &magic.ArgsError{Param: name, Reason: "environment variable not set"}
		}
		_, err := fmt.Fprintln(out, current)
		return nil, err
	default:
		if err := os.Setenv(name, value); err != nil {
			return nil, fmt.Errorf("env: %w", err)
		}
		_, err := fmt.Fprintf(out, "env: %s=%s\n", name, value)
		return nil, err
	}
}

// load splices the file's content into the cell as code.
func (e *Extension) load(ctx context.Context, args []string) (any, error) {
	parsed, err := loadArgs.Parse(args)
	if err != nil {
		return nil, err
	}
	if e.files == nil {
		return nil, errors.New("load: no workspace configured")
	}

	content, err := e.files.Read(ctx, parsed.First("path"))
	if err != nil {
		return nil, err
	}
	return magic.Code(strings.TrimRight(content, "\n")), nil
}

// writefile writes the cell body to a file, appending with -a.
func (e *Extension) writefile(ctx context.Context, args []string, body string) (any, error) {
	parsed, err := writefileArgs.Parse(args)
	if err != nil {
		return nil, err
	}
	if e.files == nil {
		return nil, errors.New("writefile: no workspace configured")
	}

	path := parsed.First("path")
	verb := "Writing"
	if parsed.Has("a") {
		verb = "Appending to"
		_, err = e.files.Append(ctx, path, body)
	} else {
		if resolved, resolveErr := e.files.Guard().Resolve(path); resolveErr == nil && fileExists(resolved) {
			verb = "Overwriting"
		}
		_, err = e.files.Write(ctx, path, body)
	}
	if err != nil {
		return nil, err
	}

	_, err = fmt.Fprintf(eval.Stdout(ctx), "%s %s\n", verb, path)
	return nil, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
