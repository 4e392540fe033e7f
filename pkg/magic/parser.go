// Package magic extracts and evaluates magic commands embedded in cell source.
package magic

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Mode selects where a line magic may appear.
type Mode string

const (
	// ModeInline matches a line magic anywhere in a line.
	ModeInline Mode = "inline"
	// ModeStartOfLine matches only after optional leading whitespace.
	ModeStartOfLine Mode = "start_of_line"
)

const namePattern = `(\w[\w.\-]*)`

// ParsedLineMagic is one line magic occurrence.
type ParsedLineMagic struct {
	Name string
	Args []string
	// Raw is the matched magic text, prefix marker included.
	Raw string
	// LinePrefix is the text preceding the magic on its line.
	LinePrefix string
}

// ParsedCellMagic is a cell magic on the first line of a cell.
type ParsedCellMagic struct {
	Name        string
	Args        []string
	RawArgsLine string
	Body        string
}

// Parser finds magics using configurable line and cell prefixes.
type Parser struct {
	linePrefix string
	cellPrefix string
	mode       Mode
	lineRe     *regexp.Regexp
	cellRe     *regexp.Regexp
}

// NewParser compiles matchers for the given prefixes. An empty cell prefix
// disables cell magics.
func NewParser(linePrefix string, cellPrefix string, mode Mode) (*Parser, error) {
	if linePrefix == "" {
		return nil, fmt.Errorf("line magic prefix must not be empty")
	}

	var lineRe *regexp.Regexp
	switch mode {
	case ModeInline, "":
		mode = ModeInline
		lineRe = regexp.MustCompile(`(?m)^([^\r\n]*?)` + regexp.QuoteMeta(linePrefix) + namePattern + `([^\r\n]*)`)
	case ModeStartOfLine:
		lineRe = regexp.MustCompile(`(?m)^([ \t]*)` + regexp.QuoteMeta(linePrefix) + namePattern + `([^\r\n]*)`)
	default:
		return nil, fmt.Errorf("unknown magic mode %q", mode)
	}

	p := &Parser{linePrefix: linePrefix, cellPrefix: cellPrefix, mode: mode, lineRe: lineRe}
	if cellPrefix != "" {
		p.cellRe = regexp.MustCompile(`\A` + regexp.QuoteMeta(cellPrefix) + namePattern + `([^\r\n]*)(?:\r?\n|\z)`)
	}
	return p, nil
}

// Mode returns the line magic matching mode.
func (p *Parser) Mode() Mode {
	return p.mode
}

// ParseCell reports the cell magic on the first line of source, if any.
func (p *Parser) ParseCell(source string) (ParsedCellMagic, bool) {
	if p.cellRe == nil {
		return ParsedCellMagic{}, false
	}

	m := p.cellRe.FindStringSubmatchIndex(source)
	if m == nil {
		return ParsedCellMagic{}, false
	}

	rawArgs := source[m[4]:m[5]]
	return ParsedCellMagic{
		Name:        source[m[2]:m[3]],
		Args:        Split(rawArgs),
		RawArgsLine: strings.TrimSpace(rawArgs),
		Body:        source[m[1]:],
	}, true
}

// ParseLines returns every line magic in source in order of appearance.
func (p *Parser) ParseLines(source string) []ParsedLineMagic {
	var out []ParsedLineMagic
	for _, m := range p.lineRe.FindAllStringSubmatchIndex(source, -1) {
		out = append(out, lineFromMatch(source, m))
	}
	return out
}

// Transform rewrites source with t. A cell magic replaces the whole cell and
// suppresses line magic processing; otherwise each line magic is replaced in
// place and the surrounding text is kept.
func (p *Parser) Transform(ctx context.Context, source string, t Transpiler) (string, error) {
	if cell, ok := p.ParseCell(source); ok {
		return t.TranspileCell(ctx, cell)
	}

	matches := p.lineRe.FindAllStringSubmatchIndex(source, -1)
	if len(matches) == 0 {
		return source, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		replacement, err := t.TranspileLine(ctx, lineFromMatch(source, m))
		if err != nil {
			return "", err
		}
		b.WriteString(source[last:m[3]])
		b.WriteString(replacement)
		last = m[1]
	}
	b.WriteString(source[last:])
	return b.String(), nil
}

func lineFromMatch(source string, m []int) ParsedLineMagic {
	return ParsedLineMagic{
		Name:       source[m[4]:m[5]],
		Args:       Split(source[m[6]:m[7]]),
		Raw:        source[m[3]:m[1]],
		LinePrefix: source[m[2]:m[3]],
	}
}
