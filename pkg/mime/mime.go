// Package mime parses media types and negotiates them against the types a
// frontend declares it can render.
package mime

import "strings"

// Common representations produced by the kernel.
const (
	TextPlain       = "text/plain"
	TextHTML        = "text/html"
	TextMarkdown    = "text/markdown"
	TextLatex       = "text/latex"
	ApplicationJSON = "application/json"
	ImagePNG        = "image/png"
	ImageJPEG       = "image/jpeg"
	ImageSVG        = "image/svg+xml"
)

// MIMEType is a structured media type: type/[tree.]subtype[+suffix].
type MIMEType struct {
	Type    string
	Tree    string
	Subtype string
	Suffix  string
}

// Parse splits raw on the first '/', then the remainder on the last '+'. A
// subtype with a '.' carries its registration tree before the first dot.
// Parameters after ';' are dropped.
func Parse(raw string) MIMEType {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}

	typ, rest, ok := strings.Cut(raw, "/")
	if !ok {
		return MIMEType{Type: raw}
	}

	out := MIMEType{Type: typ, Subtype: rest}
	if i := strings.LastIndexByte(rest, '+'); i >= 0 {
		out.Subtype = rest[:i]
		out.Suffix = rest[i+1:]
	}
	if tree, subtype, ok := strings.Cut(out.Subtype, "."); ok {
		out.Tree = tree
		out.Subtype = subtype
	}
	return out
}

func (m MIMEType) String() string {
	if m.Tree == "" && m.Subtype == "" && m.Suffix == "" {
		return m.Type
	}

	var b strings.Builder
	b.WriteString(m.Type)
	b.WriteByte('/')
	if m.Tree != "" {
		b.WriteString(m.Tree)
		b.WriteByte('.')
	}
	b.WriteString(m.Subtype)
	if m.Suffix != "" {
		b.WriteByte('+')
		b.WriteString(m.Suffix)
	}
	return b.String()
}

// IsZero reports whether m is the empty type.
func (m MIMEType) IsZero() bool {
	return m == MIMEType{}
}

// IsWildcard reports "*" and "*/*".
func (m MIMEType) IsWildcard() bool {
	return m.Type == "*" && (m.Subtype == "" || m.Subtype == "*") && m.Tree == "" && m.Suffix == ""
}

// IsGroup reports a bare name without a '/', such as "xml".
func (m MIMEType) IsGroup() bool {
	return m.Type != "" && m.Type != "*" && m.Tree == "" && m.Subtype == "" && m.Suffix == ""
}

// WithoutSuffix drops the structured syntax suffix.
func (m MIMEType) WithoutSuffix() MIMEType {
	m.Suffix = ""
	return m
}
