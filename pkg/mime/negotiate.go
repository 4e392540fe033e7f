package mime

import "strings"

// GroupResolver maps a bare group name such as "xml" to its canonical type.
type GroupResolver func(group string) (MIMEType, bool)

var defaultGroups = map[string]string{
	"xml":      "application/xml",
	"json":     ApplicationJSON,
	"html":     TextHTML,
	"text":     TextPlain,
	"markdown": TextMarkdown,
	"latex":    TextLatex,
	"svg":      ImageSVG,
	"png":      ImagePNG,
	"jpeg":     ImageJPEG,
}

// DefaultGroups resolves the common structured-syntax group names.
func DefaultGroups(group string) (MIMEType, bool) {
	raw, ok := defaultGroups[strings.ToLower(strings.TrimSpace(group))]
	if !ok {
		return MIMEType{}, false
	}
	return Parse(raw), true
}

// RequestTypes is the ordered list of types a frontend declared it accepts.
type RequestTypes struct {
	declared []MIMEType
	resolve  GroupResolver
}

// NewRequestTypes parses declared in order. Bare group names are resolved
// through resolve, falling back to DefaultGroups when resolve is nil.
func NewRequestTypes(declared []string, resolve GroupResolver) RequestTypes {
	if resolve == nil {
		resolve = DefaultGroups
	}

	out := RequestTypes{resolve: resolve, declared: make([]MIMEType, 0, len(declared))}
	for _, raw := range declared {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		parsed := Parse(raw)
		if parsed.IsGroup() {
			if canonical, ok := resolve(parsed.Type); ok {
				parsed = canonical
			}
		}
		out.declared = append(out.declared, parsed)
	}
	return out
}

// Declared returns the parsed declaration list.
func (r RequestTypes) Declared() []MIMEType {
	return append([]MIMEType(nil), r.declared...)
}

// Empty reports whether nothing was declared.
func (r RequestTypes) Empty() bool {
	return len(r.declared) == 0
}

type matchRule func(declared MIMEType, candidate MIMEType, resolve GroupResolver) (MIMEType, bool)

// Rules in precedence order. A higher rule matching any declared entry wins
// over a lower rule matching an earlier entry.
var matchRules = []matchRule{
	matchExact,
	matchTypeWildcard,
	matchSuffixAsSubtype,
	matchSuffixGroup,
	matchFullWildcard,
}

// ResolveSupportedType returns the representation the frontend should
// receive for candidate, or false when no declared entry accepts it.
func (r RequestTypes) ResolveSupportedType(candidate MIMEType) (MIMEType, bool) {
	for _, rule := range matchRules {
		for _, declared := range r.declared {
			if resolved, ok := rule(declared, candidate, r.resolve); ok {
				return resolved, true
			}
		}
	}
	return MIMEType{}, false
}

func matchExact(declared MIMEType, candidate MIMEType, _ GroupResolver) (MIMEType, bool) {
	return declared, declared == candidate
}

func matchTypeWildcard(declared MIMEType, candidate MIMEType, _ GroupResolver) (MIMEType, bool) {
	if declared.Type == candidate.Type && declared.Subtype == "*" && declared.Tree == "" && declared.Suffix == "" {
		return candidate, true
	}
	return MIMEType{}, false
}

// matchSuffixAsSubtype accepts image/svg+xml for a declared image/svg, and
// for a declared image/xml.
func matchSuffixAsSubtype(declared MIMEType, candidate MIMEType, _ GroupResolver) (MIMEType, bool) {
	if candidate.Suffix == "" || declared.Suffix != "" || declared.Type != candidate.Type {
		return MIMEType{}, false
	}
	if declared == candidate.WithoutSuffix() {
		return declared, true
	}
	if declared.Tree == "" && declared.Subtype == candidate.Suffix {
		return declared, true
	}
	return MIMEType{}, false
}

func matchSuffixGroup(declared MIMEType, candidate MIMEType, resolve GroupResolver) (MIMEType, bool) {
	if candidate.Suffix == "" || resolve == nil {
		return MIMEType{}, false
	}
	canonical, ok := resolve(candidate.Suffix)
	if !ok || canonical != declared {
		return MIMEType{}, false
	}
	return canonical, true
}

func matchFullWildcard(declared MIMEType, candidate MIMEType, _ GroupResolver) (MIMEType, bool) {
	if declared.IsWildcard() {
		return candidate, true
	}
	return MIMEType{}, false
}
