package label

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/probelab/astprobe/align"
)

// ErrMalformedFilter is returned for an unparseable filter specification.
// It is matched with errors.Is and fails the run before any inference call.
var ErrMalformedFilter = errors.New("malformed filter specification")

// Binary label values produced by a Filter.
const (
	Positive = "positive"
	Negative = "negative"
)

// Unclassified is the multiclass fallback when no named filter matches.
const Unclassified = "N/A"

// Filter classifies a leaf token's surface text, either by membership in a
// finite set of accepted strings or by an anchored regular expression.
type Filter struct {
	Name string
	set  map[string]struct{}
	re   *regexp.Regexp
}

// ParseFilter parses a filter specification of the form "set:<comma-list>"
// or "re:<pattern>". The regex is anchored at the start of the token, same
// as the original annotator's matching.
func ParseFilter(spec string) (*Filter, error) {
	switch {
	case strings.HasPrefix(spec, "set:"):
		list := spec[len("set:"):]
		if list == "" {
			return nil, errors.Wrapf(ErrMalformedFilter, "empty set in %q", spec)
		}
		set := make(map[string]struct{})
		for _, word := range strings.Split(list, ",") {
			set[word] = struct{}{}
		}
		return &Filter{Name: spec, set: set}, nil
	case strings.HasPrefix(spec, "re:"):
		pattern := spec[len("re:"):]
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedFilter, "bad pattern %q: %v", pattern, err)
		}
		return &Filter{Name: spec, re: re}, nil
	default:
		return nil, errors.Wrapf(ErrMalformedFilter, "%q must start with \"set:\" or \"re:\"", spec)
	}
}

// Match reports whether the surface text passes the filter.
func (f *Filter) Match(text string) bool {
	if f.set != nil {
		_, ok := f.set[text]
		return ok
	}
	return f.re.MatchString(text)
}

// Label returns the binary label for the surface text.
func (f *Filter) Label(text string) string {
	if f.Match(text) {
		return Positive
	}
	return Negative
}

// Classifier is an ordered list of named filters; the first match wins.
type Classifier struct {
	filters []*Filter
}

// NewClassifier builds a multiclass classifier from named filters.
func NewClassifier(filters ...*Filter) *Classifier {
	return &Classifier{filters: filters}
}

// Class returns the name of the first matching filter, or Unclassified.
func (c *Classifier) Class(text string) string {
	for _, f := range c.filters {
		if f.Match(text) {
			return f.Name
		}
	}
	return Unclassified
}

// namedRegex builds a regex filter whose Name is the class it assigns.
// The patterns are fixed at init time, so compilation cannot fail.
func namedRegex(name, pattern string) *Filter {
	return &Filter{Name: name, re: regexp.MustCompile("^(?:" + pattern + ")$")}
}

// IdentifierCases classifies identifier naming conventions. Order matters:
// earlier classes win, matching the original pattern extractor.
var IdentifierCases = NewClassifier(
	namedRegex("single_letter", `[a-zA-Z]`),
	namedRegex("camel_case", `[a-z][a-z]*(?:[A-Z][a-z0-9]+)*[a-zA-Z]?`),
	namedRegex("pascal_case", `([A-Z][a-z]+)*[A-Z][a-z]*`),
	namedRegex("snake_case", `[a-z]+(_[a-z]+)*`),
	namedRegex("screaming_snake_case", `[A-Z]+(_[A-Z]+)*`),
	namedRegex("prefix", `(get|set)[A-Za-z]+`),
	namedRegex("numeric", `[a-zA-Z].+[0-9]+`),
)

// tokenClasses maps lowercase surface forms (and a few parser type names) to
// coarse token classes.
var tokenClasses = map[string]string{
	"::": "DOUBLECOLON", "--": "DOUBLEMINUS", "++": "DOUBLEPLUS",
	"false": "BOOL", "true": "BOOL",
	"modifier": "MODIFIER", "public": "MODIFIER", "basictype": "TYPE",
	"null": "IDENT", "keyword": "KEYWORD", "identifier": "IDENT",
	"decimalinteger": "NUMBER", "decimalfloatingpoint": "NUMBER",
	"string": "STRING", "string_fragment": "STRING",
	"(": "LPAR", ")": "RPAR", "[": "LSQB", "]": "RSQB", ",": "COMMA",
	"?": "CONDITIONOP", ";": "SEMI", "+": "PLUS", "-": "MINUS", "*": "STAR",
	"/": "SLASH", ".": "DOT", "=": "EQUAL", ":": "COLON", "|": "VBAR",
	"&": "AMPER", "<": "LESS", ">": "GREATER", "%": "PERCENT",
	"{": "LBRACE", "}": "RBRACE",
	"==": "EQEQUAL", "!=": "NOTEQUAL", "<=": "LESSEQUAL", ">=": "GREATEREQUAL",
	"~": "TILDE", "^": "CIRCUMFLEX", "\"": "DQUOTES",
	"<<": "LEFTSHIFT", ">>": "RIGHTSHIFT", "**": "DOUBLESTAR",
	"+=": "PLUSEQUAL", "-=": "MINEQUAL", "*=": "STAREQUAL",
	"/=": "SLASHEQUAL", "%=": "PERCENTEQUAL", "&=": "AMPEREQUAL",
	"|=": "VBAREQUAL", "^=": "CIRCUMFLEXEQUAL",
	"<<=": "LEFTSHIFTEQUAL", ">>=": "RIGHTSHIFTEQUAL", "**=": "DOUBLESTAREQUAL",
	"//": "DOUBLESLASH", "//=": "DOUBLESLASHEQUAL",
	"@": "AT", "@=": "ATEQUAL", "->": "RARROW", "...": "ELLIPSIS",
	":=": "COLONEQUAL", "&&": "AND", "!": "NOT", "||": "OR",
}

// TokenClass maps a surface form or parser type name to its coarse token
// class, defaulting to the uppercased input for unknown forms.
func TokenClass(surface string) string {
	if class, ok := tokenClasses[strings.ToLower(surface)]; ok {
		return class
	}
	return strings.ToUpper(surface)
}

// TokenClassOf resolves the coarse token class for a leaf token: the surface
// form wins, the parser's node type is the fallback (the dictionary keys
// both, e.g. "identifier" and "("), and unknown tokens default to the
// uppercased surface.
func TokenClassOf(text, nodeType string) string {
	if class, ok := tokenClasses[strings.ToLower(text)]; ok {
		return class
	}
	if class, ok := tokenClasses[strings.ToLower(nodeType)]; ok {
		return class
	}
	return strings.ToUpper(text)
}

// Broadcast propagates per-leaf labels to the subword tokens each leaf maps
// to. Unaligned subword tokens receive the unaligned fallback label.
func Broadcast(m *align.Map, leafLabels []string, unaligned string) []string {
	out := make([]string, m.Len())
	for si := range out {
		leaves := m.Leaves(si)
		if leaves == nil {
			out[si] = unaligned
			continue
		}
		out[si] = leafLabels[leaves[0]]
	}
	return out
}
