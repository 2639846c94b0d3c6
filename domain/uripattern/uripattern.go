// Package uripattern turns an operation name into a path pattern, compiles
// that pattern to a regex, and extracts a deterministic dispatch criteria
// string from a concrete request path or query string. Criteria strings
// are storage keys, so ordering is fixed: parameter segments always appear
// in ascending lexicographic order by name.
package uripattern

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var knownVerbs = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "OPTIONS": true, "HEAD": true,
}

var placeholderName = regexp.MustCompile(`\{([A-Za-z0-9_-]+)\}`)
var colonName = regexp.MustCompile(`/:([A-Za-z0-9_-]+)`)

// UriPatternFromOperationName returns the substring of name following the
// first space, if name begins with a known HTTP verb; otherwise name itself.
func UriPatternFromOperationName(name string) string {
	sp := strings.IndexByte(name, ' ')
	if sp <= 0 {
		return name
	}
	verb := name[:sp]
	if !knownVerbs[strings.ToUpper(verb)] {
		return name
	}
	return name[sp+1:]
}

// CompiledPattern is a pattern converted to an anchored regex plus the
// ordered list of placeholder names it captures.
type CompiledPattern struct {
	Regex      *regexp.Regexp
	ParamNames []string
}

// PatternToRegex replaces every "{word}" and "/:word" placeholder with a
// "([^/]+)" capturing group and fully anchors the result.
func PatternToRegex(pattern string) (*CompiledPattern, error) {
	var names []string

	replaced := placeholderName.ReplaceAllStringFunc(pattern, func(m string) string {
		sub := placeholderName.FindStringSubmatch(m)
		names = append(names, sub[1])
		return "([^/]+)"
	})

	replaced = colonName.ReplaceAllStringFunc(replaced, func(m string) string {
		sub := colonName.FindStringSubmatch(m)
		names = append(names, sub[1])
		return "/([^/]+)"
	})

	re, err := regexp.Compile("^" + replaced + "$")
	if err != nil {
		return nil, err
	}

	return &CompiledPattern{Regex: re, ParamNames: names}, nil
}

// Match reports whether concretePath matches the pattern and, if so, the
// captured placeholder values keyed by name.
func (c *CompiledPattern) Match(concretePath string) (map[string]string, bool) {
	m := c.Regex.FindStringSubmatch(concretePath)
	if m == nil {
		return nil, false
	}
	values := make(map[string]string, len(c.ParamNames))
	for i, name := range c.ParamNames {
		values[name] = m[i+1]
	}
	return values, true
}

// ParseRules splits a space- or comma-separated dispatcher rules whitelist
// into individual parameter names.
func ParseRules(rules string) []string {
	fields := strings.FieldsFunc(rules, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ExtractFromURIPattern parses placeholder names out of pattern, matches
// them against concretePath, and builds the criteria string as the
// concatenation (sorted ascending by name) of "?<name>=<value>" for each
// placeholder listed in rules. Returns "" (and false) if pattern does not
// match concretePath at all.
func ExtractFromURIPattern(rules, pattern, concretePath string) (string, bool) {
	compiled, err := PatternToRegex(pattern)
	if err != nil {
		return "", false
	}
	values, ok := compiled.Match(concretePath)
	if !ok {
		return "", false
	}
	return buildCriteria(ParseRules(rules), values), true
}

// ExtractFromURIParams parses the query string of fullURI, keeps only
// parameters named in rules, and builds "?<k>=<v>" concatenation sorted
// ascending by name. Query values are left URL-encoded; only path values
// reach the extractor decoded.
func ExtractFromURIParams(rules, fullURI string) string {
	query := fullURI
	if idx := strings.IndexByte(fullURI, '?'); idx >= 0 {
		query = fullURI[idx+1:]
	}

	values := make(map[string]string)
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := kv[0]
		val := ""
		if len(kv) == 2 {
			val = kv[1]
		}
		values[key] = val
	}

	return buildCriteria(ParseRules(rules), values)
}

// buildCriteria concatenates "?<name>=<value>" for each name in rules
// (ascending lexicographic order); a name absent from values gets an
// empty value.
func buildCriteria(rules []string, values map[string]string) string {
	names := make([]string, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r] {
			continue
		}
		seen[r] = true
		names = append(names, r)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		v := values[name]
		sb.WriteString("?")
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(v)
	}
	return sb.String()
}

// AbsoluteURL reports whether value is already an absolute URL: an
// anchored match of a scheme followed by "://".
var AbsoluteURL = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+\-.]*://.*`)

// DecodePath percent-decodes a resource path for use in dispatch-criterion
// extraction. Operation resolution compares the undecoded form while
// criterion extraction uses the decoded form; callers must pass the right
// one to the right algorithm.
func DecodePath(path string) string {
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return path
	}
	return decoded
}
