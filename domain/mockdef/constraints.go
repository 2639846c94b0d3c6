package mockdef

import (
	"fmt"
	"net/textproto"
	"net/url"
	"regexp"
)

// ConstraintInput carries the request parts parameter constraints read from.
type ConstraintInput struct {
	Headers       map[string][]string
	Query         url.Values
	PathVariables map[string]string
}

func (in ConstraintInput) lookup(c ParameterConstraint) (string, bool) {
	switch c.In {
	case InHeader:
		vs := in.Headers[textproto.CanonicalMIMEHeaderKey(c.Name)]
		if len(vs) == 0 {
			return "", false
		}
		return vs[0], true
	case InQuery:
		if !in.Query.Has(c.Name) {
			return "", false
		}
		return in.Query.Get(c.Name), true
	case InPath:
		v, ok := in.PathVariables[c.Name]
		return v, ok
	}
	return "", false
}

// ValidateConstraints checks each constraint against the request and returns
// one violation message per failed constraint, in constraint order.
func ValidateConstraints(constraints []ParameterConstraint, in ConstraintInput) []string {
	var violations []string
	for _, c := range constraints {
		value, present := in.lookup(c)

		if c.Required && !present {
			violations = append(violations, fmt.Sprintf("Parameter %s is required", c.Name))
			continue
		}
		if present && c.MustMatchRegex != "" {
			re, err := regexp.Compile(c.MustMatchRegex)
			if err != nil {
				violations = append(violations, fmt.Sprintf("Parameter %s has an invalid constraint pattern", c.Name))
				continue
			}
			if !re.MatchString(value) {
				violations = append(violations, fmt.Sprintf("Parameter %s should match %s", c.Name, c.MustMatchRegex))
			}
		}
	}
	return violations
}

// RecopyHeaders returns the request header values to copy onto the response,
// for constraints with in == header and recopy == true. Headers absent from
// the request are skipped.
func RecopyHeaders(constraints []ParameterConstraint, headers map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for _, c := range constraints {
		if c.In != InHeader || !c.Recopy {
			continue
		}
		name := textproto.CanonicalMIMEHeaderKey(c.Name)
		if vs := headers[name]; len(vs) > 0 {
			out[name] = vs
		}
	}
	return out
}
