// Package dispatch implements the JSON-body dispatch strategy: a request
// body is probed with a JSON pointer and the extracted value is routed
// through an operator (equals, range, regexp, size, presence) to one of a
// set of named cases. The winning case value becomes the dispatch
// criterion, usually the name of a canned response.
package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-openapi/jsonpointer"
)

// EvaluationSpecification is the parsed form of a JSON_BODY dispatcher's
// rules document.
type EvaluationSpecification struct {
	Exp      string            `json:"exp"`
	Operator string            `json:"operator"`
	Cases    map[string]string `json:"cases"`
}

// DefaultCase is the case key consulted when no other case matches.
const DefaultCase = "default"

// ParseEvaluationSpec parses a JSON_BODY rules document.
func ParseEvaluationSpec(rules string) (EvaluationSpecification, error) {
	var spec EvaluationSpecification
	if err := json.Unmarshal([]byte(rules), &spec); err != nil {
		return EvaluationSpecification{}, fmt.Errorf("parse evaluation spec: %w", err)
	}
	if spec.Exp == "" {
		return EvaluationSpecification{}, fmt.Errorf("evaluation spec has no exp")
	}
	if len(spec.Cases) == 0 {
		return EvaluationSpecification{}, fmt.Errorf("evaluation spec has no cases")
	}
	return spec, nil
}

// EvaluateJSONBody parses rules, evaluates its JSON pointer against body,
// and returns the matched case value. Unmatched values fall through to the
// "default" case when one exists; an unknown operator is an error.
func EvaluateJSONBody(rules, body string) (string, error) {
	spec, err := ParseEvaluationSpec(rules)
	if err != nil {
		return "", err
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return "", fmt.Errorf("parse request body: %w", err)
	}

	ptr, err := jsonpointer.New(spec.Exp)
	if err != nil {
		return "", fmt.Errorf("parse pointer %q: %w", spec.Exp, err)
	}
	value, _, ptrErr := ptr.Get(doc)

	switch spec.Operator {
	case "presence":
		if ptrErr != nil || value == nil {
			return pick(spec.Cases, "missing")
		}
		return pick(spec.Cases, "found")

	case "equals":
		if ptrErr != nil {
			return pick(spec.Cases, DefaultCase)
		}
		return pick(spec.Cases, stringify(value))

	case "regexp":
		if ptrErr != nil {
			return pick(spec.Cases, DefaultCase)
		}
		s := stringify(value)
		for pattern, result := range spec.Cases {
			if pattern == DefaultCase {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			if re.MatchString(s) {
				return result, nil
			}
		}
		return pick(spec.Cases, DefaultCase)

	case "range":
		if ptrErr != nil {
			return pick(spec.Cases, DefaultCase)
		}
		n, ok := toNumber(value)
		if !ok {
			return pick(spec.Cases, DefaultCase)
		}
		return pickRange(spec.Cases, n)

	case "size":
		if ptrErr != nil {
			return pick(spec.Cases, DefaultCase)
		}
		arr, ok := value.([]any)
		if !ok {
			return pick(spec.Cases, DefaultCase)
		}
		return pickRange(spec.Cases, float64(len(arr)))

	default:
		return "", fmt.Errorf("unknown operator %q", spec.Operator)
	}
}

func pick(cases map[string]string, key string) (string, error) {
	if v, ok := cases[key]; ok {
		return v, nil
	}
	if v, ok := cases[DefaultCase]; ok {
		return v, nil
	}
	return "", fmt.Errorf("no case matches %q and no default case", key)
}

func pickRange(cases map[string]string, n float64) (string, error) {
	for key, result := range cases {
		if key == DefaultCase {
			continue
		}
		if rangeContains(key, n) {
			return result, nil
		}
	}
	return pick(cases, DefaultCase)
}

// rangeContains parses an interval like "[0;10]" or "]10;20[" (bracket
// inward means inclusive, outward exclusive) and reports whether n lies
// inside it.
func rangeContains(interval string, n float64) bool {
	if len(interval) < 5 {
		return false
	}
	lower, upper := interval[0], interval[len(interval)-1]
	if (lower != '[' && lower != ']') || (upper != '[' && upper != ']') {
		return false
	}
	parts := strings.SplitN(interval[1:len(interval)-1], ";", 2)
	if len(parts) != 2 {
		return false
	}
	lo, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	hi, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return false
	}

	if lower == '[' {
		if n < lo {
			return false
		}
	} else if n <= lo {
		return false
	}
	if upper == ']' {
		if n > hi {
			return false
		}
	} else if n >= hi {
		return false
	}
	return true
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
