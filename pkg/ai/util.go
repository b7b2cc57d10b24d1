package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for use with AI structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// ExtractEmbeddedJSON finds a JSON object inside surrounding prose. Fenced
// code blocks are preferred; otherwise the span from the first `{` to the
// matching closing brace is returned.
func ExtractEmbeddedJSON(s string) (string, bool) {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(s, -1) {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
			return inner, true
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple fallback strategies.
// It first tries standard JSON unmarshaling, then handles double-encoded JSON strings,
// then looks for a JSON object embedded in prose or a fenced code block,
// and finally attempts to repair malformed JSON before parsing.
//
// Every failure wraps ErrMalformedOutput.
//
// Example:
//
//	var result MyStruct
//	// All of these inputs would work:
//	UnmarshalFlexible(`{"name": "test"}`, &result)            // standard JSON
//	UnmarshalFlexible(`"{\"name\": \"test\"}"`, &result)      // double-encoded
//	UnmarshalFlexible("Sure:\n```json\n{\"name\":1}\n```", &result) // embedded
//	UnmarshalFlexible(`{name: "test"}`, &result)              // malformed (repaired)
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return Malformed(fmt.Errorf("empty response"))
	}

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	jsonShaped := strings.HasPrefix(input, "{") || strings.HasPrefix(input, "[")
	if embedded, ok := ExtractEmbeddedJSON(input); ok && !jsonShaped {
		if err := json.Unmarshal([]byte(embedded), out); err == nil {
			return nil
		}
		input = embedded
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return Malformed(fmt.Errorf("json repair failed: %w (input: %s)", err, input))
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return Malformed(fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	))
}
