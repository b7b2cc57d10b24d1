package vault

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"

	"gopkg.in/yaml.v3"
)

// RenameKey is the front matter key holding per-document rename mappings.
const RenameKey = "resolves"

// EntityTypesKey is the front matter key listing the types of the entity a
// note describes.
const EntityTypesKey = "entity_types"

// systemKeys are front matter fields that steer processing and are not
// copied onto entities.
var systemKeys = map[string]struct{}{
	RenameKey:           {},
	"entity_resolution": {},
	EntityTypesKey:      {},
}

// SplitFrontMatter separates a leading `---` delimited YAML block from the
// rest of the document. Documents without front matter return a nil map and
// the unchanged content.
func SplitFrontMatter(content string) (map[string]any, string, error) {
	text := strings.TrimPrefix(content, "\uFEFF")
	if !strings.HasPrefix(text, "---") {
		return nil, content, nil
	}

	lines := strings.SplitAfter(text, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return nil, content, nil
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "---" || trimmed == "..." {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, content, nil
	}

	raw := strings.Join(lines[1:end], "")
	body := strings.Join(lines[end+1:], "")

	meta := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := yaml.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, body, fmt.Errorf("parse front matter: %w", err)
		}
	}
	return meta, body, nil
}

// ParseRenames reads the rename declarations of a document in declaration
// order. The value may be a YAML list of "Old => New" strings, a single
// comma separated line, or a multi-line block. Surrounding quotes are
// stripped. Validation and conflict handling are left to the resolver.
func ParseRenames(meta map[string]any) []common.RenameMapping {
	if meta == nil {
		return nil
	}
	value, ok := meta[RenameKey]
	if !ok || value == nil {
		return nil
	}

	var entries []string
	switch v := value.(type) {
	case string:
		entries = splitEntries(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				entries = append(entries, splitEntries(s)...)
			}
		}
	case map[string]any:
		// `resolves: {Old: New}` is accepted as well.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, oldName := range keys {
			if s, ok := v[oldName].(string); ok {
				entries = append(entries, oldName+" => "+s)
			}
		}
	default:
		return nil
	}

	out := make([]common.RenameMapping, 0, len(entries))
	for _, entry := range entries {
		oldName, newName, found := strings.Cut(entry, "=>")
		if !found {
			oldName, newName, found = strings.Cut(entry, "->")
		}
		if !found {
			continue
		}
		out = append(out, common.RenameMapping{
			Old: unquote(oldName),
			New: unquote(newName),
		})
	}
	return out
}

func splitEntries(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			part = strings.TrimPrefix(part, "- ")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}

// ParseEntityTypes reads the `entity_types` field, given either as a YAML
// list or as a comma separated string. Empty entries are dropped.
func ParseEntityTypes(meta map[string]any) []string {
	var entries []string
	switch v := meta[EntityTypesKey].(type) {
	case string:
		entries = splitEntries(v)
	case []any:
		for _, item := range v {
			entries = append(entries, splitEntries(formatValue(item))...)
		}
	default:
		return nil
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e = unquote(e); e != "" {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ParseMetadata flattens the front matter into string values. Lists are
// joined with ", " and nested maps are encoded as JSON. Null values and the
// processing keys are left out.
func ParseMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if _, ok := systemKeys[k]; ok || v == nil {
			continue
		}
		out[k] = formatValue(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(time.DateOnly)
		}
		return v.Format(time.RFC3339)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if item != nil {
				parts = append(parts, formatValue(item))
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	default:
		return fmt.Sprint(v)
	}
}
