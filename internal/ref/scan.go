package ref

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	taggedPattern = regexp.MustCompile(
		`(?:@value\.)?(node-formula|formula|node-condition|condition|node-table|table):([A-Za-z0-9_-]+)` +
			`|@table\.([A-Za-z0-9_-]+)` +
			`|@value\.([A-Za-z0-9_-]+)`)

	barePattern = regexp.MustCompile(
		`shared-ref-[A-Za-z0-9_-]*[A-Za-z0-9]` +
			`|\bnode_[A-Za-z0-9_]*[A-Za-z0-9](?:-\d+)*` +
			`|\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(?:-\d+)*\b`)
)

// Match is one reference found in a string. Start and End delimit the id.
type Match struct {
	Ref   Ref
	Start int
	End   int
}

// Scan finds every tagged or id-shaped reference in s, in order of appearance.
// Bare ids inside an already matched tagged reference are not reported twice.
func Scan(s string) []Match {
	var out []Match
	var taken [][2]int

	for _, loc := range taggedPattern.FindAllStringSubmatchIndex(s, -1) {
		taken = append(taken, [2]int{loc[0], loc[1]})
		switch {
		case loc[2] >= 0:
			out = append(out, Match{
				Ref:   Ref{Kind: tagKind(s[loc[2]:loc[3]]), ID: s[loc[4]:loc[5]]},
				Start: loc[4], End: loc[5],
			})
		case loc[6] >= 0:
			out = append(out, Match{Ref: Ref{Kind: KindTable, ID: s[loc[6]:loc[7]]}, Start: loc[6], End: loc[7]})
		case loc[8] >= 0:
			out = append(out, Match{Ref: nodeRef(s[loc[8]:loc[9]]), Start: loc[8], End: loc[9]})
		}
	}

	for _, loc := range barePattern.FindAllStringIndex(s, -1) {
		if overlaps(taken, loc[0], loc[1]) {
			continue
		}
		out = append(out, Match{Ref: nodeRef(s[loc[0]:loc[1]]), Start: loc[0], End: loc[1]})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func overlaps(spans [][2]int, start, end int) bool {
	for _, sp := range spans {
		if start < sp[1] && end > sp[0] {
			return true
		}
	}
	return false
}

// isRefPosition reports whether obj[key] holds references as whole strings,
// including plain ids that carry no recognizable shape.
func isRefPosition(obj map[string]any, key string) bool {
	switch key {
	case "ref", "nodeIds", "sourceRef", "sourceField", "rowFieldId", "columnFieldId", "filterValueRef":
		return true
	case "name":
		t, _ := obj["type"].(string)
		return t == "variable"
	}
	return false
}

// walk visits every string in v (keys sorted for stable order) and rebuilds
// v with the strings fn returns.
func walk(v any, whole bool, fn func(s string, whole bool) string) any {
	switch t := v.(type) {
	case string:
		return fn(t, whole)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = walk(t[i], whole, fn)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = walk(t[k], isRefPosition(t, k), fn)
		}
		return out
	default:
		return v
	}
}

// Extract returns the distinct references in a decoded JSON value, in order of
// first appearance. Strings in reference positions (condition action nodeIds,
// operand refs, variable token names, lookup selectors) are parsed whole.
func Extract(v any) []Ref {
	seen := make(map[Ref]bool)
	var out []Ref
	add := func(r Ref) {
		if r.IsZero() || seen[r] {
			return
		}
		seen[r] = true
		out = append(out, r)
	}
	walk(v, false, func(s string, whole bool) string {
		ms := Scan(s)
		for _, m := range ms {
			add(m.Ref)
		}
		if whole && len(ms) == 0 {
			add(Parse(s))
		}
		return s
	})
	return out
}

// ExtractString extracts references from a single tagged string such as a sourceRef.
func ExtractString(s string) []Ref {
	return Extract(map[string]any{"ref": s})
}

// ExtractJSON decodes data and extracts its references.
func ExtractJSON(data []byte) ([]Ref, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding blob: %w", err)
	}
	return Extract(v), nil
}

// Mapper returns the replacement id for a reference; ok=false leaves it untouched.
type Mapper func(r Ref) (id string, ok bool)

// Rewrite returns a copy of the decoded JSON value v with every reference
// passed through m. Tags and surrounding text are preserved.
func Rewrite(v any, m Mapper) any {
	return walk(v, false, func(s string, whole bool) string {
		return rewriteString(s, whole, m)
	})
}

// RewriteString rewrites a single tagged reference string.
func RewriteString(s string, m Mapper) string {
	return rewriteString(s, true, m)
}

func rewriteString(s string, whole bool, m Mapper) string {
	ms := Scan(s)
	if len(ms) == 0 {
		if !whole {
			return s
		}
		r := Parse(s)
		if r.IsZero() || !strings.HasSuffix(s, r.ID) {
			return s
		}
		if id, ok := m(r); ok {
			return s[:len(s)-len(r.ID)] + id
		}
		return s
	}

	var b strings.Builder
	last := 0
	for _, match := range ms {
		id, ok := m(match.Ref)
		if !ok {
			continue
		}
		b.WriteString(s[last:match.Start])
		b.WriteString(id)
		last = match.End
	}
	b.WriteString(s[last:])
	return b.String()
}

// ToJSONValue converts a typed value into its decoded JSON form.
func ToJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromJSONValue decodes a JSON value produced by ToJSONValue or Rewrite into dst.
func FromJSONValue(v any, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
