package eval

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MirrorPrefix marks shadow field-value keys that carry a label instead of a node id.
const MirrorPrefix = "__mirror_data_"

// VariableValue is an already resolved variable.
type VariableValue struct {
	Raw     any     `json:"raw"`
	Numeric float64 `json:"numeric"`
}

// Context is the immutable input of one evaluation request.
type Context struct {
	FieldValues map[string]any
	VariableMap map[string]VariableValue
	Mirrors     map[string][]any
}

// NewContext builds a context and indexes mirror keys by normalized label.
func NewContext(fieldValues map[string]any, variables map[string]VariableValue) *Context {
	if fieldValues == nil {
		fieldValues = map[string]any{}
	}
	if variables == nil {
		variables = map[string]VariableValue{}
	}
	mirrors := make(map[string][]any)
	for _, k := range sortedFieldKeys(fieldValues) {
		if !strings.HasPrefix(k, MirrorPrefix) {
			continue
		}
		label := NormalizeLabel(strings.TrimPrefix(k, MirrorPrefix))
		if label == "" {
			continue
		}
		mirrors[label] = append(mirrors[label], fieldValues[k])
	}
	return &Context{FieldValues: fieldValues, VariableMap: variables, Mirrors: mirrors}
}

// WithVariables returns a context sharing field values but using vars.
func (c *Context) WithVariables(vars map[string]VariableValue) *Context {
	return &Context{FieldValues: c.FieldValues, VariableMap: vars, Mirrors: c.Mirrors}
}

var labelFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeLabel folds case and accents and strips whitespace, so
// "Surface Toiture" and "surface toiture" land on the same mirror.
func NormalizeLabel(s string) string {
	folded, _, err := transform.String(labelFolder, s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)
	return strings.Join(strings.Fields(folded), "")
}
