package eval

// Level grades a trace entry.
type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
)

// Sources recorded in trace entries.
const (
	SourceVariable      = "variable"
	SourceField         = "field"
	SourceFieldSuffix   = "field-suffix"
	SourceFieldContains = "field-contains"
	SourceMirror        = "mirror"
	SourceAnyField      = "any-field"
	SourceDefault       = "default"
	SourceLiteral       = "literal"
	SourceFormula       = "formula"
	SourceCondition     = "condition"
	SourceTable         = "table"
	SourceGuard         = "guard"
)

// TraceEntry records one resolution step.
type TraceEntry struct {
	Ref        string `json:"ref"`
	Source     string `json:"source"`
	Candidates int    `json:"candidates"`
	Value      any    `json:"value,omitempty"`
	Level      Level  `json:"level"`
	Message    string `json:"message,omitempty"`
}

// Trace collects the steps of one evaluation call. It is not shared between calls.
type Trace struct {
	entries []TraceEntry
}

func (t *Trace) add(e TraceEntry) {
	if e.Level == "" {
		e.Level = LevelInfo
	}
	t.entries = append(t.entries, e)
}

func (t *Trace) warn(refStr, source, msg string) {
	t.add(TraceEntry{Ref: refStr, Source: source, Level: LevelWarn, Message: msg})
}

// Entries returns the recorded steps in order.
func (t *Trace) Entries() []TraceEntry {
	return t.entries
}

// Warnings returns only the warn-level steps.
func (t *Trace) Warnings() []TraceEntry {
	var out []TraceEntry
	for _, e := range t.entries {
		if e.Level == LevelWarn {
			out = append(out, e)
		}
	}
	return out
}

// Touched reports whether any step resolved refStr.
func (t *Trace) Touched(refStr string) bool {
	for _, e := range t.entries {
		if e.Ref == refStr {
			return true
		}
	}
	return false
}
