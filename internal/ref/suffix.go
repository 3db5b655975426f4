package ref

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const uuidLen = 36

var (
	suffixTail = regexp.MustCompile(`^(.+?)((?:-\d+)+)$`)
	suffixRest = regexp.MustCompile(`^(?:-\d+)+$`)
	labelTail  = regexp.MustCompile(`(?:-\d+)+$`)
)

// Split separates an id into its base and the copy suffix segments it carries.
// UUID ids are split after the 36th character, so an all-digit last group is
// never mistaken for a suffix.
func Split(id string) (base string, suffixes []int) {
	if len(id) >= uuidLen {
		if _, err := uuid.Parse(id[:uuidLen]); err == nil {
			rest := id[uuidLen:]
			if rest == "" || !suffixRest.MatchString(rest) {
				return id, nil
			}
			if segs := parseSegments(rest); segs != nil {
				return id[:uuidLen], segs
			}
			return id, nil
		}
	}

	head, opaque := "", id
	if strings.HasPrefix(id, SharedRefPrefix) {
		head, opaque = SharedRefPrefix, id[len(SharedRefPrefix):]
	}
	m := suffixTail.FindStringSubmatch(opaque)
	if m == nil {
		return id, nil
	}
	segs := parseSegments(m[2])
	if segs == nil {
		return id, nil
	}
	return head + m[1], segs
}

func parseSegments(s string) []int {
	var out []int
	for _, part := range strings.Split(s, "-") {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}

// Base returns the id without any copy suffix.
func Base(id string) string {
	base, _ := Split(id)
	return base
}

// Suffix returns the last copy suffix of id.
func Suffix(id string) (int, bool) {
	_, segs := Split(id)
	if len(segs) == 0 {
		return 0, false
	}
	return segs[len(segs)-1], true
}

// HasSuffix reports whether id carries at least one copy suffix.
func HasSuffix(id string) bool {
	_, segs := Split(id)
	return len(segs) > 0
}

// IsMultiSuffixed reports ids like "x-1-2", which are always invalid.
func IsMultiSuffixed(id string) bool {
	_, segs := Split(id)
	return len(segs) > 1
}

// WithSuffix appends copy suffix n to an unsuffixed id.
func WithSuffix(id string, n int) string {
	return id + "-" + strconv.Itoa(n)
}

// Resuffix replaces any numeric tail of free text (labels, exposed keys)
// with "-n", so repeated copies never read "x-1-2".
func Resuffix(s string, n int) string {
	if s == "" {
		return s
	}
	return labelTail.ReplaceAllString(s, "") + "-" + strconv.Itoa(n)
}
