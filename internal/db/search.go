package db

import (
	"context"
	"strings"
	"unicode"

	"treebranchleaf/tbl/internal/tree"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "and": true,
	"or": true, "with": true, "from": true, "by": true,
	"le": true, "la": true, "les": true, "de": true, "des": true,
	"du": true, "et": true, "en": true, "un": true, "une": true,
}

// LabelTerms splits a query into label search terms. Punctuation is trimmed
// from both ends of each word; stopwords and words under 2 chars are dropped.
func LabelTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(query) {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if len([]rune(trimmed)) < 2 {
			continue
		}
		if stopwords[strings.ToLower(trimmed)] {
			continue
		}
		terms = append(terms, trimmed)
	}
	return terms
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SearchByLabel returns nodes whose label contains every term of query,
// ignoring ASCII case. Returns an empty slice when no term survives.
func (s *Session) SearchByLabel(ctx context.Context, query string, limit int) ([]tree.Node, error) {
	terms := LabelTerms(query)
	if len(terms) == 0 {
		return []tree.Node{}, nil
	}
	clauses := make([]string, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		clauses[i] = `label LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(t)+"%")
	}
	args = append(args, limit)
	return queryAll(ctx, s.q, scanNode,
		`SELECT `+nodeColumns+` FROM nodes WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id LIMIT ?`, args...)
}

// SearchByLabel returns nodes whose label contains every term of query.
func (d *DB) SearchByLabel(query string, limit int) ([]tree.Node, error) {
	return d.Session().SearchByLabel(context.Background(), query, limit)
}
