package monitor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Severity tags a lint finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is one finding from static query analysis.
type Issue struct {
	Severity       Severity `json:"severity"`
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

var (
	wildcardRe     = regexp.MustCompile(`(?is)^\s*select\s+(distinct\s+)?\*`)
	leadingLikeRe  = regexp.MustCompile(`(?i)like\s+'%`)
	whereRe        = regexp.MustCompile(`(?i)\bwhere\b`)
	orChainRe      = regexp.MustCompile(`(?i)\bwhere\b.*\bor\b`)
	fromTableRe    = regexp.MustCompile(`(?i)\bfrom\s+([a-zA-Z_][\w.]*)`)
	whereClauseRe  = regexp.MustCompile(`(?is)\bwhere\b(.*?)(\border\s+by\b|\bgroup\s+by\b|\blimit\b|$)`)
	predicateColRe = regexp.MustCompile(`(?i)([a-zA-Z_][\w.]*)\s*(=|<>|!=|>=|<=|>|<|\bin\b|\blike\b|\bbetween\b)`)
)

// AnalyzeQuery applies a fixed set of heuristic lint rules to a statement.
// This is static pattern matching, not a cost-based optimizer.
func AnalyzeQuery(query string) []Issue {
	var issues []Issue
	qType := DetectQueryType(query)
	hasWhere := whereRe.MatchString(query)

	if wildcardRe.MatchString(query) {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Code:           "wildcard_projection",
			Message:        "statement selects all columns with *",
			Recommendation: "project only the columns the caller needs to cut transfer and allow covering indexes",
		})
	}

	switch qType {
	case TypeSelect:
		if !hasWhere {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Code:           "missing_predicate",
				Message:        "SELECT without a WHERE clause forces a full table scan",
				Recommendation: "add a predicate or explicit LIMIT when reading large tables",
			})
		}
	case TypeUpdate, TypeDelete:
		if !hasWhere {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Code:           "missing_predicate",
				Message:        fmt.Sprintf("%s without a WHERE clause affects every row", strings.ToUpper(string(qType))),
				Recommendation: "add a predicate unless a whole-table write is intended",
			})
		}
	}

	if leadingLikeRe.MatchString(query) {
		issues = append(issues, Issue{
			Severity:       SeverityMedium,
			Code:           "leading_wildcard",
			Message:        "LIKE pattern starts with a wildcard, defeating index use",
			Recommendation: "anchor the pattern or use a full-text index for substring search",
		})
	}

	if orChainRe.MatchString(query) {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Code:           "disjunctive_predicates",
			Message:        "OR-connected predicates often prevent index usage",
			Recommendation: "consider rewriting as IN (...) or a UNION of indexed branches",
		})
	}

	if hasProjectionSubquery(query) {
		issues = append(issues, Issue{
			Severity:       SeverityMedium,
			Code:           "projection_subquery",
			Message:        "subquery in the projection list runs once per result row",
			Recommendation: "rewrite as a JOIN or lateral where the engine supports it",
		})
	}

	return issues
}

// hasProjectionSubquery reports whether a "(SELECT" appears between the
// outer SELECT and its FROM.
func hasProjectionSubquery(query string) bool {
	lower := strings.ToLower(query)
	if !strings.HasPrefix(strings.TrimSpace(lower), "select") {
		return false
	}
	from := strings.Index(lower, " from ")
	if from < 0 {
		return false
	}
	projection := lower[:from]
	idx := strings.Index(projection, "(")
	for idx >= 0 {
		rest := strings.TrimSpace(projection[idx+1:])
		if strings.HasPrefix(rest, "select") {
			return true
		}
		next := strings.Index(projection[idx+1:], "(")
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return false
}

// IndexRecommendation proposes one single-column index mined from the
// slow-query list. It is a heuristic, not a guarantee.
type IndexRecommendation struct {
	Table       string `json:"table"`
	Column      string `json:"column"`
	Occurrences int    `json:"occurrences"`
	Impact      string `json:"impact"`
	Statement   string `json:"statement"`
}

// minOccurrences is the slow-query predicate frequency at which a column
// earns a recommendation.
const minOccurrences = 3

// RecommendIndexes mines the retained slow-query list for predicate
// columns appearing repeatedly and proposes one single-column index per
// such column, tagged with an impact level derived from frequency.
func (m *Monitor) RecommendIndexes() []IndexRecommendation {
	type key struct{ table, column string }
	counts := make(map[key]int)

	for _, entry := range m.SlowQueries() {
		if entry.Type != TypeSelect {
			continue
		}
		table := ""
		if match := fromTableRe.FindStringSubmatch(entry.Query); match != nil {
			table = strings.ToLower(match[1])
		}
		clause := whereClauseRe.FindStringSubmatch(entry.Query)
		if clause == nil {
			continue
		}
		for _, col := range predicateColRe.FindAllStringSubmatch(clause[1], -1) {
			name := strings.ToLower(col[1])
			// Strip an alias or table qualifier.
			if dot := strings.LastIndex(name, "."); dot >= 0 {
				name = name[dot+1:]
			}
			switch name {
			case "and", "or", "not", "in", "like", "between", "is", "null":
				continue
			}
			counts[key{table, name}]++
		}
	}

	var recs []IndexRecommendation
	for k, n := range counts {
		if n < minOccurrences {
			continue
		}
		impact := "low"
		switch {
		case n >= 10:
			impact = "high"
		case n >= 5:
			impact = "medium"
		}
		recs = append(recs, IndexRecommendation{
			Table:       k.table,
			Column:      k.column,
			Occurrences: n,
			Impact:      impact,
			Statement:   fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s)", k.table, k.column, k.table, k.column),
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Occurrences != recs[j].Occurrences {
			return recs[i].Occurrences > recs[j].Occurrences
		}
		return recs[i].Column < recs[j].Column
	})
	return recs
}
