package importer

import (
	"regexp"
	"strings"
)

// MaxAIColumns caps the uncertain columns sent to a provider per request.
const MaxAIColumns = 30

// ReviewThreshold is the confidence below which a mapping needs review.
const ReviewThreshold = 0.7

var universalSkip = compileAll(
	`^(id|uuid|guid)$`,
	`^(created|updated|modified|deleted)_(at|on|date|time)$`,
	`^(row_?id|record_?id|internal_?id|system_?id)$`,
	`^(import|export|sync)_(id|date|time|status)$`,
	`^_`,
	`^(legacy|old|deprecated|archive)_`,
	`(timestamp|datetime)$`,
	`^(last_?modified|date_?added|date_?created)$`,
	`^(is_?active|is_?deleted|is_?archived|active|deleted|archived)$`,
	`^(version|revision|seq|sequence)(_?num(ber)?)?$`,
	`^(hash|checksum|md5|sha\d*)$`,
	`^(sort_?order|display_?order|order_?num)$`,
)

var uncertainIndicators = compileAll(
	`(custom|misc|other|extra|additional)`,
	`^(field|column|col|data|value)\d*$`,
	`^[a-z]{1,3}\d+$`,
	`^(attr|attribute|prop|property)\d*$`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Classification is the rule-based verdict on one column. Field is empty
// for skipped columns.
type Classification struct {
	Column     string
	Field      string
	Confidence float64
	Reasoning  string
	NeedsAI    bool
}

// Classify sorts columns into rule-resolved ones and ones that need a
// provider. Sample rows are read positionally; short rows count as blank.
func Classify(m *Module, headers []string, samples [][]string) (resolved []Classification, uncertain []string) {
	for i, h := range headers {
		values := make([]string, 0, len(samples))
		for _, row := range samples {
			if i < len(row) {
				values = append(values, row[i])
			} else {
				values = append(values, "")
			}
		}
		c := classifyColumn(m, h, values)
		if c.NeedsAI {
			uncertain = append(uncertain, h)
			continue
		}
		resolved = append(resolved, c)
	}
	return resolved, uncertain
}

func classifyColumn(m *Module, header string, values []string) Classification {
	norm := normalizeHeader(header)
	c := Classification{Column: header}

	// A header naming a field exactly wins over the skip list, so
	// "legacy_id" still reaches its field.
	if _, ok := m.Field(norm); ok {
		c.Field, c.Confidence, c.Reasoning = norm, 1.0, "Exact field name"
		return c
	}
	for _, re := range universalSkip {
		if re.MatchString(norm) {
			c.Confidence, c.Reasoning = 0.95, "Auto-skip: system column pattern"
			return c
		}
	}
	for _, f := range m.Fields {
		for _, re := range f.Patterns {
			if re.MatchString(norm) {
				c.Field, c.Confidence = f.Name, 0.95
				c.Reasoning = "Auto-mapped: matches " + f.Name + " pattern"
				return c
			}
		}
	}

	var nonEmpty []string
	distinct := map[string]bool{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonEmpty = append(nonEmpty, v)
			distinct[v] = true
		}
	}
	if len(nonEmpty) == 0 {
		c.Confidence, c.Reasoning = 0.8, "Auto-skip: all sample values empty"
		return c
	}
	if len(distinct) == 1 && len(nonEmpty) >= 3 {
		c.Confidence, c.Reasoning = 0.7, "Auto-skip: all sample values identical (likely constant)"
		return c
	}

	for _, re := range uncertainIndicators {
		if re.MatchString(norm) {
			c.NeedsAI, c.Reasoning = true, "Needs AI: ambiguous column name"
			return c
		}
	}
	lower := strings.ToLower(header)
	for _, hint := range m.DomainHints {
		if strings.Contains(lower, hint) {
			c.NeedsAI, c.Reasoning = true, "Needs AI: may contain relevant domain data"
			return c
		}
	}

	c.Confidence, c.Reasoning = 0.6, "Auto-skip: no recognized pattern, likely irrelevant"
	return c
}
