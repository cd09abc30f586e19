// Package importer is the server side of bulk CSV import: per-module target
// schemas, column classification, AI-assisted mapping, validation and the
// final insert.
package importer

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/zulandar/jigged/internal/db"
	"gorm.io/gorm"
)

// FieldType is how a target field's cell text is interpreted.
type FieldType string

const (
	String FieldType = "string"
	Number FieldType = "number"
)

// Field is one importable column of a module.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
	// Patterns match normalized header names (lowercase, runs of space,
	// underscore and dash collapsed to "_").
	Patterns []*regexp.Regexp
	// InvalidType is the error type reported for unparseable or negative
	// numbers.
	InvalidType string
}

// Label is the field name as prose: "labor_rate" is "Labor rate".
func (f Field) Label() string {
	s := strings.ReplaceAll(f.Name, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

// Record is one data row keyed by target field, with blank cells dropped.
// Modules that assign customers or read pricing also receive customer_id
// and pricing (JSON tiers).
type Record map[string]string

// CustomerMatchMode is how imported rows are assigned to customers.
type CustomerMatchMode string

const (
	// MatchByColumn looks each row's customer_code up among the company's
	// customers.
	MatchByColumn CustomerMatchMode = "by_column"
	// MatchAllToOne assigns every row to the selected customer.
	MatchAllToOne CustomerMatchMode = "all_to_one"
	// MatchGeneric leaves every row without a customer.
	MatchGeneric CustomerMatchMode = "all_generic"
)

// Existing maps a unique field to its lowercased stored values and the id
// holding each.
type Existing map[string]map[string]string

// Module is an import target.
type Module struct {
	Name string
	// Noun is the plural used in summaries, e.g. "operations".
	Noun   string
	Fields []Field
	// Unique fields are compared case-insensitively against the CSV and the
	// stored rows.
	Unique      []string
	DomainHints []string
	// GroupField names a field whose values become resource groups.
	GroupField string
	// CustomerScoped rows belong to a customer chosen by CustomerMatchMode;
	// Unique values are then unique per customer.
	CustomerScoped bool
	// Pricing modules read qty/price column pairs into price tiers.
	Pricing bool

	existing func(ctx context.Context, gdb *gorm.DB, companyID string) (Existing, error)
	insert   func(tx *gorm.DB, companyID string, records []Record, groups map[string]string) (int, error)
}

// Field returns the named field.
func (m *Module) Field(name string) (Field, bool) {
	i := slices.IndexFunc(m.Fields, func(f Field) bool { return f.Name == name })
	if i < 0 {
		return Field{}, false
	}
	return m.Fields[i], true
}

// FieldNames lists every target field in schema order.
func (m *Module) FieldNames() []string {
	out := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		out[i] = f.Name
	}
	return out
}

// RequiredFields lists the fields a mapping must cover.
func (m *Module) RequiredFields() []string {
	var out []string
	for _, f := range m.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// SchemaDoc describes the fields for AI prompts.
func (m *Module) SchemaDoc() map[string]map[string]any {
	out := make(map[string]map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		out[f.Name] = map[string]any{
			"type":        string(f.Type),
			"required":    f.Required,
			"description": f.Description,
		}
	}
	return out
}

var modules = map[string]*Module{}

func register(m *Module) *Module {
	modules[m.Name] = m
	return m
}

// Lookup returns the module named name.
func Lookup(name string) (*Module, error) {
	m, ok := modules[name]
	if !ok {
		return nil, db.NotFound("import module", name)
	}
	return m, nil
}

// ModuleNames lists the registered modules alphabetically.
func ModuleNames() []string {
	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile("(?i)" + e)
	}
	return out
}

var separators = regexp.MustCompile(`[\s_-]+`)

// normalizeHeader lowercases a header and collapses separators to "_".
func normalizeHeader(h string) string {
	return separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), "_")
}
