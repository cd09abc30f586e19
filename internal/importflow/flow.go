// Package importflow is the client side of bulk import: it parses an
// upload, asks the import service for column mappings, lets the user
// correct them and then validates and executes the import remotely.
package importflow

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/zulandar/jigged/internal/importer"
)

// State is a step of the import pipeline.
type State int

const (
	StateUpload State = iota
	StateAnalyzing
	StateReview
	StateValidating
	StateImporting
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateUpload:
		return "upload"
	case StateAnalyzing:
		return "analyzing"
	case StateReview:
		return "review"
	case StateValidating:
		return "validating"
	case StateImporting:
		return "importing"
	case StateComplete:
		return "complete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Remote is the import service.
type Remote interface {
	Analyze(ctx context.Context, module string, req importer.AnalyzeRequest) (*importer.AnalyzeResult, error)
	Validate(ctx context.Context, module string, req importer.ValidateRequest) (*importer.ValidateResult, error)
	Execute(ctx context.Context, module string, req importer.ExecuteRequest) (*importer.ExecuteResult, error)
}

// Mapping is the current target of one column. Field is empty when the
// column is skipped.
type Mapping struct {
	Column      string
	Field       string
	Confidence  float64
	Reasoning   string
	NeedsReview bool
	Manual      bool
}

// Option configures a Flow.
type Option func(*Flow)

// WithCreateGroups asks the service to create unknown resource groups.
func WithCreateGroups(on bool) Option {
	return func(f *Flow) { f.createGroups = on }
}

// WithCustomerMatch sets how a customer-scoped import assigns customers;
// customerID is the target of importer.MatchAllToOne.
func WithCustomerMatch(mode importer.CustomerMatchMode, customerID string) Option {
	return func(f *Flow) { f.customerMode, f.customerID = mode, customerID }
}

// WithObserver registers fn to be called after every state change.
func WithObserver(fn func(from, to State)) Option {
	return func(f *Flow) { f.observe = fn }
}

// Flow sequences one import. It is not safe for concurrent use.
type Flow struct {
	module       *importer.Module
	remote       Remote
	createGroups bool
	customerMode importer.CustomerMatchMode
	customerID   string
	observe      func(from, to State)

	state            State
	err              error
	table            *Table
	mappings         []Mapping
	aiProvider       string
	pricing          []importer.PricingPair
	unmappedRequired []string
	unmappedOptional []string
	validation       *importer.ValidateResult
	result           *importer.ExecuteResult
}

// New returns a flow in the upload state.
func New(m *importer.Module, remote Remote, opts ...Option) *Flow {
	f := &Flow{module: m, remote: remote}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Flow) to(s State) {
	from := f.state
	f.state = s
	if f.observe != nil && from != s {
		f.observe(from, s)
	}
}

// State returns the current step.
func (f *Flow) State() State { return f.state }

// Err returns the error shown for the current step, if any.
func (f *Flow) Err() error { return f.err }

// Table returns the parsed upload.
func (f *Flow) Table() *Table { return f.table }

// Mappings returns a copy of the column mappings in header order.
func (f *Flow) Mappings() []Mapping { return slices.Clone(f.mappings) }

// AIProvider names what produced the suggestions.
func (f *Flow) AIProvider() string { return f.aiProvider }

// Pricing returns the qty/price column pairs found by analysis.
func (f *Flow) Pricing() []importer.PricingPair { return slices.Clone(f.pricing) }

// UnmappedRequired lists required fields no column maps to.
func (f *Flow) UnmappedRequired() []string { return slices.Clone(f.unmappedRequired) }

// UnmappedOptional lists optional fields no column maps to.
func (f *Flow) UnmappedOptional() []string { return slices.Clone(f.unmappedOptional) }

// Validation returns the last validation report.
func (f *Flow) Validation() *importer.ValidateResult { return f.validation }

// Result returns the execute report once complete.
func (f *Flow) Result() *importer.ExecuteResult { return f.result }

// Upload parses the file and analyzes it. A file that is too large, empty
// or unreadable leaves the flow in StateUpload without contacting the service;
// an analysis failure returns to StateUpload as well.
func (f *Flow) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	if f.state != StateUpload {
		return fmt.Errorf("importflow: upload not allowed in %s", f.state)
	}
	t, err := ReadTable(name, r, size)
	if err != nil {
		f.err = err
		return err
	}
	f.err = nil
	f.table = t
	f.to(StateAnalyzing)

	res, err := f.remote.Analyze(ctx, f.module.Name, importer.AnalyzeRequest{
		Headers:    t.Headers,
		SampleRows: t.Samples(SampleRows),
	})
	if err != nil {
		f.table = nil
		f.err = fmt.Errorf("analysis failed: %w", err)
		f.to(StateUpload)
		return f.err
	}

	suggested := make(map[string]importer.Mapping, len(res.Mappings))
	for _, m := range res.Mappings {
		suggested[m.Column] = m
	}
	f.mappings = make([]Mapping, len(t.Headers))
	for i, h := range t.Headers {
		mp := Mapping{Column: h}
		if s, ok := suggested[h]; ok {
			mp.Confidence, mp.Reasoning, mp.NeedsReview = s.Confidence, s.Reasoning, s.NeedsReview
			if s.Field != nil {
				if _, known := f.module.Field(*s.Field); known {
					mp.Field = *s.Field
				}
			}
		}
		f.mappings[i] = mp
	}
	f.aiProvider = res.AIProvider
	f.pricing = res.PricingColumns
	f.recompute()
	f.to(StateReview)
	return nil
}

// SetMapping points column at field, or skips it when field is empty. A
// field already used by another column is taken from that column.
func (f *Flow) SetMapping(column, field string) error {
	if f.state != StateReview {
		return fmt.Errorf("importflow: mapping not editable in %s", f.state)
	}
	i := slices.IndexFunc(f.mappings, func(m Mapping) bool { return m.Column == column })
	if i < 0 {
		return fmt.Errorf("importflow: unknown column %q", column)
	}
	if field != "" {
		if _, ok := f.module.Field(field); !ok {
			return fmt.Errorf("importflow: unknown %s field %q", f.module.Name, field)
		}
		for j := range f.mappings {
			if j != i && f.mappings[j].Field == field {
				f.mappings[j].Field = ""
				f.mappings[j].Manual = true
			}
		}
	}
	f.mappings[i].Field = field
	f.mappings[i].Manual = true
	f.mappings[i].NeedsReview = false
	f.recompute()
	return nil
}

func (f *Flow) recompute() {
	mapped := map[string]bool{}
	for _, m := range f.mappings {
		if m.Field != "" {
			mapped[m.Field] = true
		}
	}
	f.unmappedRequired, f.unmappedOptional = nil, nil
	for _, fld := range f.module.Fields {
		switch {
		case mapped[fld.Name]:
		case fld.Required:
			f.unmappedRequired = append(f.unmappedRequired, fld.Name)
		default:
			f.unmappedOptional = append(f.unmappedOptional, fld.Name)
		}
	}
}

// CanProceed reports whether the import can start.
func (f *Flow) CanProceed() bool {
	return f.state == StateReview && len(f.unmappedRequired) == 0
}

// Proceed validates and then executes the import, skipping conflicting
// rows. A failure of either call returns to StateReview with the error.
func (f *Flow) Proceed(ctx context.Context) error {
	if !f.CanProceed() {
		if f.state == StateReview {
			return fmt.Errorf("importflow: required fields unmapped: %v", f.unmappedRequired)
		}
		return fmt.Errorf("importflow: cannot proceed from %s", f.state)
	}
	f.err = nil
	req := importer.ValidateRequest{
		Mappings:     f.mappingDict(),
		Rows:         f.table.Records(),
		CreateGroups: f.createGroups,

		PricingColumns:     f.pricing,
		CustomerMatchMode:  f.customerMode,
		SelectedCustomerID: f.customerID,
	}

	f.to(StateValidating)
	v, err := f.remote.Validate(ctx, f.module.Name, req)
	if err != nil {
		return f.fail("validation failed", err)
	}
	f.validation = v

	f.to(StateImporting)
	res, err := f.remote.Execute(ctx, f.module.Name, importer.ExecuteRequest{ValidateRequest: req, SkipConflicts: true})
	if err != nil {
		return f.fail("import failed", err)
	}
	f.result = res
	f.to(StateComplete)
	return nil
}

func (f *Flow) fail(what string, err error) error {
	f.err = fmt.Errorf("%s: %w", what, err)
	f.to(StateReview)
	return f.err
}

func (f *Flow) mappingDict() map[string]string {
	out := make(map[string]string, len(f.mappings))
	for _, m := range f.mappings {
		out[m.Column] = m.Field
	}
	return out
}

// Summary is the completion headline, e.g. "3 operations imported".
func (f *Flow) Summary() string {
	if f.result == nil {
		return ""
	}
	return fmt.Sprintf("%d %s imported", f.result.ImportedCount, f.module.Noun)
}

// Reset discards everything and returns to StateUpload.
func (f *Flow) Reset() {
	f.err, f.table, f.mappings, f.aiProvider, f.pricing = nil, nil, nil, "", nil
	f.unmappedRequired, f.unmappedOptional = nil, nil
	f.validation, f.result = nil, nil
	f.to(StateUpload)
}
