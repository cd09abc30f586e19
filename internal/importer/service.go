package importer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/metrics"
	"github.com/zulandar/jigged/internal/models"
	"github.com/zulandar/jigged/internal/notify"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnalyzeRequest carries the header row and the first data rows of a file.
type AnalyzeRequest struct {
	Headers    []string   `json:"headers" binding:"required,min=1"`
	SampleRows [][]string `json:"sample_rows"`
}

// Mapping is the suggested target of one CSV column; Field is nil for
// columns that will be discarded.
type Mapping struct {
	Column      string  `json:"csv_column"`
	Field       *string `json:"db_field"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	NeedsReview bool    `json:"needs_review"`
}

// AnalyzeResult is the answer to an analyze call.
type AnalyzeResult struct {
	Mappings         []Mapping `json:"mappings"`
	UnmappedRequired []string  `json:"unmapped_required"`
	DiscardedColumns []string  `json:"discarded_columns"`
	AIProvider       string    `json:"ai_provider"`
	Cached           bool      `json:"cached"`
	// PricingColumns are the detected qty/price pairs; they are left out of
	// Mappings and listed in DiscardedColumns.
	PricingColumns []PricingPair `json:"pricing_columns,omitempty"`
}

// ValidateRequest carries the chosen mapping (CSV column to field, "" to
// skip) and every data row keyed by CSV column.
type ValidateRequest struct {
	Mappings     map[string]string   `json:"mappings" binding:"required"`
	Rows         []map[string]string `json:"rows"`
	CreateGroups bool                `json:"create_groups"`

	PricingColumns []PricingPair `json:"pricing_columns,omitempty"`
	// CustomerMatchMode defaults to MatchByColumn when customer_code is
	// mapped and MatchGeneric otherwise.
	CustomerMatchMode  CustomerMatchMode `json:"customer_match_mode,omitempty"`
	SelectedCustomerID string            `json:"selected_customer_id,omitempty"`
}

// RowError is a row that cannot be imported as written.
type RowError struct {
	RowNumber int    `json:"row_number"`
	ErrorType string `json:"error_type"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

// Conflict is a row that collides with another row or a stored record.
type Conflict struct {
	RowNumber    int    `json:"row_number"`
	ConflictType string `json:"conflict_type"`
	Field        string `json:"field"`
	Value        string `json:"value"`
	ExistingID   string `json:"existing_id,omitempty"`
	Message      string `json:"message"`
}

// ValidateResult summarizes what an import would do. Row numbers start at 1
// with the first data row.
type ValidateResult struct {
	HasConflicts      bool       `json:"has_conflicts"`
	Conflicts         []Conflict `json:"conflicts"`
	ValidationErrors  []RowError `json:"validation_errors"`
	ValidRowsCount    int        `json:"valid_rows_count"`
	ConflictRowsCount int        `json:"conflict_rows_count"`
	ErrorRowsCount    int        `json:"error_rows_count"`
	SkippedRowsCount  int        `json:"skipped_rows_count"`
	GroupsToCreate    []string   `json:"groups_to_create"`
}

// ExecuteRequest is a ValidateRequest plus the conflict policy.
type ExecuteRequest struct {
	ValidateRequest
	SkipConflicts bool `json:"skip_conflicts"`
}

// ExecuteResult reports an import.
type ExecuteResult struct {
	Success       bool       `json:"success"`
	ImportedCount int        `json:"imported_count"`
	SkippedCount  int        `json:"skipped_count"`
	GroupsCreated int        `json:"groups_created"`
	Errors        []RowError `json:"errors"`
}

// Service runs the analyze, validate and execute steps.
type Service struct {
	DB         *gorm.DB
	Providers  ProviderSource
	Cache      *Cache
	Limiter    *limiter.Limiter
	Notifier   notify.Notifier
	Log        *logrus.Entry
	SampleRows int
}

func (s *Service) logger() *logrus.Entry {
	if s.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return s.Log
}

// Analyze suggests a field for every column. Identical header sets for a
// company are answered from the cache; otherwise the call counts against
// the company's rate limit.
func (s *Service) Analyze(ctx context.Context, m *Module, companyID string, req AnalyzeRequest) (*AnalyzeResult, error) {
	if len(req.Headers) == 0 {
		return nil, db.Validation("at least one header is required")
	}
	key := CacheKey(m.Name, companyID, req.Headers)
	if s.Cache != nil {
		if res, ok := s.Cache.Get(key); ok {
			res.Cached = true
			metrics.AnalyzeRequest(m.Name, "cache")
			return res, nil
		}
	}
	if err := allow(ctx, s.Limiter, companyID); err != nil {
		metrics.AnalyzeRequest(m.Name, "limited")
		return nil, err
	}

	samples := req.SampleRows
	if n := s.SampleRows; n > 0 && len(samples) > n {
		samples = samples[:n]
	}
	headers := req.Headers
	var pairs []PricingPair
	priced := map[string]bool{}
	if m.Pricing {
		pairs = DetectPricingPairs(req.Headers)
		for _, p := range pairs {
			priced[p.QtyColumn], priced[p.PriceColumn] = true, true
		}
		if len(priced) > 0 {
			headers = slices.DeleteFunc(slices.Clone(req.Headers), func(h string) bool { return priced[h] })
			samples = subsetSamples(req.Headers, samples, headers)
		}
	}
	resolved, uncertain := Classify(m, headers, samples)

	var overflow []string
	if len(uncertain) > MaxAIColumns {
		uncertain, overflow = uncertain[:MaxAIColumns], uncertain[MaxAIColumns:]
	}

	source, counted := "rule-based", "rules"
	var suggestions []Suggestion
	if len(uncertain) > 0 {
		sub := subsetSamples(headers, samples, uncertain)
		var provider Provider = Builtin{}
		if s.Providers != nil {
			provider = s.Providers.For(ctx, companyID)
		}
		var err error
		suggestions, err = provider.Suggest(ctx, m, uncertain, sub)
		source, counted = "hybrid ("+provider.Name()+")", provider.Name()
		if err != nil {
			s.logger().WithError(err).WithField("provider", provider.Name()).Warn("mapping provider failed; using builtin")
			suggestions, _ = Builtin{}.Suggest(ctx, m, uncertain, sub)
			source, counted = "hybrid (builtin fallback)", "fallback"
		}
	}

	res := &AnalyzeResult{AIProvider: source, UnmappedRequired: []string{}, DiscardedColumns: []string{}, PricingColumns: pairs}
	byColumn := make(map[string]Mapping, len(req.Headers))
	for _, c := range resolved {
		byColumn[c.Column] = mappingOf(c.Column, c.Field, c.Confidence, c.Reasoning)
	}
	for _, sg := range suggestions {
		field := ""
		if sg.Field != nil {
			field = *sg.Field
		}
		byColumn[sg.Column] = mappingOf(sg.Column, field, sg.Confidence, sg.Reasoning+" (AI)")
	}
	for _, col := range overflow {
		byColumn[col] = mappingOf(col, "", 0.6, fmt.Sprintf("Auto-skip: column limit exceeded (max %d)", MaxAIColumns))
	}

	mapped := map[string]bool{}
	for _, h := range req.Headers {
		if priced[h] {
			res.DiscardedColumns = append(res.DiscardedColumns, h)
			continue
		}
		mp, ok := byColumn[h]
		if !ok {
			continue
		}
		res.Mappings = append(res.Mappings, mp)
		if mp.Field == nil {
			res.DiscardedColumns = append(res.DiscardedColumns, h)
		} else {
			mapped[*mp.Field] = true
		}
	}
	for _, f := range m.RequiredFields() {
		if !mapped[f] {
			res.UnmappedRequired = append(res.UnmappedRequired, f)
		}
	}

	metrics.AnalyzeRequest(m.Name, counted)
	if s.Cache != nil {
		s.Cache.Put(key, res)
	}
	return res, nil
}

func mappingOf(column, field string, confidence float64, reasoning string) Mapping {
	mp := Mapping{
		Column:      column,
		Confidence:  confidence,
		Reasoning:   reasoning,
		NeedsReview: confidence < ReviewThreshold,
	}
	if field != "" {
		mp.Field = &field
	}
	return mp
}

func subsetSamples(headers []string, samples [][]string, keep []string) [][]string {
	idx := make([]int, len(keep))
	for i, k := range keep {
		idx[i] = slices.Index(headers, k)
	}
	out := make([][]string, len(samples))
	for r, row := range samples {
		out[r] = make([]string, len(idx))
		for i, j := range idx {
			if j >= 0 && j < len(row) {
				out[r][i] = row[j]
			}
		}
	}
	return out
}

// plan is a validated import: records ready to insert and the rows left out.
type plan struct {
	result  ValidateResult
	records []Record
	skip    map[int]bool
}

// Validate reports missing required values, invalid numbers, duplicates
// within the file and against stored records, and the resource groups an
// import would create.
func (s *Service) Validate(ctx context.Context, m *Module, companyID string, req ValidateRequest) (*ValidateResult, error) {
	p, err := s.check(ctx, m, companyID, req)
	if err != nil {
		return nil, err
	}
	return &p.result, nil
}

func (s *Service) check(ctx context.Context, m *Module, companyID string, req ValidateRequest) (*plan, error) {
	columnOf := map[string]string{}
	for col, field := range req.Mappings {
		if field == "" {
			continue
		}
		if _, ok := m.Field(field); !ok {
			return nil, db.Validation("unknown %s field %q", m.Name, field)
		}
		if prev, dup := columnOf[field]; dup {
			return nil, db.Validation("columns %q and %q both map to %s", prev, col, field)
		}
		columnOf[field] = col
	}

	existing, err := m.existing(ctx, s.DB, companyID)
	if err != nil {
		return nil, err
	}
	groups := map[string]string{}
	if m.GroupField != "" && req.CreateGroups {
		if groups, err = existingGroups(ctx, s.DB, companyID); err != nil {
			return nil, err
		}
	}

	records := make([]Record, len(req.Rows))
	for i, row := range req.Rows {
		rec := Record{}
		for field, col := range columnOf {
			if v := strings.TrimSpace(row[col]); v != "" {
				rec[field] = v
			}
		}
		records[i] = rec
	}

	match, err := s.matchCustomers(ctx, m, companyID, req, columnOf)
	if err != nil {
		return nil, err
	}
	// owner is each row's customer id, "" for generic rows.
	owner := make([]string, len(records))
	unknownCode := map[int]string{}
	if match != nil {
		for i, rec := range records {
			id, ok := match.of(rec)
			if !ok {
				unknownCode[i+1] = rec["customer_code"]
				id = "?" + strings.ToLower(rec["customer_code"])
			}
			owner[i] = id
		}
	}
	key := func(i int, v string) string {
		if !m.CustomerScoped {
			return v
		}
		return scopedKey(v, owner[i])
	}

	occurrences := map[string]map[string][]int{}
	for _, f := range m.Unique {
		occurrences[f] = map[string][]int{}
		for i, rec := range records {
			if v := strings.ToLower(rec[f]); v != "" {
				k := key(i, v)
				occurrences[f][k] = append(occurrences[f][k], i+1)
			}
		}
	}

	p := &plan{records: records, skip: map[int]bool{}}
	res := &p.result
	res.Conflicts, res.ValidationErrors, res.GroupsToCreate = []Conflict{}, []RowError{}, []string{}
	errRows, conflictRows := map[int]bool{}, map[int]bool{}
	newGroups := map[string]bool{}

rows:
	for i, rec := range records {
		n := i + 1
		for _, f := range m.Fields {
			if f.Required && rec[f.Name] == "" {
				res.ValidationErrors = append(res.ValidationErrors, RowError{
					RowNumber: n, ErrorType: "missing_" + f.Name, Field: f.Name,
					Message: f.Label() + " is required",
				})
				errRows[n] = true
				continue rows
			}
		}
		for _, f := range m.Fields {
			v, ok := rec[f.Name]
			if !ok || f.Type != Number {
				continue
			}
			d, err := parseAmount(v)
			if err != nil || d.IsNegative() {
				msg := fmt.Sprintf("Invalid %s: '%s'", strings.ToLower(f.Label()), v)
				if err == nil {
					msg = f.Label() + " cannot be negative"
				}
				res.ValidationErrors = append(res.ValidationErrors, RowError{
					RowNumber: n, ErrorType: f.InvalidType, Field: f.Name, Message: msg,
				})
				errRows[n] = true
				continue rows
			}
			rec[f.Name] = d.Round(2).String()
		}
		if code, ok := unknownCode[n]; ok {
			res.Conflicts = append(res.Conflicts, Conflict{
				RowNumber: n, ConflictType: "customer_not_found", Field: "customer_code", Value: code,
				Message: fmt.Sprintf("Customer code '%s' not found", code),
			})
			conflictRows[n] = true
			continue rows
		}
		for _, f := range m.Unique {
			v := strings.ToLower(rec[f])
			if v == "" {
				continue
			}
			v = key(i, v)
			if others := occurrences[f][v]; len(others) > 1 && others[0] != n {
				res.Conflicts = append(res.Conflicts, Conflict{
					RowNumber: n, ConflictType: "csv_duplicate_" + f, Field: f, Value: rec[f],
					Message: fmt.Sprintf("Duplicate %s in CSV at row %d", strings.ReplaceAll(f, "_", " "), others[0]),
				})
				conflictRows[n] = true
			}
			if id, ok := existing[f][v]; ok {
				field, _ := m.Field(f)
				res.Conflicts = append(res.Conflicts, Conflict{
					RowNumber: n, ConflictType: "duplicate_" + f, Field: f, Value: rec[f], ExistingID: id,
					Message: fmt.Sprintf("%s '%s' already exists", field.Label(), rec[f]),
				})
				conflictRows[n] = true
			}
		}
		if owner[i] != "" {
			rec["customer_id"] = owner[i]
		}
		if m.Pricing {
			rec["pricing"] = pricingJSON(PriceTiers(req.Rows[i], req.PricingColumns))
		}
		if g := rec[m.GroupField]; m.GroupField != "" && req.CreateGroups && g != "" && !conflictRows[n] {
			if _, ok := groups[strings.ToLower(g)]; !ok && !newGroups[strings.ToLower(g)] {
				newGroups[strings.ToLower(g)] = true
				res.GroupsToCreate = append(res.GroupsToCreate, g)
			}
		}
	}

	for n := range errRows {
		p.skip[n] = true
	}
	for n := range conflictRows {
		p.skip[n] = true
	}
	slices.Sort(res.GroupsToCreate)
	res.HasConflicts = len(res.Conflicts) > 0
	res.ErrorRowsCount = len(errRows)
	res.ConflictRowsCount = len(conflictRows)
	res.SkippedRowsCount = len(p.skip)
	res.ValidRowsCount = len(records) - len(p.skip)
	return p, nil
}

// customerMatch resolves the customer of each row of a customer-scoped
// import.
type customerMatch struct {
	mode     CustomerMatchMode
	selected string
	byCode   map[string]string
}

// of returns rec's customer id, "" for a generic row, and false when the
// row names a customer code the company does not have.
func (c *customerMatch) of(rec Record) (string, bool) {
	switch c.mode {
	case MatchAllToOne:
		return c.selected, true
	case MatchByColumn:
		code := strings.ToLower(rec["customer_code"])
		if code == "" {
			return "", true
		}
		id, ok := c.byCode[code]
		return id, ok
	}
	return "", true
}

func (s *Service) matchCustomers(ctx context.Context, m *Module, companyID string, req ValidateRequest, columnOf map[string]string) (*customerMatch, error) {
	if !m.CustomerScoped {
		return nil, nil
	}
	mode := CustomerMatchMode(strings.ToLower(string(req.CustomerMatchMode)))
	if mode == "" {
		mode = MatchGeneric
		if _, ok := columnOf["customer_code"]; ok {
			mode = MatchByColumn
		}
	}
	c := &customerMatch{mode: mode}
	switch mode {
	case MatchGeneric:
	case MatchAllToOne:
		if req.SelectedCustomerID == "" {
			return nil, db.Validation("selected_customer_id is required when customer_match_mode is %s", MatchAllToOne)
		}
		var n int64
		if err := s.DB.WithContext(ctx).Model(&models.Customer{}).Scopes(db.ForCompany(companyID)).
			Where("id = ?", req.SelectedCustomerID).Count(&n).Error; err != nil {
			return nil, db.Wrap("get", "customer", err)
		}
		if n == 0 {
			return nil, db.Validation("selected customer not found")
		}
		c.selected = req.SelectedCustomerID
	case MatchByColumn:
		c.byCode = map[string]string{}
		err := db.ReadAll(ctx, s.DB.Model(&models.Customer{}).Scopes(db.ForCompany(companyID)).Select("id", "customer_code"),
			db.ReadPageSize, func(batch []models.Customer) error {
				for _, cu := range batch {
					c.byCode[strings.ToLower(cu.CustomerCode)] = cu.ID
				}
				return nil
			})
		if err != nil {
			return nil, err
		}
	default:
		return nil, db.Validation("unknown customer_match_mode %q", req.CustomerMatchMode)
	}
	return c, nil
}

// scopedKey joins a lowercased unique value and its customer id.
func scopedKey(value, customerID string) string {
	return value + "\x00" + customerID
}

// Execute re-validates and imports the valid rows in one transaction. It
// refuses to run while conflicts exist unless SkipConflicts is set.
func (s *Service) Execute(ctx context.Context, m *Module, companyID string, req ExecuteRequest) (*ExecuteResult, error) {
	p, err := s.check(ctx, m, companyID, req.ValidateRequest)
	if err != nil {
		return nil, err
	}
	if p.result.HasConflicts && !req.SkipConflicts {
		return nil, db.Validation("conflicts detected; set skip_conflicts to import non-conflicting rows only")
	}

	var keep []Record
	for i, rec := range p.records {
		if !p.skip[i+1] {
			keep = append(keep, rec)
		}
	}

	out := &ExecuteResult{SkippedCount: len(p.skip), Errors: p.result.ValidationErrors}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groups := map[string]string{}
		if m.GroupField != "" {
			var err error
			if groups, err = existingGroups(ctx, tx, companyID); err != nil {
				return err
			}
			if req.CreateGroups {
				created, err := createGroups(tx, companyID, p.result.GroupsToCreate, groups)
				if err != nil {
					return err
				}
				out.GroupsCreated = created
			}
		}
		n, err := m.insert(tx, companyID, keep, groups)
		if err != nil {
			return err
		}
		out.ImportedCount = n
		return nil
	})
	if err != nil {
		return nil, db.Wrap("import", m.Name, err)
	}
	out.Success = true

	metrics.ImportRows(m.Name, "imported", out.ImportedCount)
	metrics.ImportRows(m.Name, "skipped", out.SkippedCount)
	s.logger().WithFields(logrus.Fields{
		"module": m.Name, "company_id": companyID,
		"imported": out.ImportedCount, "skipped": out.SkippedCount, "groups_created": out.GroupsCreated,
	}).Info("import complete")
	s.announce(ctx, m, out)
	return out, nil
}

func (s *Service) announce(ctx context.Context, m *Module, out *ExecuteResult) {
	if s.Notifier == nil {
		return
	}
	msg := notify.Message{
		Title:    fmt.Sprintf("%d %s imported", out.ImportedCount, m.Noun),
		Severity: "success",
		Fields: []notify.Field{
			{Name: "Skipped", Value: fmt.Sprint(out.SkippedCount), Short: true},
			{Name: "Groups created", Value: fmt.Sprint(out.GroupsCreated), Short: true},
		},
	}
	if out.SkippedCount > 0 {
		msg.Severity = "warning"
	}
	if err := s.Notifier.Notify(ctx, msg); err != nil {
		s.logger().WithError(err).Warn("import notification failed")
	}
}

// existingGroups maps lowercased resource group names to ids.
func existingGroups(ctx context.Context, gdb *gorm.DB, companyID string) (map[string]string, error) {
	out := map[string]string{}
	err := db.ReadAll(ctx, gdb.Model(&models.ResourceGroup{}).Scopes(db.ForCompany(companyID)).Select("id", "name"),
		db.ReadPageSize, func(batch []models.ResourceGroup) error {
			for _, g := range batch {
				out[strings.ToLower(g.Name)] = g.ID
			}
			return nil
		})
	return out, err
}

// createGroups inserts the named groups after the company's current last
// display position and records their ids in groups.
func createGroups(tx *gorm.DB, companyID string, names []string, groups map[string]string) (int, error) {
	var last int
	if err := tx.Model(&models.ResourceGroup{}).Scopes(db.ForCompany(companyID)).
		Select("COALESCE(MAX(display_order), 0)").Scan(&last).Error; err != nil {
		return 0, err
	}
	var rows []models.ResourceGroup
	for _, name := range names {
		if _, ok := groups[strings.ToLower(name)]; ok {
			continue
		}
		last++
		rows = append(rows, models.ResourceGroup{CompanyID: companyID, Name: name, DisplayOrder: last})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return 0, err
	}
	for _, g := range rows {
		groups[strings.ToLower(g.Name)] = g.ID
	}
	return len(rows), nil
}
