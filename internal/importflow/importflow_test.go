package importflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
	"github.com/zulandar/jigged/internal/importer"
)

var ctx = context.Background()

func ptr(s string) *string { return &s }

type fakeRemote struct {
	analyze     *importer.AnalyzeResult
	analyzeErr  error
	validateErr error
	executeErr  error

	calls    []string
	analyzed importer.AnalyzeRequest
	executed importer.ExecuteRequest
}

func (f *fakeRemote) Analyze(_ context.Context, module string, req importer.AnalyzeRequest) (*importer.AnalyzeResult, error) {
	f.calls = append(f.calls, module+"/analyze")
	f.analyzed = req
	return f.analyze, f.analyzeErr
}

func (f *fakeRemote) Validate(_ context.Context, module string, req importer.ValidateRequest) (*importer.ValidateResult, error) {
	f.calls = append(f.calls, module+"/validate")
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &importer.ValidateResult{ValidRowsCount: len(req.Rows)}, nil
}

func (f *fakeRemote) Execute(_ context.Context, module string, req importer.ExecuteRequest) (*importer.ExecuteResult, error) {
	f.calls = append(f.calls, module+"/execute")
	f.executed = req
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return &importer.ExecuteResult{Success: true, ImportedCount: len(req.Rows)}, nil
}

func nameRate() *importer.AnalyzeResult {
	return &importer.AnalyzeResult{
		Mappings: []importer.Mapping{
			{Column: "Name", Field: ptr("name"), Confidence: 1},
			{Column: "Rate", Field: ptr("labor_rate"), Confidence: 0.95},
		},
		AIProvider: "rule-based",
	}
}

const threeRows = "Name,Rate\nMill,135\nLathe,90\nEDM,110\n"

func TestFlow_EndToEnd(t *testing.T) {
	remote := &fakeRemote{analyze: nameRate()}
	var seen []State
	f := New(importer.Operations, remote, WithObserver(func(_, to State) { seen = append(seen, to) }))

	if err := f.Upload(ctx, "ops.csv", strings.NewReader(threeRows), int64(len(threeRows))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if f.State() != StateReview {
		t.Fatalf("state = %s, want review", f.State())
	}
	if got := f.UnmappedRequired(); len(got) != 0 {
		t.Errorf("UnmappedRequired = %v, want none", got)
	}
	if !f.CanProceed() {
		t.Fatal("CanProceed = false, want true")
	}
	if err := f.Proceed(ctx); err != nil {
		t.Fatalf("Proceed: %v", err)
	}

	want := []State{StateAnalyzing, StateReview, StateValidating, StateImporting, StateComplete}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("transitions = %v, want %v", seen, want)
	}
	if got := f.Summary(); got != "3 operations imported" {
		t.Errorf("Summary = %q", got)
	}
	if r := f.Result(); r.SkippedCount != 0 || r.GroupsCreated != 0 {
		t.Errorf("result = %+v, want nothing skipped or created", r)
	}
	if !remote.executed.SkipConflicts || remote.executed.CreateGroups {
		t.Errorf("execute request = %+v, want skip_conflicts and no group creation", remote.executed)
	}
	if got := remote.executed.Rows[1]; got["Name"] != "Lathe" || got["Rate"] != "90" {
		t.Errorf("row 2 = %v, want header-keyed Lathe/90", got)
	}
}

func TestFlow_PartsCarryPricingAndCustomer(t *testing.T) {
	remote := &fakeRemote{analyze: &importer.AnalyzeResult{
		Mappings:         []importer.Mapping{{Column: "Part", Field: ptr("part_number"), Confidence: 1}},
		PricingColumns:   []importer.PricingPair{{QtyColumn: "Qty1", PriceColumn: "Price1"}},
		DiscardedColumns: []string{"Qty1", "Price1"},
	}}
	f := New(importer.Parts, remote, WithCustomerMatch(importer.MatchAllToOne, "cust-1"))
	csv := "Part,Qty1,Price1\nBRK-100,10,2.50\n"
	if err := f.Upload(ctx, "parts.csv", strings.NewReader(csv), int64(len(csv))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := f.Pricing(); len(got) != 1 || got[0].QtyColumn != "Qty1" {
		t.Errorf("Pricing = %+v", got)
	}
	if err := f.Proceed(ctx); err != nil {
		t.Fatalf("Proceed: %v", err)
	}
	req := remote.executed
	if req.CustomerMatchMode != importer.MatchAllToOne || req.SelectedCustomerID != "cust-1" {
		t.Errorf("customer match = %q/%q", req.CustomerMatchMode, req.SelectedCustomerID)
	}
	if len(req.PricingColumns) != 1 || req.Rows[0]["Price1"] != "2.50" {
		t.Errorf("execute request = %+v, want pricing pair and raw price cells", req)
	}
}

func TestFlow_SendsAtMostFiveSamples(t *testing.T) {
	remote := &fakeRemote{analyze: nameRate()}
	f := New(importer.Operations, remote)
	csv := "Name,Rate\n" + strings.Repeat("Mill,1\n", 8)
	if err := f.Upload(ctx, "ops.csv", strings.NewReader(csv), int64(len(csv))); err != nil {
		t.Fatal(err)
	}
	if n := len(remote.analyzed.SampleRows); n != SampleRows {
		t.Errorf("sample rows = %d, want %d", n, SampleRows)
	}
}

func TestFlow_UploadRejectionsStayInUpload(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		size    int64
		want    error
	}{
		{"too large", "big.csv", "Name\nx\n", MaxFileBytes + 1, ErrTooLarge},
		{"header only", "ops.csv", "Name,Rate\n", 10, ErrNoData},
		{"blank lines only", "ops.csv", "Name,Rate\n,\n\n", 10, ErrNoData},
		{"wrong type", "ops.pdf", "Name\nx\n", 7, ErrUnsupported},
		{"duplicate header", "ops.csv", "Name,Rate,name\nMill,135,x\n", 30, ErrHeaders},
		{"blank header", "ops.csv", "Name,,Rate\nMill,x,135\n", 30, ErrHeaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{analyze: nameRate()}
			f := New(importer.Operations, remote)
			err := f.Upload(ctx, tt.file, strings.NewReader(tt.content), tt.size)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if f.State() != StateUpload || len(remote.calls) != 0 {
				t.Errorf("state = %s, calls = %v; want upload with no remote calls", f.State(), remote.calls)
			}
		})
	}
}

func TestFlow_AnalysisFailureReturnsToUpload(t *testing.T) {
	f := New(importer.Operations, &fakeRemote{analyzeErr: errors.New("503")})
	err := f.Upload(ctx, "ops.csv", strings.NewReader(threeRows), 10)
	if err == nil || f.State() != StateUpload || f.Err() == nil {
		t.Fatalf("err = %v, state = %s; want failure in upload", err, f.State())
	}
}

func TestFlow_ManualMappingRecomputesUnmapped(t *testing.T) {
	remote := &fakeRemote{analyze: &importer.AnalyzeResult{Mappings: []importer.Mapping{
		{Column: "Machine", Confidence: 0.3, NeedsReview: true},
		{Column: "Rate", Field: ptr("labor_rate"), Confidence: 0.95},
	}}}
	f := New(importer.Operations, remote)
	csv := "Machine,Rate\nMill,135\n"
	if err := f.Upload(ctx, "ops.csv", strings.NewReader(csv), 10); err != nil {
		t.Fatal(err)
	}
	if got := f.UnmappedRequired(); !reflect.DeepEqual(got, []string{"name"}) {
		t.Fatalf("UnmappedRequired = %v, want [name]", got)
	}
	if f.CanProceed() {
		t.Fatal("CanProceed with a required field unmapped")
	}
	if err := f.Proceed(ctx); err == nil {
		t.Fatal("Proceed should refuse while name is unmapped")
	}

	if err := f.SetMapping("Machine", "name"); err != nil {
		t.Fatal(err)
	}
	if got := f.UnmappedRequired(); len(got) != 0 {
		t.Errorf("UnmappedRequired = %v, want none", got)
	}
	m := f.Mappings()[0]
	if !m.Manual || m.NeedsReview {
		t.Errorf("mapping = %+v, want manual and reviewed", m)
	}
	for _, opt := range f.UnmappedOptional() {
		if opt == "labor_rate" {
			t.Error("labor_rate listed as unmapped")
		}
	}

	if err := f.SetMapping("Rate", "name"); err != nil {
		t.Fatal(err)
	}
	if f.Mappings()[0].Field != "" {
		t.Errorf("Machine still mapped to name after Rate took it")
	}
	if err := f.SetMapping("Rate", "colour"); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestFlow_RemoteFailuresReturnToReview(t *testing.T) {
	for _, remote := range []*fakeRemote{
		{analyze: nameRate(), validateErr: errors.New("boom")},
		{analyze: nameRate(), executeErr: &RemoteError{Status: 409, Message: "conflict"}},
	} {
		f := New(importer.Operations, remote)
		if err := f.Upload(ctx, "ops.csv", strings.NewReader(threeRows), 10); err != nil {
			t.Fatal(err)
		}
		if err := f.Proceed(ctx); err == nil {
			t.Fatal("Proceed succeeded")
		}
		if f.State() != StateReview || f.Err() == nil {
			t.Errorf("state = %s err = %v, want review with error", f.State(), f.Err())
		}
		if f.Result() != nil {
			t.Error("result set after failure")
		}
	}
}

func TestReadTable_CSV(t *testing.T) {
	in := "\xEF\xBB\xBF Name ,Rate\nMill\n\n,\nLathe,90,extra\n"
	tbl, err := ReadTable("OPS.CSV", strings.NewReader(in), int64(len(in)))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tbl.Headers, []string{"Name", "Rate"}) {
		t.Errorf("headers = %q", tbl.Headers)
	}
	want := [][]string{{"Mill", ""}, {"Lathe", "90"}}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("rows = %q, want %q", tbl.Rows, want)
	}
}

func TestReadTable_UndeclaredSizeStillCapped(t *testing.T) {
	big := "Name\n" + strings.Repeat("x\n", MaxFileBytes/2+1)
	_, err := ReadTable("big.csv", strings.NewReader(big), 0)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestReadTable_XLSX(t *testing.T) {
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	for i, row := range [][]any{{"Name", "Rate"}, {"Mill", 135}, {"Lathe", 90}} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		t.Fatal(err)
	}

	tbl, err := ReadTable("ops.xlsx", &buf, int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[0][1] != "135" {
		t.Errorf("rows = %q", tbl.Rows)
	}
}

func TestHTTPRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/operations/import/analyze":
			var req importer.AnalyzeRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			_ = json.NewEncoder(w).Encode(importer.AnalyzeResult{AIProvider: "rule-based", DiscardedColumns: req.Headers})
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests","kind":"rate_limited"}`))
		}
	}))
	defer srv.Close()

	h := NewHTTPRemote(srv.URL+"/", "tok")
	res, err := h.Analyze(ctx, "operations", importer.AnalyzeRequest{Headers: []string{"Foo"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.AIProvider != "rule-based" || res.DiscardedColumns[0] != "Foo" {
		t.Errorf("result = %+v", res)
	}

	_, err = h.Validate(ctx, "operations", importer.ValidateRequest{})
	var re *RemoteError
	if !errors.As(err, &re) || re.Status != http.StatusTooManyRequests || re.Kind != "rate_limited" {
		t.Errorf("err = %#v, want 429 remote error", err)
	}
}
