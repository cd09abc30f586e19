package routing

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/models"
	"gorm.io/gorm"
)

const company = "co-1"

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return gdb
}

func seedOp(t *testing.T, gdb *gorm.DB, companyID, name string) models.OperationType {
	t.Helper()
	op := models.OperationType{CompanyID: companyID, Name: name}
	if err := gdb.Create(&op).Error; err != nil {
		t.Fatalf("seed operation type %s: %v", name, err)
	}
	return op
}

func ptr[T any](v T) *T { return &v }

func TestCreate_RequiresName(t *testing.T) {
	gdb := testDB(t)
	_, err := Create(gdb, company, CreateOpts{Name: "  "})
	if db.KindOf(err) != db.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	gdb := testDB(t)
	if _, err := Create(gdb, company, CreateOpts{Name: "Bracket"}); err != nil {
		t.Fatal(err)
	}
	_, err := Create(gdb, company, CreateOpts{Name: "Bracket"})
	if db.KindOf(err) != db.KindDuplicate {
		t.Fatalf("err = %v, want duplicate", err)
	}
	if _, err := Create(gdb, "co-2", CreateOpts{Name: "Bracket"}); err != nil {
		t.Errorf("same name in another company: %v", err)
	}
}

func seedPart(t *testing.T, gdb *gorm.DB, companyID, number string, customerID *string) models.Part {
	t.Helper()
	p := models.Part{CompanyID: companyID, PartNumber: number, CustomerID: customerID}
	if err := gdb.Create(&p).Error; err != nil {
		t.Fatalf("seed part %s: %v", number, err)
	}
	return p
}

func TestCreate_DefaultClearsOtherDefaults(t *testing.T) {
	gdb := testDB(t)
	part := seedPart(t, gdb, company, "P-100", nil)
	first, _ := Create(gdb, company, CreateOpts{Name: "Rev A", PartID: part.ID, IsDefault: true})
	second, err := Create(gdb, company, CreateOpts{Name: "Rev B", PartID: part.ID, IsDefault: true})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := Get(gdb, company, first.ID)
	if got.IsDefault {
		t.Error("first routing should no longer be default")
	}
	got, _ = Get(gdb, company, second.ID)
	if !got.IsDefault {
		t.Error("second routing should be default")
	}

	if _, err := Update(gdb, company, first.ID, UpdateOpts{IsDefault: ptr(true)}); err != nil {
		t.Fatal(err)
	}
	got, _ = Get(gdb, company, second.ID)
	if got.IsDefault {
		t.Error("update to default should clear the other routing")
	}
}

func TestCreate_PartMustBelongToCompany(t *testing.T) {
	gdb := testDB(t)
	other := seedPart(t, gdb, "co-2", "P-100", nil)
	if _, err := Create(gdb, company, CreateOpts{Name: "R", PartID: other.ID}); db.KindOf(err) != db.KindNotFound {
		t.Fatalf("create err = %v, want not found", err)
	}
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	if _, err := Update(gdb, company, r.ID, UpdateOpts{PartID: ptr("missing")}); db.KindOf(err) != db.KindNotFound {
		t.Errorf("update err = %v, want not found", err)
	}
}

func TestResolvePart(t *testing.T) {
	gdb := testDB(t)
	a := models.Customer{CompanyID: company, CustomerCode: "A", Name: "Alpha"}
	b := models.Customer{CompanyID: company, CustomerCode: "B", Name: "Beta"}
	for _, c := range []*models.Customer{&a, &b} {
		if err := gdb.Create(c).Error; err != nil {
			t.Fatal(err)
		}
	}
	brk := seedPart(t, gdb, company, "BRK-100", nil)
	seedPart(t, gdb, company, "SHARED", &a.ID)
	seedPart(t, gdb, company, "SHARED", &b.ID)
	seedPart(t, gdb, "co-2", "ELSEWHERE", nil)

	tests := []struct {
		ref    string
		wantID string
		want   db.Kind
	}{
		{brk.ID, brk.ID, db.KindUnknown},
		{"brk-100", brk.ID, db.KindUnknown},
		{"SHARED", "", db.KindValidation},
		{"ELSEWHERE", "", db.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			id, err := ResolvePart(gdb, company, tt.ref)
			if db.KindOf(err) != tt.want || id != tt.wantID {
				t.Errorf("ResolvePart(%q) = %q, %v; want %q, %v", tt.ref, id, err, tt.wantID, tt.want)
			}
		})
	}
}

func TestGet_OtherCompanyNotFound(t *testing.T) {
	gdb := testDB(t)
	r, _ := Create(gdb, "co-2", CreateOpts{Name: "Theirs"})
	_, err := Get(gdb, company, r.ID)
	if db.KindOf(err) != db.KindNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestList_SearchSortPaginate(t *testing.T) {
	gdb := testDB(t)
	for _, n := range []string{"Bracket", "Shaft", "Bracket v2", "Housing"} {
		if _, err := Create(gdb, company, CreateOpts{Name: n}); err != nil {
			t.Fatal(err)
		}
	}
	Create(gdb, "co-2", CreateOpts{Name: "Bracket other"})

	got, total, err := List(gdb, company, ListFilters{Search: "brack"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("search: total=%d len=%d, want 2", total, len(got))
	}

	got, total, _ = List(gdb, company, ListFilters{Sort: "name", Desc: true, Page: 2, PageSize: 3})
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	if len(got) != 1 || got[0].Name != "Bracket" {
		t.Errorf("page 2 = %v, want [Bracket]", got)
	}
}

func TestDelete_CascadesGraph(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	a, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	b, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	if _, err := AddEdge(gdb, company, r.ID, a.ID, b.ID); err != nil {
		t.Fatal(err)
	}

	if err := Delete(gdb, company, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var nodes, edges int64
	gdb.Model(&models.RoutingNode{}).Count(&nodes)
	gdb.Model(&models.RoutingEdge{}).Count(&edges)
	if nodes != 0 || edges != 0 {
		t.Errorf("left nodes=%d edges=%d, want 0", nodes, edges)
	}
}

func TestDelete_ReferencedByWorkOrder(t *testing.T) {
	gdb := testDB(t)
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	wo := models.WorkOrder{CompanyID: company, WorkOrderNumber: "WO-1", RoutingID: &r.ID}
	if err := gdb.Create(&wo).Error; err != nil {
		t.Fatal(err)
	}
	err := Delete(gdb, company, r.ID)
	if db.KindOf(err) != db.KindConstraint {
		t.Fatalf("err = %v, want constraint", err)
	}
	if !strings.Contains(err.Error(), "referenced by work orders") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestAddNode_OperationTypeMustExistInCompany(t *testing.T) {
	gdb := testDB(t)
	theirs := seedOp(t, gdb, "co-2", "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})

	_, err := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: theirs.ID})
	if db.KindOf(err) != db.KindNotFound {
		t.Fatalf("err = %v, want not found", err)
	}

	ours := seedOp(t, gdb, company, "Cut")
	node, err := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: ours.ID, Position: layout.Point{X: 10, Y: 20}})
	if err != nil {
		t.Fatal(err)
	}
	if node.SetupTime != nil || node.RunTimePerUnit != nil || node.Instructions != nil {
		t.Error("new step should start with blank timing")
	}
	if node.PositionX != 10 || node.PositionY != 20 {
		t.Errorf("position = (%v,%v), want (10,20)", node.PositionX, node.PositionY)
	}
}

func TestUpdateNode_Validation(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	n, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})

	_, err := UpdateNode(gdb, company, r.ID, n.ID, NodeFields{SetupTime: ptr(-1.0)})
	if db.KindOf(err) != db.KindValidation || !strings.Contains(err.Error(), "setup time") {
		t.Fatalf("err = %v, want setup time validation", err)
	}
	_, err = UpdateNode(gdb, company, r.ID, n.ID, NodeFields{RunTimePerUnit: ptr(-0.5)})
	if db.KindOf(err) != db.KindValidation || !strings.Contains(err.Error(), "run time per unit") {
		t.Fatalf("err = %v, want run time validation", err)
	}

	got, err := UpdateNode(gdb, company, r.ID, n.ID, NodeFields{SetupTime: ptr(0.0), RunTimePerUnit: ptr(2.5), Instructions: ptr("   ")})
	if err != nil {
		t.Fatal(err)
	}
	if got.Instructions != nil {
		t.Error("blank instructions should be stored as nil")
	}
	var stored models.RoutingNode
	gdb.First(&stored, "id = ?", n.ID)
	if stored.SetupTime == nil || *stored.SetupTime != 0 || *stored.RunTimePerUnit != 2.5 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestDeleteNode_RemovesOnlyIncidentEdges(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	var ids []string
	for i := 0; i < 4; i++ {
		n, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
		ids = append(ids, n.ID)
	}
	// 0→1, 1→2, 2→3, 0→3
	for _, p := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {0, 3}} {
		if _, err := AddEdge(gdb, company, r.ID, ids[p[0]], ids[p[1]]); err != nil {
			t.Fatal(err)
		}
	}

	if err := DeleteNode(gdb, company, r.ID, ids[1]); err != nil {
		t.Fatal(err)
	}
	g, _ := GetGraph(gdb, company, r.ID)
	if len(g.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(g.Nodes))
	}
	if len(g.Edges) != 2 {
		t.Fatalf("edges = %d, want 2 (2→3 and 0→3)", len(g.Edges))
	}
	for _, e := range g.Edges {
		if e.SourceNodeID == ids[1] || e.TargetNodeID == ids[1] {
			t.Errorf("edge %+v still touches the deleted step", e)
		}
	}
}

func TestAddEdge_Guards(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	other, _ := Create(gdb, company, CreateOpts{Name: "Other"})
	a, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	b, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	c, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	foreign, _ := AddNode(gdb, company, other.ID, AddNodeOpts{OperationTypeID: op.ID})

	if _, err := AddEdge(gdb, company, r.ID, a.ID, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := AddEdge(gdb, company, r.ID, b.ID, c.ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		src, dst string
		kind     db.Kind
	}{
		{"self loop", a.ID, a.ID, db.KindValidation},
		{"duplicate", a.ID, b.ID, db.KindConflict},
		{"cycle", c.ID, a.ID, db.KindValidation},
		{"other routing", a.ID, foreign.ID, db.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AddEdge(gdb, company, r.ID, tt.src, tt.dst)
			if db.KindOf(err) != tt.kind {
				t.Errorf("err = %v, want kind %v", err, tt.kind)
			}
		})
	}
}

func TestDeleteEdges_ContinuesPastFailure(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	a, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	b, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	c, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
	e1, _ := AddEdge(gdb, company, r.ID, a.ID, b.ID)
	e2, _ := AddEdge(gdb, company, r.ID, b.ID, c.ID)

	res := DeleteEdges(gdb, company, r.ID, []string{e1.ID, "missing", e2.ID})
	if len(res.Deleted) != 2 {
		t.Errorf("deleted = %v, want both real edges", res.Deleted)
	}
	if len(res.Failed) != 1 || res.Failed[0].ID != "missing" {
		t.Errorf("failed = %+v, want only the missing edge", res.Failed)
	}
}

func TestComputeTotals(t *testing.T) {
	fields := []NodeFields{
		{SetupTime: ptr(5.0), RunTimePerUnit: ptr(2.0)},
		{SetupTime: ptr(0.0), RunTimePerUnit: ptr(3.0)},
		{}, // no times recorded
	}
	got := ComputeTotals(fields)
	if got.SetupLabel() != "Setup: 5m" {
		t.Errorf("SetupLabel = %q, want %q", got.SetupLabel(), "Setup: 5m")
	}
	if got.RunLabel() != "Run: 5m/unit" {
		t.Errorf("RunLabel = %q, want %q", got.RunLabel(), "Run: 5m/unit")
	}
	if empty := ComputeTotals(nil); empty.SetupLabel() != "Setup: 0m" {
		t.Errorf("empty SetupLabel = %q", empty.SetupLabel())
	}
}

func TestFormatMinutes(t *testing.T) {
	tests := map[float64]string{0: "0", 5: "5", 2.5: "2.5", 0.1 + 0.2: "0.3", 1.005: "1.01"}
	for in, want := range tests {
		if got := FormatMinutes(in); got != want {
			t.Errorf("FormatMinutes(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyPlan_CreatesAndLinksNewSteps(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	existing, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})

	plan := Plan{
		CreateNodes: []NewNode{
			{TempID: "t1", OperationTypeID: op.ID, Fields: NodeFields{SetupTime: ptr(4.0)}},
		},
		UpdateNodes: []NodeUpdate{{ID: existing.ID, Fields: NodeFields{RunTimePerUnit: ptr(1.5)}, Position: layout.Point{X: 5}}},
		CreateEdges: []NewEdge{{Source: Existing(existing.ID), Target: New("t1")}},
	}
	applied, err := ApplyPlan(gdb, company, r.ID, plan)
	if err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	newID := applied.NodeIDs["t1"]
	if newID == "" {
		t.Fatal("temp id t1 not mapped")
	}

	g, _ := GetGraph(gdb, company, r.ID)
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Fatalf("graph = %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
	if g.Edges[0].SourceNodeID != existing.ID || g.Edges[0].TargetNodeID != newID {
		t.Errorf("edge = %+v", g.Edges[0])
	}
}

func TestApplyPlan_RollsBackOnFailure(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	keep, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})

	plan := Plan{
		DeleteNodes: []string{keep.ID},
		CreateNodes: []NewNode{{TempID: "t1", OperationTypeID: "no-such-op"}},
	}
	if _, err := ApplyPlan(gdb, company, r.ID, plan); db.KindOf(err) != db.KindNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
	g, _ := GetGraph(gdb, company, r.ID)
	if len(g.Nodes) != 1 || g.Nodes[0].ID != keep.ID {
		t.Errorf("graph changed after failed plan: %+v", g.Nodes)
	}
}

func TestApplyPlan_UnknownTempRef(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	a, _ := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})

	_, err := ApplyPlan(gdb, company, r.ID, Plan{CreateEdges: []NewEdge{{Source: Existing(a.ID), Target: New("ghost")}}})
	if db.KindOf(err) != db.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestApplyPlan_DeletesEdgesInChunks(t *testing.T) {
	gdb := testDB(t)
	op := seedOp(t, gdb, company, "Cut")
	r, _ := Create(gdb, company, CreateOpts{Name: "R"})
	nodes := make([]*models.RoutingNode, 25)
	for i := range nodes {
		n, err := AddNode(gdb, company, r.ID, AddNodeOpts{OperationTypeID: op.ID})
		if err != nil {
			t.Fatal(err)
		}
		nodes[i] = n
	}
	// Forward links only, so the graph stays acyclic.
	var edgeIDs []string
	for i := range nodes {
		for j := i + 1; j < len(nodes) && len(edgeIDs) < 250; j++ {
			e := models.RoutingEdge{RoutingID: r.ID, SourceNodeID: nodes[i].ID, TargetNodeID: nodes[j].ID}
			if err := gdb.Create(&e).Error; err != nil {
				t.Fatal(err)
			}
			edgeIDs = append(edgeIDs, e.ID)
		}
	}

	deletes := 0
	if err := gdb.Callback().Delete().Before("gorm:delete").Register("test:count_deletes", func(*gorm.DB) {
		deletes++
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := ApplyPlan(gdb, company, r.ID, Plan{DeleteEdges: edgeIDs}); err != nil {
		t.Fatalf("ApplyPlan: %v", err)
	}
	if deletes != 3 {
		t.Errorf("delete statements = %d, want 3", deletes)
	}
	g, _ := GetGraph(gdb, company, r.ID)
	if len(g.Edges) != 0 || len(g.Nodes) != len(nodes) {
		t.Errorf("graph = %d nodes, %d edges; want %d, 0", len(g.Nodes), len(g.Edges), len(nodes))
	}
}

func TestRef_JSON(t *testing.T) {
	var refs []Ref
	if err := json.Unmarshal([]byte(`[{"id":"n-1"},{"temp_id":"t-1"}]`), &refs); err != nil {
		t.Fatal(err)
	}
	if !refs[0].IsExisting() || refs[0].ID() != "n-1" {
		t.Errorf("refs[0] = %v", refs[0])
	}
	if !refs[1].IsNew() || refs[1].ID() != "t-1" {
		t.Errorf("refs[1] = %v", refs[1])
	}

	var bad Ref
	if err := json.Unmarshal([]byte(`{"id":"a","temp_id":"b"}`), &bad); err == nil {
		t.Error("expected error for ref with both ids")
	}
	if err := json.Unmarshal([]byte(`{}`), &bad); err == nil {
		t.Error("expected error for empty ref")
	}
}
