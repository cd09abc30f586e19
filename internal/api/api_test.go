package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/attachments"
	"github.com/zulandar/jigged/internal/authz"
	"github.com/zulandar/jigged/internal/config"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/importer"
	"github.com/zulandar/jigged/internal/importflow"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/logging"
	"github.com/zulandar/jigged/internal/models"
	"github.com/zulandar/jigged/internal/routing"
	"github.com/zulandar/jigged/internal/workflow"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const secret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	h         http.Handler
	db        *gorm.DB
	tokens    *accounts.Tokens
	accounts  *accounts.Service
	companyID string
}

func newFixture(t *testing.T, tweak ...func(*StartOpts)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	co, err := db.SeedCompany(gdb, "Acme Machining")
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := accounts.NewTokens(secret)
	if err != nil {
		t.Fatal(err)
	}
	az, err := authz.New(nil, logrus.NewEntry(logging.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	store, err := attachments.NewLocalStore(t.TempDir(), "http://api.test", secret)
	if err != nil {
		t.Fatal(err)
	}
	acct := &accounts.Service{DB: gdb, Tokens: tokens, Cost: bcrypt.MinCost}
	opts := StartOpts{
		DB:             gdb,
		Tokens:         tokens,
		Authz:          az,
		Accounts:       acct,
		Imports:        &importer.Service{DB: gdb},
		Attachments:    &attachments.Service{DB: gdb, Store: store},
		Files:          store,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	h, err := NewHandler(opts)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &fixture{h: h, db: gdb, tokens: tokens, accounts: acct, companyID: co.ID}
}

func (f *fixture) token(t *testing.T, role string) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(accounts.Principal{Subject: "u-test", CompanyID: f.companyID, Role: role, Kind: accounts.KindMember}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) errorBody {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	e := decode[errorBody](t, w)
	if e.Kind != kind {
		t.Errorf("kind = %q, want %q (error %q)", e.Kind, kind, e.Error)
	}
	return e
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "jigged_http_requests_total") {
		t.Errorf("metrics status = %d, missing request counter", w.Code)
	}
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/customers", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestAuth_RequiresValidBearerToken(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(t, http.MethodGet, "/api/customers", "", nil), http.StatusUnauthorized, kindUnauthenticated)
	expectError(t, f.do(t, http.MethodGet, "/api/customers", "not-a-jwt", nil), http.StatusUnauthorized, kindUnauthenticated)
}

func TestLogin_TokenOpensTeamEndpoints(t *testing.T) {
	f := newFixture(t)
	_, temp, err := f.accounts.CreateMember(t.Context(), f.companyID, accounts.CreateMemberInput{Email: "ana@example.com", Role: models.RoleAdmin})
	if err != nil {
		t.Fatal(err)
	}

	expectError(t, f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ana@example.com", "password": "wrong"}),
		http.StatusUnauthorized, kindUnauthenticated)

	w := f.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ana@example.com", "password": temp})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	sess := decode[accounts.Session](t, w)

	w = f.do(t, http.MethodGet, "/api/team/members", sess.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("members status = %d", w.Code)
	}
	if got := decode[[]accounts.Member](t, w); len(got) != 1 || !got[0].MustChangePassword {
		t.Errorf("members = %+v, want one member who must change password", got)
	}

	w = f.do(t, http.MethodPost, "/api/auth/password", sess.Token, gin.H{"current_password": temp, "new_password": "s3cure-enough"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("change password status = %d: %s", w.Code, w.Body.String())
	}
}

func TestCustomers_CRUDAndErrorKinds(t *testing.T) {
	f := newFixture(t)
	admin, viewer := f.token(t, models.RoleAdmin), f.token(t, models.RoleViewer)

	w := f.do(t, http.MethodPost, "/api/customers", admin, gin.H{"customer_code": "C-100", "name": "Boeing"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.Customer](t, w)
	if created.CompanyID != f.companyID || created.Country != "USA" {
		t.Errorf("created = %+v, want tenant-owned with default country", created)
	}

	expectError(t, f.do(t, http.MethodPost, "/api/customers", admin, gin.H{"customer_code": "C-100", "name": "Dup"}),
		http.StatusConflict, "duplicate")
	expectError(t, f.do(t, http.MethodPost, "/api/customers", viewer, gin.H{"customer_code": "C-200", "name": "X"}),
		http.StatusForbidden, "permission_denied")
	expectError(t, f.do(t, http.MethodPatch, "/api/customers/"+created.ID, admin, gin.H{"company_id": "other"}),
		http.StatusBadRequest, "validation")
	expectError(t, f.do(t, http.MethodGet, "/api/customers/missing", viewer, nil), http.StatusNotFound, "not_found")

	w = f.do(t, http.MethodPatch, "/api/customers/"+created.ID, admin, gin.H{"city": "Wichita"})
	if got := decode[models.Customer](t, w); w.Code != http.StatusOK || got.City != "Wichita" {
		t.Errorf("patch = %d %+v", w.Code, got)
	}

	w = f.do(t, http.MethodGet, "/api/customers?search=boe", viewer, nil)
	page := decode[struct {
		Items []models.Customer `json:"items"`
		Total int64             `json:"total"`
	}](t, w)
	if page.Total != 1 || len(page.Items) != 1 {
		t.Errorf("list = %+v", page)
	}

	w = f.do(t, http.MethodPost, "/api/customers/batch-delete", admin, gin.H{"ids": []string{created.ID, "missing"}})
	res := decode[batchResponse](t, w)
	if len(res.Deleted) != 1 || len(res.Failed) != 1 || res.Failed[0].Kind != "not_found" {
		t.Errorf("batch delete = %+v", res)
	}
}

func createOperationType(t *testing.T, f *fixture, token, name string) models.OperationType {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/operation-types", token, gin.H{"name": name, "labor_rate": "95.50"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create operation type status = %d: %s", w.Code, w.Body.String())
	}
	return decode[models.OperationType](t, w)
}

type graphBody struct {
	Routing models.Routing       `json:"routing"`
	Nodes   []models.RoutingNode `json:"nodes"`
	Edges   []models.RoutingEdge `json:"edges"`
	Totals  struct {
		SetupLabel string `json:"setup_label"`
		RunLabel   string `json:"run_label"`
	} `json:"totals"`
}

func TestRoutingGraph_EditSaveAndLayout(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, models.RoleMember)
	admin := f.token(t, models.RoleAdmin)
	mill := createOperationType(t, f, admin, "Mill")
	deburr := createOperationType(t, f, admin, "Deburr")

	w := f.do(t, http.MethodPost, "/api/parts", admin, gin.H{
		"part_number": "P-1",
		"pricing":     []gin.H{{"qty": 100, "price": 1.5}, {"qty": 10, "price": 2}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create part status = %d: %s", w.Code, w.Body.String())
	}
	part := decode[models.Part](t, w)
	if string(part.Pricing) != `[{"qty":10,"price":2},{"qty":100,"price":1.5}]` {
		t.Errorf("part pricing = %s", part.Pricing)
	}
	expectError(t, f.do(t, http.MethodPost, "/api/routings", tok, gin.H{"name": "Orphan", "part_id": "no-such-part"}),
		http.StatusNotFound, "not_found")

	w = f.do(t, http.MethodPost, "/api/routings", tok, gin.H{"name": "Bracket", "part_id": part.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create routing status = %d: %s", w.Code, w.Body.String())
	}
	r := decode[models.Routing](t, w)
	base := "/api/routings/" + r.ID

	n1 := decode[models.RoutingNode](t, f.do(t, http.MethodPost, base+"/nodes", tok, gin.H{"operation_type_id": mill.ID}))
	n2 := decode[models.RoutingNode](t, f.do(t, http.MethodPost, base+"/nodes", tok, gin.H{"operation_type_id": deburr.ID}))

	if w := f.do(t, http.MethodPost, base+"/edges", tok, gin.H{"source_node_id": n1.ID, "target_node_id": n2.ID}); w.Code != http.StatusCreated {
		t.Fatalf("add edge status = %d: %s", w.Code, w.Body.String())
	}
	expectError(t, f.do(t, http.MethodPost, base+"/edges", tok, gin.H{"source_node_id": n2.ID, "target_node_id": n1.ID}),
		http.StatusBadRequest, "validation")

	if w := f.do(t, http.MethodPatch, base+"/nodes/"+n1.ID, tok, gin.H{"setup_time": 30, "run_time_per_unit": 2.5}); w.Code != http.StatusOK {
		t.Fatalf("update node status = %d: %s", w.Code, w.Body.String())
	}
	expectError(t, f.do(t, http.MethodPatch, base+"/nodes/"+n2.ID, tok, gin.H{"setup_time": -1}), http.StatusBadRequest, "validation")

	g := decode[graphBody](t, f.do(t, http.MethodGet, base, tok, nil))
	if g.Totals.SetupLabel != "Setup: 30m" || g.Totals.RunLabel != "Run: 2.5m/unit" {
		t.Errorf("totals = %+v", g.Totals)
	}

	// Deferred save: append an inspection step after deburr.
	stored, err := routing.GetGraph(f.db, f.companyID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	pending := workflow.FromGraph(stored)
	pending.Nodes = append(pending.Nodes, workflow.Node{Ref: routing.New("tmp-1"), OperationTypeID: mill.ID})
	pending.Edges = append(pending.Edges, workflow.Edge{Ref: routing.New("tmp-e"), Source: routing.Existing(n2.ID), Target: routing.New("tmp-1")})
	w = f.do(t, http.MethodPut, base+"/graph", tok, pending)
	if w.Code != http.StatusOK {
		t.Fatalf("save graph status = %d: %s", w.Code, w.Body.String())
	}
	if g := decode[graphBody](t, w); len(g.Nodes) != 3 || len(g.Edges) != 2 {
		t.Errorf("saved graph = %d nodes, %d edges, want 3 and 2", len(g.Nodes), len(g.Edges))
	}

	bad := workflow.FromGraph(stored)
	bad.Edges = append(bad.Edges, workflow.Edge{Ref: routing.New("loop"), Source: routing.Existing(n2.ID), Target: routing.Existing(n1.ID)})
	expectError(t, f.do(t, http.MethodPut, base+"/graph", tok, bad), http.StatusBadRequest, "validation")

	w = f.do(t, http.MethodGet, base+"/layout", tok, nil)
	lay := decode[struct {
		Positions map[string]layout.Point `json:"positions"`
	}](t, w)
	if len(lay.Positions) != 3 {
		t.Fatalf("positions = %v", lay.Positions)
	}
	if !(lay.Positions[n1.ID].X < lay.Positions[n2.ID].X) {
		t.Errorf("mill x %v should precede deburr x %v", lay.Positions[n1.ID].X, lay.Positions[n2.ID].X)
	}
	expectError(t, f.do(t, http.MethodGet, base+"/layout?direction=diagonal", tok, nil), http.StatusBadRequest, "validation")

	e := expectError(t, f.do(t, http.MethodDelete, "/api/operation-types/"+deburr.ID, admin, nil), http.StatusConflict, "constraint_violation")
	if !strings.Contains(e.Error, "referenced by routing steps") {
		t.Errorf("error = %q", e.Error)
	}
}

func TestImport_PipelineOverHTTP(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	flow := importflow.New(importer.Operations, importflow.NewHTTPRemote(srv.URL, f.token(t, models.RoleMember)))
	csv := "Name,Rate\nMill,135\nLathe,90.5\n"
	if err := flow.Upload(t.Context(), "ops.csv", strings.NewReader(csv), int64(len(csv))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if flow.State() != importflow.StateReview {
		t.Fatalf("state = %s, want review", flow.State())
	}
	if err := flow.Proceed(t.Context()); err != nil {
		t.Fatalf("Proceed: %v", err)
	}
	if got := flow.Summary(); got != "2 operations imported" {
		t.Errorf("Summary = %q", got)
	}
	var n int64
	f.db.Model(&models.OperationType{}).Where("company_id = ?", f.companyID).Count(&n)
	if n != 2 {
		t.Errorf("operation types = %d, want 2", n)
	}
}

func TestImport_AnalyzeRateLimited(t *testing.T) {
	lim, err := importer.NewLimiter(config.ImportConfig{RateLimit: "1-M", RateLimitStore: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, func(o *StartOpts) { o.Imports.Limiter = lim })
	tok := f.token(t, models.RoleMember)
	body := importer.AnalyzeRequest{Headers: []string{"Name"}}
	if w := f.do(t, http.MethodPost, "/api/operations/import/analyze", tok, body); w.Code != http.StatusOK {
		t.Fatalf("first analyze = %d: %s", w.Code, w.Body.String())
	}
	expectError(t, f.do(t, http.MethodPost, "/api/operations/import/analyze", tok, body), http.StatusTooManyRequests, kindRateLimited)
	expectError(t, f.do(t, http.MethodPost, "/api/operations/import/analyze", f.token(t, models.RoleViewer), body),
		http.StatusForbidden, "permission_denied")
}

func TestTeam_MembersAndOperators(t *testing.T) {
	f := newFixture(t)
	admin, member := f.token(t, models.RoleAdmin), f.token(t, models.RoleMember)

	w := f.do(t, http.MethodPost, "/api/team/members", admin, gin.H{"email": "lee@example.com", "role": "member"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create member status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[struct {
		Member accounts.Member `json:"member"`
		Temp   string          `json:"temporary_password"`
	}](t, w)
	if created.Temp == "" {
		t.Error("new user should receive a temporary password")
	}
	expectError(t, f.do(t, http.MethodPost, "/api/team/members", member, gin.H{"email": "x@example.com", "role": "member"}),
		http.StatusForbidden, "permission_denied")

	w = f.do(t, http.MethodPost, "/api/team/members/"+created.Member.ID+"/reset-password", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d: %s", w.Code, w.Body.String())
	}

	expectError(t, f.do(t, http.MethodPost, "/api/operators", admin, gin.H{"name": "Sam", "pin": "12ab"}), http.StatusBadRequest, "validation")
	if w := f.do(t, http.MethodPost, "/api/operators", admin, gin.H{"name": "Sam", "pin": "4821"}); w.Code != http.StatusCreated {
		t.Fatalf("create operator status = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/api/operator/login", "", gin.H{"company_id": f.companyID, "pin": "4821"})
	if w.Code != http.StatusOK {
		t.Fatalf("operator login status = %d: %s", w.Code, w.Body.String())
	}
	op := decode[accounts.Session](t, w)
	if w := f.do(t, http.MethodGet, "/api/routings", op.Token, nil); w.Code != http.StatusOK {
		t.Errorf("operator routings status = %d", w.Code)
	}
	expectError(t, f.do(t, http.MethodGet, "/api/customers", op.Token, nil), http.StatusForbidden, "permission_denied")
	expectError(t, f.do(t, http.MethodPost, "/api/auth/password", op.Token, gin.H{"current_password": "x", "new_password": "y"}),
		http.StatusForbidden, "permission_denied")
}

func TestAttachments_UploadAndSignedDownload(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, models.RoleMember)
	cust := models.Customer{CompanyID: f.companyID, CustomerCode: "C-1", Name: "Boeing"}
	if err := f.db.Create(&cust).Error; err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("entity_type", "customers")
	mw.WriteField("entity_id", cust.ID)
	fw, _ := mw.CreateFormFile("file", "PO 4471.txt")
	fw.Write([]byte("purchase order 4471"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", w.Code, w.Body.String())
	}
	a := decode[models.Attachment](t, w)
	if !strings.HasSuffix(a.Path, "_PO_4471.txt") || !strings.HasPrefix(a.ContentType, "text/plain") {
		t.Errorf("attachment = %+v", a)
	}

	w = f.do(t, http.MethodGet, "/api/attachments/"+a.ID+"/url?ttl=5m", tok, nil)
	link := decode[struct {
		URL string `json:"url"`
	}](t, w)
	u, err := url.Parse(link.URL)
	if err != nil {
		t.Fatal(err)
	}

	w = f.do(t, http.MethodGet, u.RequestURI(), "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "purchase order 4471" {
		t.Fatalf("download = %d %q", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "PO_4471.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	q := u.Query()
	q.Set("token", q.Get("token")+"x")
	u.RawQuery = q.Encode()
	expectError(t, f.do(t, http.MethodGet, u.RequestURI(), "", nil), http.StatusForbidden, "permission_denied")

	if w := f.do(t, http.MethodDelete, "/api/attachments/"+a.ID, tok, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
}
