package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/api"
	"github.com/zulandar/jigged/internal/catalog"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/importflow"
	"github.com/zulandar/jigged/internal/models"
	"github.com/zulandar/jigged/internal/routing"
	"gorm.io/gorm"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// writeConfig creates a sqlite-backed jig.yaml in a temp dir.
func writeConfig(t *testing.T) (path, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "jig.db")
	yaml := fmt.Sprintf("database:\n  driver: sqlite\n  path: %s\nlog:\n  level: error\nstorage:\n  dir: %s\n",
		dbPath, filepath.Join(dir, "files"))
	path = filepath.Join(dir, "jig.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, dbPath
}

// seeded returns a config whose database holds company "Acme" and an admin.
func seeded(t *testing.T) (cfgPath string, gdb *gorm.DB, companyID string) {
	t.Helper()
	cfgPath, dbPath := writeConfig(t)
	out, err := run(t, "hunter2hunter2\n", "db", "seed", "-c", cfgPath, "--company", "Acme", "--email", "boss@acme.test", "--name", "Boss")
	if err != nil {
		t.Fatalf("db seed: %v\n%s", err, out)
	}
	gdb, err = db.OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	var co models.Company
	if err := gdb.Where("name = ?", "Acme").First(&co).Error; err != nil {
		t.Fatal(err)
	}
	return cfgPath, gdb, co.ID
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "jig dev") {
		t.Errorf("expected output to contain 'jig dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "jig 1.0.0 (commit: abc123, built: 2026-01-01)") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := run(t, "", "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	for _, sub := range []string{"serve", "db", "routing", "import", "account", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestSubcommandFlags(t *testing.T) {
	root := newRootCmd()
	tests := []struct {
		path  []string
		flags []string
	}{
		{[]string{"serve"}, []string{"config", "port", "migrate"}},
		{[]string{"db", "seed"}, []string{"config", "company", "email", "name"}},
		{[]string{"routing", "apply"}, []string{"config", "company", "dry-run"}},
		{[]string{"import"}, []string{"server", "token", "map", "interactive", "create-groups", "customer-mode", "customer"}},
		{[]string{"account", "operator", "create"}, []string{"config", "company", "name", "qr", "operation"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.path, " "), func(t *testing.T) {
			cmd, _, err := root.Find(tt.path)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			for _, f := range tt.flags {
				if cmd.Flags().Lookup(f) == nil {
					t.Errorf("missing --%s flag", f)
				}
			}
		})
	}
}

func TestDBMigrate(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := run(t, "", "db", "migrate", "-c", cfgPath)
	if err != nil {
		t.Fatalf("db migrate: %v", err)
	}
	if want := fmt.Sprintf("Migrated %d tables on sqlite", len(db.AllModels())); !strings.Contains(out, want) {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestDBMigrate_MissingConfig(t *testing.T) {
	_, err := run(t, "", "db", "migrate", "-c", filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("err = %v, want load config error", err)
	}
}

func TestDBSeed_AdminCanLogIn(t *testing.T) {
	_, gdb, companyID := seeded(t)
	tokens, err := accounts.NewTokens(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	svc := &accounts.Service{DB: gdb, Tokens: tokens}
	sess, err := svc.Login(context.Background(), "boss@acme.test", "hunter2hunter2", companyID)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Member == nil || sess.Member.Role != models.RoleAdmin || sess.Member.MustChangePassword {
		t.Errorf("member = %+v, want admin without pending password change", sess.Member)
	}
}

func TestAccountCommands(t *testing.T) {
	cfgPath, gdb, _ := seeded(t)

	out, err := run(t, "", "account", "member", "create", "-c", cfgPath, "--company", "Acme", "--email", "lee@acme.test", "--role", "viewer")
	if err != nil {
		t.Fatalf("member create: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Temporary password: ") {
		t.Errorf("expected a temporary password, got: %s", out)
	}

	out, err = run(t, "", "account", "member", "reset-password", "-c", cfgPath, "--company", "Acme", "LEE@acme.test")
	if err != nil || !strings.Contains(out, "Temporary password: ") {
		t.Fatalf("reset-password: %v\n%s", err, out)
	}
	if _, err := run(t, "", "account", "member", "reset-password", "-c", cfgPath, "--company", "Acme", "nobody@acme.test"); err == nil {
		t.Error("reset-password for an unknown member should fail")
	}

	out, err = run(t, "", "account", "member", "list", "-c", cfgPath, "--company", "Acme")
	if err != nil {
		t.Fatalf("member list: %v", err)
	}
	if !strings.Contains(out, "boss@acme.test") || !strings.Contains(out, "lee@acme.test") {
		t.Errorf("member list = %s", out)
	}

	if _, err := run(t, "12ab\n", "account", "operator", "create", "-c", cfgPath, "--company", "Acme", "--name", "Sam"); err == nil {
		t.Error("a non-numeric PIN should be rejected")
	}
	out, err = run(t, "4821\n", "account", "operator", "create", "-c", cfgPath, "--company", "Acme", "--name", "Sam", "--qr", "BADGE-7")
	if err != nil {
		t.Fatalf("operator create: %v\n%s", err, out)
	}
	var op models.Operator
	if err := gdb.Where("name = ?", "Sam").First(&op).Error; err != nil {
		t.Fatal(err)
	}
	if op.QRCodeID == nil || *op.QRCodeID != "BADGE-7" || !op.IsActive {
		t.Errorf("operator = %+v", op)
	}

	out, err = run(t, "", "account", "operator", "list", "-c", cfgPath, "--company", "Acme")
	if err != nil || !strings.Contains(out, "BADGE-7") {
		t.Errorf("operator list: %v\n%s", err, out)
	}
}

func TestCompanyLookup_Unknown(t *testing.T) {
	cfgPath, _, _ := seeded(t)
	_, err := run(t, "", "routing", "list", "-c", cfgPath, "--company", "Globex")
	if err == nil || !strings.Contains(err.Error(), `company "Globex" not found`) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseWorkflowFile(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing routing", "steps: []\n", "routing is required"},
		{"missing step id", "routing: R\nsteps:\n  - operation: Mill\n", "steps[0].id is required"},
		{"repeated id", "routing: R\nsteps:\n  - {id: a, operation: Mill}\n  - {id: a, operation: Lathe}\n", `steps[1].id "a" is repeated`},
		{"missing operation", "routing: R\nsteps:\n  - id: a\n", "steps[0].operation is required"},
		{"unknown link", "routing: R\nsteps:\n  - {id: a, operation: Mill}\nlinks:\n  - [a, b]\n", `unknown step "b"`},
		{"bad direction", "routing: R\ndirection: RL\n", `direction "RL"`},
		{"bad yaml", "routing: [", "parse workflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWorkflowFile([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}

	wf, err := parseWorkflowFile([]byte("routing: R\ndirection: TB\nsteps:\n  - {id: a, operation: Mill, setup_time: 15}\n"))
	if err != nil {
		t.Fatalf("valid file: %v", err)
	}
	if len(wf.Steps) != 1 || wf.Steps[0].SetupTime == nil || *wf.Steps[0].SetupTime != 15 {
		t.Errorf("steps = %+v", wf.Steps)
	}
}

const bracketWorkflow = `routing: Bracket
part: BRK-100
steps:
  - id: cut
    operation: Saw
    setup_time: 10
    run_time_per_unit: 1.5
  - id: mill
    operation: Mill
    setup_time: 30
    run_time_per_unit: 4
  - id: deburr
    operation: deburr
    run_time_per_unit: 0.75
links:
  - [cut, mill]
  - [mill, deburr]
`

func TestRoutingApply(t *testing.T) {
	cfgPath, gdb, companyID := seeded(t)
	ctx := context.Background()
	for _, name := range []string{"Saw", "Mill", "Deburr"} {
		if err := catalog.OperationTypes.Create(ctx, gdb, companyID, &models.OperationType{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	part := models.Part{PartNumber: "BRK-100"}
	if err := catalog.Parts.Create(ctx, gdb, companyID, &part); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "bracket.yaml")
	if err := os.WriteFile(file, []byte(bracketWorkflow), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "routing", "apply", file, "-c", cfgPath, "--company", "Acme", "--dry-run")
	if err != nil {
		t.Fatalf("dry run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 step(s) added, 0 updated, 0 removed; 2 link(s) added, 0 removed") {
		t.Errorf("dry-run output = %s", out)
	}
	var n int64
	gdb.Model(&models.Routing{}).Count(&n)
	if n != 0 {
		t.Fatalf("dry run created %d routings", n)
	}

	if out, err = run(t, "", "routing", "apply", file, "-c", cfgPath, "--company", "Acme"); err != nil {
		t.Fatalf("apply: %v\n%s", err, out)
	}
	var r models.Routing
	if err := gdb.Where("name = ?", "Bracket").First(&r).Error; err != nil {
		t.Fatal(err)
	}
	if r.PartID == nil || *r.PartID != part.ID {
		t.Errorf("routing part = %v, want %s", r.PartID, part.ID)
	}
	g, err := routing.GetGraph(gdb, companyID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 3 || len(g.Edges) != 2 {
		t.Fatalf("graph has %d nodes and %d edges, want 3 and 2", len(g.Nodes), len(g.Edges))
	}

	// Re-applying the same file keeps every step and link.
	out, err = run(t, "", "routing", "apply", file, "-c", cfgPath, "--company", "Acme", "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "0 step(s) added") || !strings.Contains(out, "0 removed; 0 link(s) added, 0 removed") {
		t.Errorf("re-apply output = %s", out)
	}

	// Dropping the deburr step removes it and its link.
	shorter := strings.Replace(bracketWorkflow, "  - id: deburr\n    operation: deburr\n    run_time_per_unit: 0.75\n", "", 1)
	shorter = strings.Replace(shorter, "  - [mill, deburr]\n", "", 1)
	if err := os.WriteFile(file, []byte(shorter), 0o644); err != nil {
		t.Fatal(err)
	}
	if out, err = run(t, "", "routing", "apply", file, "-c", cfgPath, "--company", "Acme"); err != nil {
		t.Fatalf("apply shorter: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 removed; 0 link(s) added, 1 removed") {
		t.Errorf("shorter apply output = %s", out)
	}

	out, err = run(t, "", "routing", "show", "Bracket", "-c", cfgPath, "--company", "Acme")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"Bracket", "Saw", "Mill", "Setup: 40"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "", "routing", "list", "-c", cfgPath, "--company", "Acme")
	if err != nil || !strings.Contains(out, "BRK-100") || !strings.Contains(out, "1 routing(s)") {
		t.Errorf("list: %v\n%s", err, out)
	}
}

func TestRoutingApply_UnknownOperation(t *testing.T) {
	cfgPath, _, _ := seeded(t)
	file := filepath.Join(t.TempDir(), "w.yaml")
	if err := os.WriteFile(file, []byte("routing: R\nsteps:\n  - {id: a, operation: Anodize}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "", "routing", "apply", file, "-c", cfgPath, "--company", "Acme", "--dry-run")
	if err == nil || !strings.Contains(err.Error(), `operation type "Anodize" not found`) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseMappings(t *testing.T) {
	got, err := parseMappings([]string{"Op Name=name", " Rate = labor_rate", "Notes="})
	if err != nil {
		t.Fatal(err)
	}
	want := [][2]string{{"Op Name", "name"}, {"Rate", "labor_rate"}, {"Notes", ""}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("parseMappings = %v, want %v", got, want)
	}
	for _, bad := range []string{"name", "=name"} {
		if _, err := parseMappings([]string{bad}); err == nil {
			t.Errorf("parseMappings(%q) should fail", bad)
		}
	}
}

func TestImportCmd(t *testing.T) {
	cfgPath, gdb, companyID := seeded(t)
	t.Setenv("JIG_JWT_SECRET", testSecret)
	t.Setenv("JIG_API_TOKEN", "")

	a, err := loadApp(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	srv, err := buildServer(context.Background(), a)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	defer srv.close()
	h, err := api.NewHandler(srv.opts)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	tok, _, err := srv.opts.Tokens.Issue(accounts.Principal{Subject: "u-cli", CompanyID: companyID, Role: models.RoleManager, Kind: accounts.KindMember}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "ops.csv")
	csv := "Operation,Hourly,Comment\nMill,135,main\nLathe,\"$1,090.50\",\nMill,99,dupe\n"
	if err := os.WriteFile(file, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "", "import", "operations", file, "--server", ts.URL); err == nil || !strings.Contains(err.Error(), "API token is required") {
		t.Fatalf("err = %v, want missing token error", err)
	}
	if _, err := run(t, "", "import", "routings", file, "--server", ts.URL, "--token", tok); err == nil {
		t.Error("an unknown module should fail")
	}

	out, err := run(t, "", "import", "operations", file, "--server", ts.URL, "--token", tok,
		"--map", "Operation=name", "--map", "Hourly=labor_rate", "--map", "Comment=")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	for _, want := range []string{"Column mapping", "set manually", "1 conflicting row(s) skipped", "2 operations imported"} {
		if !strings.Contains(out, want) {
			t.Errorf("import output missing %q:\n%s", want, out)
		}
	}
	var n int64
	gdb.Model(&models.OperationType{}).Where("company_id = ?", companyID).Count(&n)
	if n != 2 {
		t.Errorf("operation types = %d, want 2", n)
	}

	acme := models.Customer{CompanyID: companyID, CustomerCode: "ACME", Name: "Acme"}
	if err := gdb.Create(&acme).Error; err != nil {
		t.Fatal(err)
	}
	parts := filepath.Join(t.TempDir(), "parts.csv")
	if err := os.WriteFile(parts, []byte("Part Number,Qty 1,Price 1,Qty 2,Price 2\nBRK-100,100,1.25,10,2.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "", "import", "parts", parts, "--server", ts.URL, "--token", tok,
		"--customer-mode", "all_to_one", "--customer", acme.ID)
	if err != nil {
		t.Fatalf("import parts: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Price tier: Qty 1 / Price 1") || !strings.Contains(out, "1 parts imported") {
		t.Errorf("parts import output:\n%s", out)
	}
	var part models.Part
	if err := gdb.Where("company_id = ? AND part_number = ?", companyID, "BRK-100").First(&part).Error; err != nil {
		t.Fatal(err)
	}
	if part.CustomerID == nil || *part.CustomerID != acme.ID || string(part.Pricing) != `[{"qty":10,"price":2.5},{"qty":100,"price":1.25}]` {
		t.Errorf("part = customer %v, pricing %s", part.CustomerID, part.Pricing)
	}
}

func TestImportCmd_UnmappedRequired(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"mappings":[],"unmapped_required":["name"],"unmapped_optional":[],"ai_provider":"builtin"}`)
	}))
	defer ts.Close()

	file := filepath.Join(t.TempDir(), "ops.csv")
	if err := os.WriteFile(file, []byte("Colour\nred\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())
	err := runImport(cmd, importflow.NewHTTPRemote(ts.URL, "t"), "operations", file, importOpts{maps: []string{"Colour="}})
	if err == nil || !strings.Contains(err.Error(), "required fields are not mapped: name") {
		t.Fatalf("err = %v\n%s", err, buf.String())
	}
}
