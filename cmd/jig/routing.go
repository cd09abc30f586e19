package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/layout"
	"github.com/zulandar/jigged/internal/models"
	"github.com/zulandar/jigged/internal/routing"
	"github.com/zulandar/jigged/internal/workflow"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

func newRoutingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routing",
		Short: "Inspect and edit routings",
	}

	cmd.AddCommand(newRoutingListCmd())
	cmd.AddCommand(newRoutingShowCmd())
	cmd.AddCommand(newRoutingApplyCmd())
	return cmd
}

func newRoutingListCmd() *cobra.Command {
	var (
		configPath string
		company    string
		search     string
		partID     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a company's routings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			companyID, err := a.companyID(company)
			if err != nil {
				return err
			}
			if partID != "" {
				if partID, err = routing.ResolvePart(a.db, companyID, partID); err != nil {
					return err
				}
			}
			items, total, err := routing.List(a.db.WithContext(cmd.Context()), companyID, routing.ListFilters{
				Search: search, PartID: partID, PageSize: 500,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if total == 0 {
				fmt.Fprintln(out, "No routings found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPART\tREV\tDEFAULT")
			for _, r := range items {
				part := ""
				if r.PartID != nil {
					part = *r.PartID
				}
				def := ""
				if r.IsDefault {
					def = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, part, r.Revision, def)
			}
			w.Flush()
			fmt.Fprintf(out, "\n%d routing(s)\n", total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	cmd.Flags().StringVar(&search, "search", "", "filter by name or description")
	cmd.Flags().StringVar(&partID, "part", "", "filter by part id or part number")
	return cmd
}

func newRoutingShowCmd() *cobra.Command {
	var (
		configPath string
		company    string
	)

	cmd := &cobra.Command{
		Use:   "show <routing>",
		Short: "Show a routing's steps, links and totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			companyID, err := a.companyID(company)
			if err != nil {
				return err
			}
			r, err := findRouting(a.db.WithContext(cmd.Context()), companyID, args[0])
			if err != nil {
				return err
			}
			g, err := routing.GetGraph(a.db.WithContext(cmd.Context()), companyID, r.ID)
			if err != nil {
				return err
			}
			names, err := operationNames(a.db.WithContext(cmd.Context()), companyID)
			if err != nil {
				return err
			}
			renderGraph(cmd, g, names)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	return cmd
}

// findRouting resolves a routing by id or exact name.
func findRouting(gdb *gorm.DB, companyID, ref string) (*models.Routing, error) {
	var r models.Routing
	err := gdb.Scopes(db.ForCompany(companyID)).Where("id = ? OR name = ?", ref, ref).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, db.NotFound("routing", ref)
	}
	if err != nil {
		return nil, db.Wrap("get", "routing", err)
	}
	return &r, nil
}

// operationNames maps operation type ids to names.
func operationNames(gdb *gorm.DB, companyID string) (map[string]string, error) {
	out := map[string]string{}
	err := db.ReadAll(context.Background(), gdb.Model(&models.OperationType{}).Scopes(db.ForCompany(companyID)).Select("id", "name"),
		db.ReadPageSize, func(batch []models.OperationType) error {
			for _, o := range batch {
				out[o.ID] = o.Name
			}
			return nil
		})
	return out, err
}

func renderGraph(cmd *cobra.Command, g *routing.Graph, names map[string]string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(g.Routing.Name))

	labels := make(map[string]string, len(g.Nodes))
	fields := make([]routing.NodeFields, len(g.Nodes))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tOPERATION\tSETUP\tRUN/UNIT")
	for i, n := range g.Nodes {
		fields[i] = routing.FieldsOf(n)
		labels[n.ID] = names[n.OperationTypeID]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, labels[n.ID], minutes(n.SetupTime), minutes(n.RunTimePerUnit))
	}
	w.Flush()

	if len(g.Edges) > 0 {
		fmt.Fprintln(out)
		for _, e := range g.Edges {
			fmt.Fprintf(out, "  %s %s %s\n", labels[e.SourceNodeID], mutedStyle.Render("→"), labels[e.TargetNodeID])
		}
	}

	t := routing.ComputeTotals(fields)
	fmt.Fprintln(out, toolbarStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, t.SetupLabel(), "   ", t.RunLabel())))
}

func minutes(p *float64) string {
	if p == nil {
		return "-"
	}
	return routing.FormatMinutes(*p) + "m"
}

// workflowFile is the YAML form of a routing graph accepted by apply.
type workflowFile struct {
	Routing     string      `yaml:"routing"`
	Part        string      `yaml:"part"`
	Description string      `yaml:"description"`
	Steps       []stepSpec  `yaml:"steps"`
	Links       [][2]string `yaml:"links"`
	Direction   string      `yaml:"direction"`
}

type stepSpec struct {
	ID             string   `yaml:"id"`
	Operation      string   `yaml:"operation"`
	SetupTime      *float64 `yaml:"setup_time"`
	RunTimePerUnit *float64 `yaml:"run_time_per_unit"`
	Instructions   *string  `yaml:"instructions"`
}

func parseWorkflowFile(data []byte) (*workflowFile, error) {
	var wf workflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	var errs []string
	if strings.TrimSpace(wf.Routing) == "" {
		errs = append(errs, "routing is required")
	}
	seen := map[string]bool{}
	for i, s := range wf.Steps {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Sprintf("steps[%d].id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Sprintf("steps[%d].id %q is repeated", i, s.ID))
		}
		if s.Operation == "" {
			errs = append(errs, fmt.Sprintf("steps[%d].operation is required", i))
		}
		seen[s.ID] = true
	}
	for i, l := range wf.Links {
		for _, id := range l {
			if !seen[id] {
				errs = append(errs, fmt.Sprintf("links[%d] names unknown step %q", i, id))
			}
		}
	}
	switch layout.Direction(wf.Direction) {
	case "", layout.LeftToRight, layout.TopToBottom:
	default:
		errs = append(errs, fmt.Sprintf("direction %q is not one of LR, TB", wf.Direction))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid workflow: %s", strings.Join(errs, "; "))
	}
	return &wf, nil
}

func newRoutingApplyCmd() *cobra.Command {
	var (
		configPath string
		company    string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "apply <file.yaml>",
		Short: "Replace a routing's graph with the one described in a YAML file",
		Long: `Replays a workflow file through the deferred editor and saves the result in
one transaction. Existing steps are matched to file steps by operation, in
order, and kept; other steps and links are removed. The routing is created
when no routing of that name exists.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			wf, err := parseWorkflowFile(data)
			if err != nil {
				return err
			}
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			companyID, err := a.companyID(company)
			if err != nil {
				return err
			}
			return applyWorkflow(cmd, a.db, companyID, wf, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned writes without saving")
	return cmd
}

func applyWorkflow(cmd *cobra.Command, gdb *gorm.DB, companyID string, wf *workflowFile, dryRun bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	tx := gdb.WithContext(ctx)

	byName := map[string]string{}
	names, err := operationNames(tx, companyID)
	if err != nil {
		return err
	}
	for id, name := range names {
		byName[strings.ToLower(name)] = id
	}

	var original *routing.Graph
	r, err := findRouting(tx, companyID, wf.Routing)
	switch {
	case err == nil:
		if original, err = routing.GetGraph(tx, companyID, r.ID); err != nil {
			return err
		}
	case db.KindOf(err) == db.KindNotFound && !dryRun:
		opts := routing.CreateOpts{Name: wf.Routing, Description: wf.Description}
		if wf.Part != "" {
			if opts.PartID, err = routing.ResolvePart(tx, companyID, wf.Part); err != nil {
				return err
			}
		}
		if r, err = routing.Create(tx, companyID, opts); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created routing %q\n", r.Name)
	case db.KindOf(err) == db.KindNotFound:
		r = &models.Routing{Name: wf.Routing}
	default:
		return err
	}

	opts := layout.DefaultOptions()
	if wf.Direction != "" {
		opts.Direction = layout.Direction(wf.Direction)
	}
	ed := workflow.NewDeferred(original, nil, workflow.WithLayout(opts))
	if err := ed.Load(ctx); err != nil {
		return err
	}

	unused := map[string][]routing.Ref{}
	for _, n := range ed.Nodes() {
		unused[n.OperationTypeID] = append(unused[n.OperationTypeID], n.Ref)
	}
	refs := map[string]routing.Ref{}
	for _, s := range wf.Steps {
		opID, ok := byName[strings.ToLower(s.Operation)]
		if !ok {
			return fmt.Errorf("step %q: operation type %q not found", s.ID, s.Operation)
		}
		var ref routing.Ref
		if free := unused[opID]; len(free) > 0 {
			ref, unused[opID] = free[0], free[1:]
		} else {
			n, err := ed.AddNode(ctx, opID, layout.Point{})
			if err != nil {
				return fmt.Errorf("step %q: %w", s.ID, err)
			}
			ref = n.Ref
		}
		fields := routing.NodeFields{SetupTime: s.SetupTime, RunTimePerUnit: s.RunTimePerUnit, Instructions: s.Instructions}
		if err := ed.EditNode(ctx, ref, fields); err != nil {
			return fmt.Errorf("step %q: %w", s.ID, err)
		}
		refs[s.ID] = ref
	}
	for _, left := range unused {
		for _, ref := range left {
			if err := ed.DeleteNode(ctx, ref); err != nil {
				return err
			}
		}
	}

	want := map[routing.Link[routing.Ref]]bool{}
	for _, l := range wf.Links {
		want[routing.Link[routing.Ref]{Source: refs[l[0]], Target: refs[l[1]]}] = true
	}
	var stale []routing.Ref
	for _, e := range ed.Edges() {
		link := routing.Link[routing.Ref]{Source: e.Source, Target: e.Target}
		if want[link] {
			delete(want, link)
			continue
		}
		stale = append(stale, e.Ref)
	}
	if rep := ed.DeleteEdges(ctx, stale...); len(rep.Failed) > 0 {
		return rep.Failed[0].Err
	}
	for _, l := range wf.Links {
		link := routing.Link[routing.Ref]{Source: refs[l[0]], Target: refs[l[1]]}
		if !want[link] {
			continue
		}
		if _, err := ed.Connect(ctx, link.Source, link.Target); err != nil {
			return fmt.Errorf("link %s -> %s: %w", l[0], l[1], err)
		}
		delete(want, link)
	}
	ed.AutoLayout(opts)

	plan, err := ed.Plan()
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%d step(s) added, %d updated, %d removed; %d link(s) added, %d removed",
		len(plan.CreateNodes), len(plan.UpdateNodes), len(plan.DeleteNodes), len(plan.CreateEdges), len(plan.DeleteEdges))
	if dryRun {
		fmt.Fprintln(out, warningStyle.Render("Dry run: ")+summary)
		return nil
	}
	if _, err := ed.Save(ctx, workflow.StoreCommitter{DB: gdb, CompanyID: companyID, RoutingID: r.ID}); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %q: %s\n", r.Name, summary)
	return nil
}
