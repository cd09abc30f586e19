package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/zulandar/jigged/internal/importer"
	"github.com/zulandar/jigged/internal/importflow"
)

const skipOption = ""

func newImportCmd() *cobra.Command {
	var (
		server string
		token  string
		opts   importOpts
	)

	cmd := &cobra.Command{
		Use:   "import <module> <file>",
		Short: "Import a CSV or XLSX file through a running API",
		Long: fmt.Sprintf(`Uploads a spreadsheet to the import pipeline of a jig API server: the
columns are analyzed, the mapping can be adjusted with --map column=field or
reviewed with --interactive, and the rows are validated and imported.
Conflicting rows are skipped.

Modules: %s`, strings.Join(importer.ModuleNames(), ", ")),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("JIG_API_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("an API token is required (--token or JIG_API_TOKEN)")
			}
			return runImport(cmd, importflow.NewHTTPRemote(server, token), args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "jig API base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to $JIG_API_TOKEN)")
	cmd.Flags().StringArrayVar(&opts.maps, "map", nil, "override a column mapping as column=field (empty field skips the column)")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "review the mapping in a form before importing")
	cmd.Flags().BoolVar(&opts.createGroups, "create-groups", false, "create unknown resource groups (operations)")
	cmd.Flags().StringVar(&opts.customerMode, "customer-mode", "", "how parts get a customer: by_column, all_to_one or all_generic")
	cmd.Flags().StringVar(&opts.customer, "customer", "", "customer id for --customer-mode all_to_one")
	return cmd
}

type importOpts struct {
	maps         []string
	interactive  bool
	createGroups bool
	customerMode string
	customer     string
}

// parseMappings splits column=field overrides.
func parseMappings(specs []string) ([][2]string, error) {
	out := make([][2]string, 0, len(specs))
	for _, s := range specs {
		col, field, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("--map %q: want column=field", s)
		}
		out = append(out, [2]string{strings.TrimSpace(col), strings.TrimSpace(field)})
	}
	return out, nil
}

func runImport(cmd *cobra.Command, remote importflow.Remote, module, path string, opts importOpts) error {
	out := cmd.OutOrStdout()
	m, err := importer.Lookup(module)
	if err != nil {
		return err
	}
	overrides, err := parseMappings(opts.maps)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	flow := importflow.New(m, remote,
		importflow.WithCreateGroups(opts.createGroups),
		importflow.WithCustomerMatch(importer.CustomerMatchMode(opts.customerMode), opts.customer),
		importflow.WithObserver(func(_, to importflow.State) {
			switch to {
			case importflow.StateAnalyzing, importflow.StateValidating, importflow.StateImporting:
				fmt.Fprintln(out, mutedStyle.Render(to.String()+"..."))
			}
		}),
	)
	ctx := cmd.Context()
	if err := flow.Upload(ctx, st.Name(), f, st.Size()); err != nil {
		return err
	}
	for _, o := range overrides {
		if err := flow.SetMapping(o[0], o[1]); err != nil {
			return err
		}
	}

	printMappings(cmd, flow)
	if opts.interactive {
		if err := reviewMappings(flow, m); err != nil {
			return err
		}
		printMappings(cmd, flow)
	}
	if !flow.CanProceed() {
		return fmt.Errorf("required fields are not mapped: %s (use --map column=field)", strings.Join(flow.UnmappedRequired(), ", "))
	}

	if err := flow.Proceed(ctx); err != nil {
		return err
	}
	if v := flow.Validation(); v != nil {
		if v.ConflictRowsCount > 0 {
			fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("%d conflicting row(s) skipped", v.ConflictRowsCount)))
		}
		for _, e := range v.ValidationErrors {
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("row %d: %s", e.RowNumber, e.Message)))
		}
	}
	res := flow.Result()
	fmt.Fprintln(out, titleStyle.Render(flow.Summary()))
	if res.GroupsCreated > 0 {
		fmt.Fprintf(out, "%d resource group(s) created\n", res.GroupsCreated)
	}
	return nil
}

func printMappings(cmd *cobra.Command, flow *importflow.Flow) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Column mapping"), mutedStyle.Render("("+flow.AIProvider()+")"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tFIELD\tCONFIDENCE\tNOTE")
	for _, mp := range flow.Mappings() {
		field := mp.Field
		if field == "" {
			field = "(skip)"
		}
		note := mp.Reasoning
		switch {
		case mp.Manual:
			note = "set manually"
		case mp.NeedsReview:
			note = "review: " + note
		}
		fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\n", mp.Column, field, mp.Confidence*100, note)
	}
	w.Flush()
	for _, p := range flow.Pricing() {
		fmt.Fprintf(out, "Price tier: %s / %s\n", p.QtyColumn, p.PriceColumn)
	}
	if missing := flow.UnmappedRequired(); len(missing) > 0 {
		fmt.Fprintln(out, errorStyle.Render("Unmapped required: "+strings.Join(missing, ", ")))
	}
}

// reviewMappings lets the user pick a field for every column.
func reviewMappings(flow *importflow.Flow, m *importer.Module) error {
	mappings := flow.Mappings()
	choices := make([]string, len(mappings))
	fields := make([]huh.Field, 0, len(mappings))

	options := []huh.Option[string]{huh.NewOption("(skip column)", skipOption)}
	for _, fld := range m.Fields {
		label := fld.Label()
		if fld.Required {
			label += " *"
		}
		options = append(options, huh.NewOption(label, fld.Name))
	}
	for i, mp := range mappings {
		choices[i] = mp.Field
		desc := fmt.Sprintf("%.0f%% confident", mp.Confidence*100)
		if mp.Reasoning != "" {
			desc += ": " + mp.Reasoning
		}
		fields = append(fields, huh.NewSelect[string]().
			Title(mp.Column).
			Description(desc).
			Options(options...).
			Value(&choices[i]))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("review mapping: %w", err)
	}
	for i, mp := range mappings {
		if choices[i] != mp.Field {
			if err := flow.SetMapping(mp.Column, choices[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
