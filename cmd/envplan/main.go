package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"envplan/internal/enterprise"
	"envplan/internal/render"
	"envplan/internal/storage"
)

var (
	rootCmd = &cobra.Command{
		Use:           "envplan",
		Short:         "AI-assisted environmental emergency plan generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	configPath string
	dbPath     string

	inputPath    string
	enterpriseID string
	userID       string
	outDir       string
	docType      string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the SQLite database (overrides storage.db_path)")

	for _, cmd := range []*cobra.Command{generateCmd, sectionCmd} {
		cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Enterprise data JSON file")
		cmd.Flags().StringVarP(&enterpriseID, "enterprise", "e", "", "Id of an imported enterprise")
		cmd.Flags().StringVarP(&userID, "user", "u", "", "User id charged for model calls")
		cmd.MarkFlagsMutuallyExclusive("input", "enterprise")
		cmd.MarkFlagsOneRequired("input", "enterprise")
	}
	generateCmd.Flags().StringVarP(&docType, "type", "t", "", "Document type to generate (default: all)")
	generateCmd.Flags().StringVarP(&outDir, "out", "o", "output", "Directory for rendered documents")
	importCmd.Flags().StringVar(&enterpriseID, "id", "", "Enterprise id (default: credit code or a new uuid)")
	runsCmd.Flags().StringVarP(&enterpriseID, "enterprise", "e", "", "Only runs of this enterprise")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to list")
	usageCmd.Flags().StringVarP(&userID, "user", "u", "", "Also show this user's usage")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(sectionCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(runsCmd)
}

// loadBlob reads the enterprise data from --input or the store.
func loadBlob(ctx context.Context, a *app) (enterprise.Blob, error) {
	if inputPath != "" {
		return enterprise.DecodeFile(inputPath)
	}
	return a.store.GetEnterprise(ctx, enterpriseID)
}

// recordRun persists res for audit. Failures are logged only.
func recordRun(ctx context.Context, a *app, mode string, res *render.Result) {
	if res.Report != nil {
		res.Report.EnterpriseID = enterpriseID
	}
	data, err := json.Marshal(res)
	if err != nil {
		a.logger.Warn("failed to encode result", "run_id", res.RunID, "error", err)
		return
	}
	err = a.store.SaveRun(ctx, storage.Run{
		ID:           res.RunID,
		EnterpriseID: enterpriseID,
		Mode:         mode,
		UserID:       userID,
		Success:      res.Success,
		ErrorCount:   len(res.Errors),
		Result:       data,
	})
	if err != nil {
		a.logger.Warn("failed to record run", "run_id", res.RunID, "error", err)
	}
}

func printMessages(res *render.Result) {
	for _, w := range res.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	for _, e := range res.Errors {
		fmt.Printf("❌ %s\n", e)
	}
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate documents for an enterprise",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer a.Close(context.WithoutCancel(ctx))

		blob, err := loadBlob(ctx, a)
		if err != nil {
			return fmt.Errorf("failed to load enterprise data: %w", err)
		}

		mode := "all"
		if docType != "" {
			mode = docType
		}
		if !a.gateway.Available() {
			fmt.Println("🧪 No model configured, sections will contain mock text.")
		}
		fmt.Printf("🚀 Generating %s for %s...\n", mode, enterprise.CompanyName(blob))
		start := time.Now()

		var res *render.Result
		if docType == "" {
			res = a.service.GenerateAll(ctx, blob, userID)
		} else {
			res = a.service.GenerateDocument(ctx, docType, blob, userID)
		}
		recordRun(ctx, a, mode, res)
		fmt.Printf("✅ %d sections generated in %v.\n", len(res.Sections), time.Since(start).Round(time.Millisecond))

		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		names := make([]string, 0, len(res.Documents))
		for name := range res.Documents {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(outDir, name+".md")
			if err := os.WriteFile(path, []byte(res.Documents[name]), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Printf("📄 %s\n", path)
		}
		data, _ := json.MarshalIndent(res, "", "  ")
		resultPath := filepath.Join(outDir, res.RunID+".json")
		if err := os.WriteFile(resultPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", resultPath, err)
		}

		if res.Compliance != nil {
			fmt.Printf("📋 Compliance score: %d (%d issues, %d warnings)\n",
				res.Compliance.OverallScore, res.Compliance.TotalIssues, res.Compliance.TotalWarnings)
		}
		printMessages(res)
		if !res.Success {
			return fmt.Errorf("💥 run %s finished with %d errors", res.RunID, len(res.Errors))
		}
		fmt.Printf("🎉 Run %s complete! Output: %s\n", res.RunID, outDir)
		return nil
	},
}

var sectionCmd = &cobra.Command{
	Use:   "section [id]",
	Short: "Generate the text of one AI section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer a.Close(context.WithoutCancel(ctx))

		blob, err := loadBlob(ctx, a)
		if err != nil {
			return fmt.Errorf("failed to load enterprise data: %w", err)
		}

		res := a.service.GenerateSection(ctx, args[0], blob, userID)
		recordRun(ctx, a, "section", res)
		if res.Section != nil {
			out := res.Section
			fmt.Println(out.Text)
			fmt.Println()
			fmt.Printf("🤖 model=%s mock=%v attempts=%d\n", out.Model, out.Mock, out.Attempts)
			if out.Checked {
				fmt.Printf("📋 Compliance score: %d, passed=%v\n", out.ComplianceScore, out.Passed)
				for _, issue := range out.Issues {
					fmt.Printf("   - %s\n", issue)
				}
			}
		}
		printMessages(res)
		if !res.Success {
			return fmt.Errorf("💥 section %s failed", args[0])
		}
		return nil
	},
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check templates against the section catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer a.Close(context.WithoutCancel(ctx))

		rep := a.service.CheckTemplates()
		for _, t := range rep.Templates {
			fmt.Printf("📄 %s (%s): %d declared, %d used\n", t.ID, t.Path, len(t.Declared), len(t.Used))
		}
		for _, w := range rep.Warnings {
			fmt.Printf("⚠️  %s\n", w)
		}
		for _, e := range rep.Errors {
			fmt.Printf("❌ %s\n", e)
		}
		if len(rep.Suggestions) > 0 {
			fmt.Println("💡 Suggestions:")
			for _, s := range rep.Suggestions {
				fmt.Printf("   - %s\n", s)
			}
		}
		if !rep.Success {
			return fmt.Errorf("💥 %d template errors found", len(rep.Errors))
		}
		fmt.Println("✅ Templates are consistent with the section catalog.")
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's model usage and quotas",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer a.Close(context.WithoutCancel(ctx))

		st := a.gateway.UsageStats()
		fmt.Printf("📅 %s\n", st.Daily.Date)
		fmt.Printf("🤖 Model available: %v\n", a.gateway.Available())
		fmt.Printf("📊 Calls today: %d / %s\n", st.Daily.Total, limitString(st.Limits.Global))
		fmt.Printf("👤 Per-user limit: %s\n", limitString(st.Limits.User))
		if userID != "" {
			u := a.gateway.UserUsage(userID)
			remaining := "unlimited"
			if u.Remaining >= 0 {
				remaining = fmt.Sprint(u.Remaining)
			}
			fmt.Printf("   %s: %d used, %s remaining\n", userID, u.Today, remaining)
		}
	},
}

func limitString(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Validate and store an enterprise data file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		blob, err := enterprise.DecodeFile(args[0])
		if err != nil {
			log.Fatalf("Failed to read %s: %v", args[0], err)
		}
		v := enterprise.Validate(blob, enterprise.ValidationOptions{})
		for _, w := range v.Warnings {
			fmt.Printf("⚠️  %s\n", w)
		}
		if !v.OK() {
			log.Fatalf("Invalid enterprise data: %s", enterprise.FormatErrors(v.Errors))
		}

		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		id := strings.TrimSpace(enterpriseID)
		if id == "" {
			id = blob.String("basic_info.credit_code")
		}
		if id == "" {
			id = uuid.NewString()
		}
		if err := store.SaveEnterprise(cmd.Context(), id, blob); err != nil {
			log.Fatalf("Failed to save enterprise: %v", err)
		}
		fmt.Printf("💾 Stored %s as %s\n", enterprise.CompanyName(blob), id)
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded generation runs",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := initStore()
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()

		runs, err := store.ListRuns(cmd.Context(), enterpriseID, runsLimit)
		if err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return
		}
		for _, r := range runs {
			status := "✅"
			if !r.Success {
				status = "❌"
			}
			fmt.Printf("%s %s  %s  %-16s enterprise=%s errors=%d\n",
				status, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.ID, r.Mode, orDash(r.EnterpriseID), r.ErrorCount)
		}
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
