package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmplab/dmpgen/internal/app"
	"github.com/dmplab/dmpgen/internal/pipeline"
	"github.com/dmplab/dmpgen/internal/prompt"
)

var generateFlags struct {
	title           string
	pi              string
	institution     string
	fields          []string
	sections        []string
	topK            int
	rebuildIndex    bool
	continueOnError bool
	workers         int
	timeout         time.Duration
	out             string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a full Data Management Plan",
	Long: `Generate drafts every plan section with retrieved policy context and
writes the assembled document to the outputs directory.

Project metadata is passed via flags; arbitrary extra fields use --field:

  dmpgen generate --title "Symptom Modeling Study" \
      --pi "Dr. Jane Doe" --institution "University of Iowa" \
      --field funding_agency=NIH --field data_volume="2 TB"`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generateFlags.title, "title", "", "project title (required)")
	f.StringVar(&generateFlags.pi, "pi", "", "principal investigator name")
	f.StringVar(&generateFlags.institution, "institution", "", "institution name")
	f.StringArrayVar(&generateFlags.fields, "field", nil, "extra project field as key=value (repeatable)")
	f.StringSliceVar(&generateFlags.sections, "sections", nil, "section keys to generate, in order (default: all)")
	f.IntVar(&generateFlags.topK, "top-k", 0, "context chunks per section (default from config)")
	f.BoolVar(&generateFlags.rebuildIndex, "rebuild-index", false, "force re-embedding even when a valid index exists")
	f.BoolVar(&generateFlags.continueOnError, "continue-on-error", false, "skip failed sections instead of aborting")
	f.IntVar(&generateFlags.workers, "workers", 0, "concurrent section generations (default from config)")
	f.DurationVar(&generateFlags.timeout, "timeout", 0, "overall run deadline, e.g. 5m (default from config)")
	f.StringVar(&generateFlags.out, "out", "", "output markdown file name (default dmp.md)")

	if err := generateCmd.MarkFlagRequired("title"); err != nil {
		panic(fmt.Sprintf("BUG: marking title required: %v", err))
	}

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}

	info, err := buildProjectInfo()
	if err != nil {
		return err
	}

	a, err := app.Setup(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	opts := pipeline.Options{
		SectionOrder:    generateFlags.sections,
		Info:            info,
		TopK:            cfg.TopK,
		RebuildIndex:    generateFlags.rebuildIndex,
		OutName:         generateFlags.out,
		ContinueOnError: cfg.ContinueOnError || generateFlags.continueOnError,
		Workers:         cfg.Workers,
		Timeout:         cfg.Timeout(),
	}
	if generateFlags.topK > 0 {
		opts.TopK = generateFlags.topK
	}
	if generateFlags.workers > 0 {
		opts.Workers = generateFlags.workers
	}
	if generateFlags.timeout > 0 {
		opts.Timeout = generateFlags.timeout
	}

	result, err := a.Runner.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s finished: %d section(s) generated", result.RunID, len(result.Sections))
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, ", %d failed", len(result.Errors))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Markdown: %s\n", result.MarkdownPath)
	if result.PDFPath != "" {
		fmt.Fprintf(out, "  PDF:      %s\n", result.PDFPath)
	}
	for key, secErr := range result.Errors {
		fmt.Fprintf(out, "  FAILED %s: %v\n", key, secErr)
	}
	return nil
}

// buildProjectInfo assembles the project metadata map from the flags.
func buildProjectInfo() (prompt.ProjectInfo, error) {
	info := prompt.ProjectInfo{"project_title": generateFlags.title}
	if generateFlags.pi != "" {
		info["pi_name"] = generateFlags.pi
	}
	if generateFlags.institution != "" {
		info["institution"] = generateFlags.institution
	}
	for _, field := range generateFlags.fields {
		key, value, err := parseField(field)
		if err != nil {
			return nil, err
		}
		info[key] = value
	}
	return info, nil
}

// parseField splits one --field argument into key and value.
func parseField(field string) (string, string, error) {
	key, value, ok := strings.Cut(field, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid --field %q: expected key=value", field)
	}
	return key, strings.TrimSpace(value), nil
}
