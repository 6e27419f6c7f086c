package cmd

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tally/internal/config"
	"github.com/conneroisu/tally/internal/server"
)

var renderCmd = &cobra.Command{
	Use:     "render",
	Aliases: []string{"r"},
	Short:   "Render the ledger page once",
	Long: `Start the ledger program, wait for its entries to load and print the
resulting page as static HTML.

Examples:
  tally render                                # Current month to stdout
  tally render --flags '{"month":"2026-11"}'  # Another month
  tally render --flags @flags.json -o out.html
  tally render --import entries.yml           # Include a YAML file of entries`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

var (
	renderFlags   *ProgramFlags
	renderOutput  string
	renderTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().String("db", "tally.db", "Ledger database file")
	renderCmd.Flags().String("import", "", "YAML file of entries to include")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Write the page to a file instead of stdout")
	renderCmd.Flags().DurationVar(&renderTimeout, "timeout", 2*time.Second, "How long to wait for entries to load")
	renderFlags = AddProgramFlags(renderCmd)

	bindFlag(renderCmd, "db", "ledger.db_path")
	bindFlag(renderCmd, "import", "ledger.import_path")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return err
	}
	flags, err := renderFlags.JSON()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	a, err := openApplication(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.start(cmd.Context(), flags); err != nil {
		return err
	}

	// Loading the store and the import file each bump the model version.
	want := 1
	if cfg.Ledger.ImportPath != "" {
		want = 2
	}
	deadline := time.Now().Add(renderTimeout)
	for a.runtime.Model().Version < want && time.Now().Before(deadline) {
		if a.runtime.Tick() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	a.runtime.Tick()

	body, seq, err := a.runtime.SnapshotFrame()
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if renderOutput != "" {
		f, err := os.Create(renderOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	page := server.Page(server.PageData{Title: "Tally", Body: body, Seq: seq})
	return page.Render(cmd.Context(), out)
}
