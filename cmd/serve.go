package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tally/internal/config"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the ledger with live updates",
	Long: `Run the ledger program and serve it over HTTP.

Browsers get the rendered page, then patches over a WebSocket at /ws.
Entries can also be posted as JSON to /api/entries; /api/totals, /health
and /metrics report on the running program.

Examples:
  tally serve                          # Serve on localhost:8080
  tally serve --port 3000              # Serve on another port
  tally serve --import entries.yml     # Show and watch a YAML file of entries
  tally serve --flags '{"month":"2026-11"}'`,
	RunE: runServe,
}

var serveFlags *ProgramFlags

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().Int("event-rate", 50, "Events per second one browser may send (0 disables the limit)")
	serveCmd.Flags().String("db", "tally.db", "Ledger database file")
	serveCmd.Flags().String("import", "", "YAML file of entries to watch")
	serveFlags = AddProgramFlags(serveCmd)

	bindFlag(serveCmd, "port", "server.port")
	bindFlag(serveCmd, "host", "server.host")
	bindFlag(serveCmd, "event-rate", "server.event_rate")
	bindFlag(serveCmd, "db", "ledger.db_path")
	bindFlag(serveCmd, "import", "ledger.import_path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return err
	}
	flags, err := serveFlags.JSON()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := monitoring.NewMetricsCollector("tally", "")
	metrics := monitoring.NewRuntimeMetrics(collector)

	a, err := openApplication(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	// The server observes the runtime before it starts so the first frame
	// and the first totals reach it.
	srv, err := server.New(server.Options{
		Config:  cfg.Server,
		Title:   "Tally",
		Source:  a.runtime,
		Entries: a.app.EntriesPort(),
		Totals:  a.app.TotalsPort(),
		Store:   a.store,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	if err := a.start(ctx, flags); err != nil {
		return err
	}

	ran := make(chan struct{})
	go func() {
		defer close(ran)
		_ = a.runtime.Run(ctx)
	}()

	logger.Info(ctx, "Tally is running", "url", cfg.Server.Origin(), "db", cfg.Ledger.DBPath)
	err = srv.Start(ctx)

	stop()
	<-ran
	if err == nil {
		logger.Info(context.Background(), "Stopped")
	}
	return err
}
