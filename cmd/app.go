package cmd

import (
	"context"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/tally/internal/config"
	"github.com/conneroisu/tally/internal/ledger"
	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/program"
	"github.com/conneroisu/tally/internal/store"
)

// application is the ledger program with its store, ready to start.
type application struct {
	app     *ledger.App
	runtime *program.Runtime[ledger.Flags, ledger.Model]
	store   *store.Store
	mount   *html.Node
}

func newLogger(cfg config.LogConfig, out io.Writer) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Level),
		Format:    cfg.Format,
		Output:    out,
		Component: "tally",
	})
}

// openApplication opens the store and builds the program around it.
func openApplication(cfg *config.Config, logger logging.Logger, metrics *monitoring.RuntimeMetrics) (*application, error) {
	formatter, err := ledger.NewFormatter(cfg.Ledger.Locale, cfg.Ledger.Currency)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Ledger.DBPath, ledger.Bucket)
	if err != nil {
		return nil, err
	}

	app := ledger.New(ledger.Options{
		Formatter:  formatter,
		ImportPath: cfg.Ledger.ImportPath,
		Debounce:   cfg.Ledger.Debounce,
		Logger:     logger,
		Metrics:    metrics,
	})
	rt := program.New(app.Program(), program.Options{
		Logger:        logger,
		Metrics:       metrics,
		FrameInterval: cfg.Runtime.FrameInterval,
	})
	if err := app.Register(rt.Registry(), st); err != nil {
		st.Close()
		return nil, err
	}

	return &application{
		app:     app,
		runtime: rt,
		store:   st,
		mount:   &html.Node{Type: html.ElementNode, Data: "main", DataAtom: atom.Main},
	}, nil
}

func (a *application) start(ctx context.Context, flags []byte) error {
	return a.runtime.Start(ctx, flags, a.mount)
}

func (a *application) Close() error {
	a.runtime.Stop()
	return a.store.Close()
}
