package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/jaa/ariadl/internal/config"
	"github.com/jaa/ariadl/internal/output"
)

func loadConfig(app *AppContext) (config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := config.Load(config.LoadOptions{
		ExplicitPath: strings.TrimSpace(app.Opts.ConfigPath),
		WorkingDir:   wd,
	})
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func isTTY(r io.Reader) bool {
	file, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// newLogger builds the run's event sink: NDJSON on stdout for --json, human
// lines otherwise. extra receives every event as well, e.g. an events file.
func newLogger(app *AppContext, extra ...output.EventEmitter) *output.Logger {
	var primary output.EventEmitter
	if app.Opts.JSON {
		primary = output.NewJSONEmitter(app.IO.Out)
	} else {
		primary = output.NewHumanEmitter(app.IO.Out, app.IO.ErrOut, app.Opts.Quiet, app.Opts.Verbose)
	}
	if len(extra) == 0 {
		return output.NewLogger(primary)
	}
	return output.NewLogger(output.NewMultiEmitter(append([]output.EventEmitter{primary}, extra...)...))
}
