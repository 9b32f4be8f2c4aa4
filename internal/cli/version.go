package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version/build metadata",
		Run: func(cmd *cobra.Command, args []string) {
			if app.Opts.JSON {
				version, commit, date := buildMetadata(app.Build)
				encoded, _ := json.Marshal(map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": date,
				})
				fmt.Fprintln(app.IO.Out, string(encoded))
				return
			}
			printVersion(app)
		},
	}
}
