// Command weft is the CLI for the weftgo incremental pipeline engine.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) error {
	root := newRootCmd(outW)
	root.SetOut(outW)
	root.SetArgs(args)
	return root.Execute()
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	planPath  string
	storeDir  string
	logLevel  string
	logFormat string
	workers   int
}

func newRootCmd(outW io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "weft",
		Short: "Incremental build engine for computational pipelines",
		Long: "weft runs declarative pipelines incrementally: every target is fingerprinted,\n" +
			"unchanged targets are skipped, and patterned targets fan out over runtime data.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.planPath, "plan", "p", "pipeline.hcl", "Path to the pipeline file.")
	root.PersistentFlags().StringVar(&flags.storeDir, "store", ".weft", "Root directory of the fingerprint store.")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Logging level: debug, info, warn, or error.")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "Log output format: text or json.")
	root.PersistentFlags().IntVar(&flags.workers, "workers", 0, "Worker pool size. 0 uses the default.")

	root.AddCommand(
		newRunCmd(flags, outW),
		newStatusCmd(flags, outW),
		newReadCmd(flags, outW),
		newInvalidateCmd(flags, outW),
		newDeleteCmd(flags, outW),
		newPruneCmd(flags, outW),
	)
	return root
}
