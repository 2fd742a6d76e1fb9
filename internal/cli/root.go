// Package cli is the proofread command line: batch checks of stored
// documents and maintenance of the analysis cache and run history.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chronicle/proofread/internal/config"
	"chronicle/proofread/internal/logging"
)

// globals carries what the persistent flags and PersistentPreRunE resolve
// for every subcommand.
type globals struct {
	configFile string
	verbose    bool

	cfg config.Config
	log *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "proofread",
		Short: "Proofread ProseMirror documents against a LanguageTool server",
		Long: `proofread flattens ProseMirror documents, sends the text to a
LanguageTool-compatible checker and reports the findings in document
positions.

Example usage:
  proofread check 'docs/**/*.json'     # Check every stored document
  proofread flatten doc.json           # Show the text the checker sees
  proofread cache prune                # Drop expired cached analyses`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg config.Config
				err error
			)
			if g.configFile != "" {
				cfg, err = config.LoadFile(g.configFile)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			g.cfg = cfg

			level := logging.ParseLevel(cfg.LogLevel)
			if g.verbose {
				level = slog.LevelDebug
			}
			g.log = logging.New(cmd.ErrOrStderr(), level, logging.FormatText)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (default is $PROOFREAD_CONFIG)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newCheckCommand(g),
		newFlattenCommand(g),
		newCacheCommand(g),
		newRunsCommand(g),
	)
	return root
}

// Execute runs the command tree against os.Args and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
