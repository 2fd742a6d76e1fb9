package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"chronicle/proofread/internal/flatten"
)

func newFlattenCommand(g *globals) *cobra.Command {
	var textOnly bool
	cmd := &cobra.Command{
		Use:   "flatten <file>",
		Short: "Print the flat text and anchors the analyzer sees for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			flat, err := flatten.Flatten(doc)
			if err != nil {
				return err
			}
			g.log.Debug("flattened", "path", args[0], "units", flat.Size(), "anchors", len(flat.Anchors))

			out := cmd.OutOrStdout()
			if textOnly {
				printf(out, "%s\n", flat.Text)
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(flat)
		},
	}
	cmd.Flags().BoolVar(&textOnly, "text", false, "print only the flat text")
	return cmd
}
