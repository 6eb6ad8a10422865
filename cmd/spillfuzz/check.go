package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xgo-dev/spillfuzz"
)

// newCheckCmd runs the static spill-dominance oracle over a machine dump,
// either a stored artifact or llc output piped on stdin. Exit status 1 means
// the dump has at least one unsaved restore.
func newCheckCmd() *cobra.Command {
	var (
		showTree bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "check [dump-file]",
		Short: "check a machine dump for restores without a dominating save",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			if showTree {
				funcs, err := spillfuzz.ParseDump(in)
				if err != nil {
					return err
				}
				for _, fn := range funcs {
					if err := spillfuzz.WriteDomTree(cmd.OutOrStdout(), fn); err != nil {
						return err
					}
				}
				return nil
			}

			issues, err := spillfuzz.CheckDump(in)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(issues); err != nil {
					return err
				}
			} else {
				for _, is := range issues {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: stack.%d: %s\n", is.Function, is.Block, is.Slot, is.Reason)
				}
			}
			if len(issues) > 0 {
				return &exitStatusError{code: 1, err: fmt.Errorf("%d restores without a dominating save", len(issues))}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTree, "tree", false, "print the dominator tree instead of checking")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit issues as JSON")
	return cmd
}
