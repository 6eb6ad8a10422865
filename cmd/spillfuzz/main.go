// Command spillfuzz fuzzes the register-spilling stages of the AMDGPU
// backend: it compiles corpus programs under randomized register budgets,
// checks every stack-slot restore for a dominating save in the machine
// dump, and optionally runs reference and mutated binaries differentially
// on a device.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "spillfuzz",
		Short:         "differential fuzzer for spill/reload insertion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newArgspecCmd(),
		newInputspecCmd(),
		newDiffCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spillfuzz:", err)
		os.Exit(exitCode(err))
	}
}

// exitStatusError carries an explicit process exit status. Used to separate
// "mismatch found" (1) from usage errors (2).
type exitStatusError struct {
	code int
	err  error
}

func (e *exitStatusError) Error() string { return e.err.Error() }
func (e *exitStatusError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if es, ok := err.(*exitStatusError); ok {
		return es.code
	}
	return 1
}
