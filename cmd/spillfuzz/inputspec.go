package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xgo-dev/spillfuzz/abi"
	"github.com/xgo-dev/spillfuzz/inputspec"
	"github.com/xgo-dev/spillfuzz/toolchain"
)

// newInputspecCmd resolves an input spec against a kernel arg spec and
// prints the flat, fully materialized form: every byte pinned, suitable for
// replaying a run elsewhere.
func newInputspecCmd() *cobra.Command {
	var (
		argspecPath string
		specPath    string
		bufferSize  int
	)
	cmd := &cobra.Command{
		Use:   "inputspec",
		Short: "materialize run inputs into the flat line format",
		RunE: func(cmd *cobra.Command, args []string) error {
			argspec, err := abi.LoadSpec(argspecPath)
			if err != nil {
				return &exitStatusError{code: 2, err: err}
			}
			spec, err := inputspec.LoadFile(specPath)
			if err != nil {
				return &exitStatusError{code: 2, err: err}
			}
			if bufferSize == 0 {
				bufferSize = toolchain.DefaultsFromEnv().BufferSize
			}
			m, err := inputspec.Resolve(argspec, spec, bufferSize)
			if err != nil {
				var usage *inputspec.UsageError
				if errors.As(err, &usage) {
					return &exitStatusError{code: 2, err: err}
				}
				return err
			}
			_, err = cmd.OutOrStdout().Write([]byte(m.Flatten()))
			return err
		},
	}
	cmd.Flags().StringVar(&argspecPath, "argspec", "", "kernel arg-spec file (required)")
	cmd.Flags().StringVar(&specPath, "spec", "", "input spec file, absent means all defaults")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 0, "default device buffer size in bytes")
	cmd.MarkFlagRequired("argspec")
	return cmd
}
