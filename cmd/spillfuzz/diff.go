package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xgo-dev/spillfuzz/abi"
	"github.com/xgo-dev/spillfuzz/device"
	"github.com/xgo-dev/spillfuzz/inputspec"
	"github.com/xgo-dev/spillfuzz/runner"
	"github.com/xgo-dev/spillfuzz/toolchain"
)

// newDiffCmd replays one differential run against two loadable binaries.
// Exit status: 0 outputs match, 1 mismatch, 2 usage error.
func newDiffCmd() *cobra.Command {
	var (
		binA        string
		binB        string
		argspecPath string
		specPath    string
		bufferSize  int
		deviceOrd   int
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "run two kernel binaries on identical inputs and compare outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			// A spec that cannot be loaded is an argument error, status 2.
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

			rt, err := device.OpenHIP(deviceOrd)
			if err != nil {
				return err
			}
			defer rt.Close()

			verdict, err := runner.Diff(rt, binA, binB, argspec, m)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(verdict); err != nil {
					return err
				}
			} else if !verdict.Match {
				for _, mm := range verdict.Mismatches {
					fmt.Fprintf(cmd.OutOrStdout(), "arg %d differs at offset %d: %02x != %02x (%s)\n",
						mm.ArgIndex, mm.Offset, mm.A, mm.B, mm.Context)
				}
			}
			if !verdict.Match {
				return &exitStatusError{code: 1, err: fmt.Errorf("outputs differ")}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "match")
			return nil
		},
	}
	cmd.Flags().StringVar(&binA, "hsaco-a", "", "first code object (required)")
	cmd.Flags().StringVar(&binB, "hsaco-b", "", "second code object (required)")
	cmd.Flags().StringVar(&argspecPath, "argspec", "", "kernel arg-spec file (required)")
	cmd.Flags().StringVar(&specPath, "spec", "", "input spec file")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 0, "default device buffer size in bytes")
	cmd.Flags().IntVar(&deviceOrd, "device-ordinal", 0, "HIP device ordinal")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the verdict as JSON")
	cmd.MarkFlagRequired("hsaco-a")
	cmd.MarkFlagRequired("hsaco-b")
	cmd.MarkFlagRequired("argspec")
	return cmd
}
