package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xgo-dev/spillfuzz/abi"
	"github.com/xgo-dev/spillfuzz/toolchain"
)

// newArgspecCmd extracts a kernel's argument shape from a loadable binary
// and prints (or saves) the line-oriented arg-spec format.
func newArgspecCmd() *cobra.Command {
	var (
		kernel  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "argspec <binary>",
		Short: "extract a kernel arg spec from a compiled code object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp := &toolchain.Subprocess{Tools: toolchain.FromEnv()}
			md, err := comp.ReadKernelMetadata(contextOf(cmd), args[0])
			if err != nil {
				return err
			}
			spec, err := abi.ParseMetadata(md, kernel)
			if err != nil {
				return err
			}
			if outPath != "" {
				return spec.WriteFile(outPath)
			}
			_, err = cmd.OutOrStdout().Write([]byte(spec.Format()))
			return err
		},
	}
	cmd.Flags().StringVar(&kernel, "kernel", "", "kernel name, default first usable kernel")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the spec to a file")
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
