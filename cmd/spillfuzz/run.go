package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xgo-dev/spillfuzz/device"
	"github.com/xgo-dev/spillfuzz/fuzz"
	"github.com/xgo-dev/spillfuzz/toolchain"
)

func newRunCmd() *cobra.Command {
	var (
		opts      fuzz.Options
		useDevice bool
		deviceOrd int
		spillMode string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a fuzz campaign over a corpus of IR modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := toolchain.DefaultsFromEnv()
			if opts.BufferSize == 0 {
				opts.BufferSize = defaults.BufferSize
			}
			if opts.Kernel == "" {
				opts.Kernel = defaults.Kernel
			}
			if defaults.Strict {
				opts.Strict = true
			}
			switch spillMode {
			case "":
			case "on":
				v := true
				opts.SpillSGPRToVGPR = &v
			case "off":
				v := false
				opts.SpillSGPRToVGPR = &v
			default:
				return usageErrorf("bad --spill-sgpr-to-vgpr %q (want on or off)", spillMode)
			}

			comp := &toolchain.Subprocess{Tools: toolchain.FromEnv()}
			var rt device.Runtime
			if useDevice {
				var err error
				rt, err = device.OpenHIP(deviceOrd)
				if err != nil {
					return err
				}
				defer rt.Close()
			}

			c, err := fuzz.New(opts, comp, rt, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.CorpusDir, "corpus", "", "directory of .ll modules (required)")
	cmd.Flags().StringVar(&opts.OutDir, "out", "out", "output directory for journal and findings")
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "n", 100, "number of iterations")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "campaign seed")
	cmd.Flags().StringSliceVar(&opts.Passes, "stop-after", []string{"greedy"}, "pass-pipeline stop point")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "pass -verify-machineinstrs to the compiler")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "report compile/link failures as findings")
	cmd.Flags().StringVar(&opts.Kernel, "kernel", "", "kernel name for the dynamic oracle")
	cmd.Flags().IntVar(&opts.BufferSize, "buffer-size", 0, "default device buffer size in bytes")
	cmd.Flags().IntVar(&opts.Limits.MinVGPR, "min-vgpr", 0, "minimum VGPR budget")
	cmd.Flags().IntVar(&opts.Limits.MaxVGPR, "max-vgpr", 0, "maximum VGPR budget")
	cmd.Flags().IntVar(&opts.Limits.MinSGPR, "min-sgpr", 0, "minimum SGPR budget")
	cmd.Flags().IntVar(&opts.Limits.MaxSGPR, "max-sgpr", 0, "maximum SGPR budget")
	cmd.Flags().StringVar(&spillMode, "spill-sgpr-to-vgpr", "", "pin SGPR-to-VGPR spilling (on or off)")
	cmd.Flags().BoolVar(&useDevice, "device", false, "run the dynamic oracle on a HIP device")
	cmd.Flags().IntVar(&deviceOrd, "device-ordinal", 0, "HIP device ordinal")
	cmd.MarkFlagRequired("corpus")
	return cmd
}

func usageErrorf(format string, args ...any) error {
	return &exitStatusError{code: 2, err: fmt.Errorf(format, args...)}
}
