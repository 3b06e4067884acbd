package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/nace/triagedisk/internal/cli"
	"github.com/nace/triagedisk/internal/pipeline"
	"github.com/nace/triagedisk/internal/system"
	"github.com/nace/triagedisk/internal/ui"
	"github.com/nace/triagedisk/internal/volume"
	"github.com/spf13/cobra"
)

var (
	ctx  *cli.GlobalContext
	once sync.Once
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(runCtx); err != nil {
		// build failures are already logged by the pipeline
		if _, ok := pipeline.ClassOf(err); !ok {
			ctx.Logger.Error("%v", err)
		}
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "triagedisk",
	Short: "triagedisk - package a triage collection as a C: volume image",
	Long: `triagedisk turns a forensic triage collection into a VHD/VHDX image that
mounts as an NTFS volume laid out like the original C: drive.

The collected files under auto/ and the raw NTFS metadata under ntfs/ are copied
with their escaped names restored, so forensic tools can open the image as if it
were the source system's drive. Requires Windows with the Hyper-V PowerShell
module and an elevated prompt.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		// Update context components with parsed flag and environment values
		once.Do(func() {
			v := cli.NewConfig()
			if err = cli.BindFlags(v, cmd.Root().PersistentFlags()); err != nil {
				return
			}
			// Recreate logger and provider with parsed flags
			ctx.Logger = ui.NewLogger(v.GetBool("verbose"), v.GetBool("quiet"), v.GetBool("no-color"))
			ctx.Provider = volume.NewHyperV(system.NewExecutor(v.GetBool("debug")))
		})
		return err
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Quiet mode (only warnings and errors on the console)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	rootCmd.PersistentFlags().Bool("debug", false, "Debug mode (log every PowerShell command)")

	// Create initial context with default values
	// Will be updated in PersistentPreRunE with parsed flag values
	ctx = cli.NewGlobalContext(false, false, false, false)

	// Register commands
	rootCmd.AddCommand(cli.NewBuildCommand(ctx))
	rootCmd.AddCommand(cli.NewDetachCommand(ctx))
	rootCmd.AddCommand(cli.NewInspectCommand(ctx))

	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
