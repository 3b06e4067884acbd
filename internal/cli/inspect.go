package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/nace/triagedisk/internal/system"
	"github.com/nace/triagedisk/internal/ui"
	"github.com/nace/triagedisk/internal/volume"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

// InspectCommand handles showing the state of an image
type InspectCommand struct {
	ctx  *GlobalContext
	json bool
}

// NewInspectCommand creates the inspect command
func NewInspectCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &InspectCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Show the state of an image",
		Long:  `Show the format, capacity and attachment state of a virtual disk image.`,
		Args:  cobra.ExactArgs(1),
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")

	return cobraCmd
}

// Run executes the inspect command
func (c *InspectCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.RequireHost(cmd.Context()); err != nil {
		return err
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Errorf("invalid path: %w", err)
	}

	info, err := c.ctx.Provider.Inspect(c.ctx.Logger.WithContext(cmd.Context()), absPath)
	if err != nil {
		return err
	}

	if c.json {
		return ui.FprintJSON(cmd.OutOrStdout(), info)
	}

	if c.ctx.Logger.Verbose {
		printInfoVerbose(cmd.OutOrStdout(), info)
	} else {
		printInfoTable(cmd.OutOrStdout(), info)
	}
	return nil
}

func diskNumber(info *volume.Info) string {
	if info.DiskNumber == nil {
		return "-"
	}
	return strconv.Itoa(*info.DiskNumber)
}

func printInfoTable(w io.Writer, info *volume.Info) {
	table := ui.NewTable("IMAGE", "FORMAT", "TYPE", "SIZE", "ATTACHED", "DISK")
	table.AddRow(
		info.Path,
		info.Format,
		info.Type,
		system.FormatSize(info.Size),
		strconv.FormatBool(info.Attached),
		diskNumber(info),
	)
	table.Fprint(w)
}

func printInfoVerbose(w io.Writer, info *volume.Info) {
	fmt.Fprintf(w, "Image: %s\n", info.Path)
	fmt.Fprintf(w, "  Format: %s\n", info.Format)
	fmt.Fprintf(w, "  Type: %s\n", info.Type)
	fmt.Fprintf(w, "  Size: %s\n", system.FormatSize(info.Size))
	fmt.Fprintf(w, "  File Size: %s", system.FormatSize(info.FileSize))
	if info.Size > 0 {
		percentage := float64(info.FileSize) / float64(info.Size) * 100
		fmt.Fprintf(w, " (%.1f%%)\n", percentage)
	} else {
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Attached: %t\n", info.Attached)
	if info.DiskNumber != nil {
		fmt.Fprintf(w, "  Disk: %d\n", *info.DiskNumber)
	}
}
