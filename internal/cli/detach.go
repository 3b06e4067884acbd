package cli

import (
	"path/filepath"

	"github.com/nace/triagedisk/internal/volume"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

// DetachCommand handles releasing an image left attached
type DetachCommand struct {
	ctx *GlobalContext
}

// NewDetachCommand creates the detach command
func NewDetachCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &DetachCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "detach <image>",
		Short: "Detach an image left attached",
		Long:  `Detach a virtual disk left attached by an interrupted or failed build.`,
		Args:  cobra.ExactArgs(1),
		RunE:  cmd.Run,
	}

	return cobraCmd
}

// Run executes the detach command
func (c *DetachCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.RequireHost(cmd.Context()); err != nil {
		return err
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Errorf("invalid path: %w", err)
	}

	return c.execute(cmd, absPath)
}

func (c *DetachCommand) execute(cmd *cobra.Command, path string) error {
	ctx := c.ctx.Logger.WithContext(cmd.Context())

	info, err := c.ctx.Provider.Inspect(ctx, path)
	if err != nil {
		return err
	}

	if !info.Attached {
		c.ctx.Logger.Info("Image is not attached: %s", path)
		return nil
	}

	c.ctx.Logger.Info("Detaching %s...", path)
	if err := c.ctx.Provider.Detach(ctx, volume.Image{Path: path}); err != nil {
		return err
	}

	c.ctx.Logger.Success("Image detached: %s", path)
	return nil
}
