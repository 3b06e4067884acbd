package cli

import (
	"context"

	"github.com/nace/triagedisk/internal/system"
	"github.com/nace/triagedisk/internal/ui"
	"github.com/nace/triagedisk/internal/volume"
	"github.com/spf13/afero"
)

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Logger     *ui.Logger
	Fs         afero.Fs
	Provider   volume.Provider
	Privileges system.PrivilegeChecker
}

// NewGlobalContext creates a new global context
func NewGlobalContext(verbose, quiet, noColor, debug bool) *GlobalContext {
	return &GlobalContext{
		Logger:     ui.NewLogger(verbose, quiet, noColor),
		Fs:         afero.NewOsFs(),
		Provider:   volume.NewHyperV(system.NewExecutor(debug)),
		Privileges: system.OSPrivileges{},
	}
}

// RequireHost checks the process is elevated and the host can manage virtual disks
func (ctx *GlobalContext) RequireHost(runCtx context.Context) error {
	if err := system.RequireElevated(ctx.Privileges); err != nil {
		return err
	}
	return ctx.Provider.CheckAvailable(ctx.Logger.WithContext(runCtx))
}
