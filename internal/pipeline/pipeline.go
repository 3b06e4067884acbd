// Package pipeline turns a triage collection into a mounted-and-detached
// virtual disk that mirrors the original C: volume.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/nace/triagedisk/internal/copier"
	"github.com/nace/triagedisk/internal/system"
	"github.com/nace/triagedisk/internal/ui"
	"github.com/nace/triagedisk/internal/volume"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// Options describes one build
type Options struct {
	TriageRoot  string
	ImagePath   string
	SizeBytes   uint64
	Overwrite   bool
	SettleDelay time.Duration
	Retries     uint64
	Exclude     []string

	// RetryInterval and Sleep default to the copier and time package behaviour
	RetryInterval time.Duration
	Sleep         func(time.Duration)
}

// Result summarizes a successful build
type Result struct {
	ImagePath string        `json:"image_path"`
	Mount     string        `json:"mount"`
	Detached  bool          `json:"detached"`
	Stats     copier.Stats  `json:"stats"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline builds triage images
type Pipeline struct {
	fs         afero.Fs
	provider   volume.Provider
	privileges system.PrivilegeChecker
	logger     *ui.Logger
}

// New creates a pipeline
func New(fs afero.Fs, provider volume.Provider, privileges system.PrivilegeChecker, logger *ui.Logger) *Pipeline {
	return &Pipeline{
		fs:         fs,
		provider:   provider,
		privileges: privileges,
		logger:     logger,
	}
}

// Run builds the image described by opts. The image is detached on every
// path once it was attached; a detach failure is logged but does not change
// the returned error. Every returned error is a *Error.
func (p *Pipeline) Run(ctx context.Context, opts Options) (result *Result, err error) {
	start := time.Now()
	ctx = p.logger.WithContext(ctx)
	cleanup := system.NewCleanupStack()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = newError(ClassUnexpected, errors.Errorf("panic: %v", r))
		}
		if cerr := cleanup.Execute(); cerr != nil {
			p.logger.Error("Failed to detach image: %v", cerr)
			p.logger.Warning("Run 'triagedisk detach %s' to release it", opts.ImagePath)
		}
		if err != nil {
			p.logger.Error("Build failed: %v", err)
			return
		}
		result.Duration = time.Since(start)
		p.logger.Success("Image created: %s", result.ImagePath)
	}()

	return p.execute(ctx, opts, cleanup)
}

func (p *Pipeline) execute(ctx context.Context, opts Options, cleanup *system.CleanupStack) (*Result, error) {
	// Step 1: Preconditions
	if err := system.RequireElevated(p.privileges); err != nil {
		return nil, newError(ClassPrecondition, err)
	}
	if err := p.provider.CheckAvailable(ctx); err != nil {
		return nil, newError(ClassPrecondition, err)
	}
	if opts.ImagePath == "" {
		return nil, newError(ClassPrecondition, errors.New("image path is required"))
	}
	if opts.SizeBytes == 0 {
		return nil, newError(ClassPrecondition, errors.New("image size is required"))
	}

	p.logger.Info("Validating triage root: %s", opts.TriageRoot)
	layout, err := ResolveLayout(p.fs, opts.TriageRoot)
	if err != nil {
		return nil, newError(ClassPrecondition, err)
	}

	cp, err := copier.New(copier.Options{
		Fs:            p.fs,
		Exclude:       opts.Exclude,
		Retries:       opts.Retries,
		RetryInterval: opts.RetryInterval,
	})
	if err != nil {
		return nil, newError(ClassPrecondition, err)
	}

	// Step 2: Provision the volume
	controller := volume.NewController(p.provider, p.fs, volume.Config{
		Path:        opts.ImagePath,
		SizeBytes:   opts.SizeBytes,
		Overwrite:   opts.Overwrite,
		SettleDelay: opts.SettleDelay,
		Label:       VolumeLabel,
		Sleep:       opts.Sleep,
	})
	// Detach must still run after an interrupt cancelled ctx
	detachCtx := context.WithoutCancel(ctx)
	cleanup.Add(func() error {
		return controller.Detach(detachCtx)
	})

	p.logger.Info("Provisioning %s image: %s", system.FormatSize(opts.SizeBytes), opts.ImagePath)
	mount, err := controller.Provision(ctx)
	if err != nil {
		if errors.Is(err, volume.ErrPrecondition) {
			return nil, newError(ClassPrecondition, err)
		}
		return nil, newError(ClassLifecycle, err)
	}

	dest := filepath.Join(mount.Root, DestinationRootName)
	if err := p.fs.MkdirAll(dest, 0o755); err != nil {
		return nil, newError(ClassLifecycle, errors.Errorf("creating %s: %w", dest, err))
	}

	// Step 3: Populate it
	p.logger.Info("Copying %s", layout.Primary)
	if err := cp.Copy(ctx, layout.Primary, dest); err != nil {
		return nil, p.copyError(ctx, err)
	}

	if layout.Secondary != "" {
		p.logger.Info("Copying %s", layout.Secondary)
		if err := cp.Copy(ctx, layout.Secondary, dest); err != nil {
			return nil, p.copyError(ctx, err)
		}
	} else {
		p.logger.Warning("No %s tree in %s, skipping", UNCRootMarker, filepath.Join(layout.Root, AutoDir))
	}

	p.logger.Info("Copying NTFS metadata from %s", layout.Metadata)
	if err := cp.CopyMetadata(ctx, layout.Metadata, dest); err != nil {
		return nil, p.copyError(ctx, err)
	}

	stats := cp.Stats()
	p.logger.Info("Copied %d files (%s) in %d directories; %d skipped, %d failed",
		stats.Files, system.FormatSize(uint64(stats.Bytes)), stats.Directories, stats.Skipped, stats.Failed)

	// Step 4: Release the volume
	if err := cleanup.Execute(); err != nil {
		p.logger.Error("Failed to detach image: %v", err)
		p.logger.Warning("Run 'triagedisk detach %s' to release it", opts.ImagePath)
	}

	return &Result{
		ImagePath: opts.ImagePath,
		Mount:     mount.String(),
		Detached:  !controller.Attached(),
		Stats:     stats,
	}, nil
}

func (p *Pipeline) copyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return newError(ClassUnexpected, errors.Errorf("interrupted: %w", err))
	}
	return newError(ClassLifecycle, err)
}
