package volume

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// DefaultSettleDelay gives the host time to enumerate a freshly attached disk
const DefaultSettleDelay = 2 * time.Second

var (
	// ErrPrecondition is returned when the image cannot be safely provisioned
	ErrPrecondition = errors.Base("volume precondition failed")
	// ErrInvalidTransition is returned when a lifecycle step is called out of order
	ErrInvalidTransition = errors.Base("invalid lifecycle transition")
)

// Config describes the image a Controller provisions
type Config struct {
	Path        string
	SizeBytes   uint64
	Overwrite   bool
	SettleDelay time.Duration
	Label       string
	Sleep       func(time.Duration) // defaults to time.Sleep
}

// Controller is the lifecycle state machine of one image
type Controller struct {
	provider Provider
	fs       afero.Fs
	cfg      Config

	state    State
	prepared bool
	attached bool
	image    Image
	disk     DiskID
	mount    MountIdentity
}

// NewController creates a controller for the image described by cfg
func NewController(provider Provider, fs afero.Fs, cfg Config) *Controller {
	if cfg.Label == "" {
		cfg.Label = "C"
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Controller{
		provider: provider,
		fs:       fs,
		cfg:      cfg,
		state:    StateAbsent,
		image:    Image{Path: cfg.Path, SizeBytes: cfg.SizeBytes, Dynamic: true},
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	return c.state
}

// Attached reports whether the image is currently attached
func (c *Controller) Attached() bool {
	return c.attached
}

// Provision takes the image from absent to formatted and returns its mount identity
func (c *Controller) Provision(ctx context.Context) (MountIdentity, error) {
	steps := []func(context.Context) error{
		c.Prepare,
		c.Create,
		c.Attach,
		c.Initialize,
		c.Partition,
		c.Format,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return MountIdentity{}, err
		}
	}
	return c.mount, nil
}

// Prepare refuses to touch an existing image unless overwrite was requested,
// in which case the old image file is deleted
func (c *Controller) Prepare(ctx context.Context) error {
	if err := c.expect(StateAbsent, "prepare"); err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)

	exists, err := afero.Exists(c.fs, c.cfg.Path)
	if err != nil {
		return errors.Errorf("%w: checking image %s: %s", ErrPrecondition, c.cfg.Path, err)
	}

	if exists {
		if !c.cfg.Overwrite {
			return errors.Errorf("%w: image already exists: %s (use --overwrite to replace it)", ErrPrecondition, c.cfg.Path)
		}
		logger.Warn().Str("image", c.cfg.Path).Msg("removing existing image")
		if err := c.fs.Remove(c.cfg.Path); err != nil {
			return errors.Errorf("%w: removing existing image %s: %s", ErrPrecondition, c.cfg.Path, err)
		}
	}

	c.prepared = true
	return nil
}

// Create allocates a new dynamically expanding image
func (c *Controller) Create(ctx context.Context) error {
	if err := c.expect(StateAbsent, "create"); err != nil {
		return err
	}
	if !c.prepared {
		return errors.Errorf("%w: create called before prepare", ErrInvalidTransition)
	}
	logger := zerolog.Ctx(ctx)

	if err := c.fs.MkdirAll(filepath.Dir(c.cfg.Path), 0o755); err != nil {
		return errors.Errorf("creating output directory: %w", err)
	}

	logger.Info().Str("image", c.cfg.Path).Uint64("size", c.cfg.SizeBytes).Msg("creating image")
	image, err := c.provider.CreateImage(ctx, c.cfg.Path, c.cfg.SizeBytes, true)
	if err != nil {
		return errors.Errorf("creating image %s: %w", c.cfg.Path, err)
	}

	c.image = image
	c.state = StateCreated
	return nil
}

// Attach makes the image visible as a disk and waits for the host to settle
func (c *Controller) Attach(ctx context.Context) error {
	if err := c.expect(StateCreated, "attach"); err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)

	logger.Info().Str("image", c.image.Path).Msg("attaching image")
	disk, err := c.provider.Attach(ctx, c.image)
	if err != nil {
		return errors.Errorf("attaching image %s: %w", c.image.Path, err)
	}

	c.disk = disk
	c.attached = true
	c.state = StateAttached

	if c.cfg.SettleDelay > 0 {
		logger.Debug().Dur("delay", c.cfg.SettleDelay).Msg("waiting for disk to settle")
		c.cfg.Sleep(c.cfg.SettleDelay)
	}
	return nil
}

// Initialize writes a partition table unless the disk already has one.
// Calling it again after success is a no-op.
func (c *Controller) Initialize(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	switch c.state {
	case StateInitialized, StatePartitioned, StateFormatted:
		logger.Info().Int("disk", int(c.disk)).Msg("disk already initialized, skipping")
		return nil
	}
	if err := c.expect(StateAttached, "initialize"); err != nil {
		return err
	}

	state, err := c.provider.QueryPartitionState(ctx, c.disk)
	if err != nil {
		return errors.Errorf("querying partition state of disk %d: %w", c.disk, err)
	}

	if state == PartitionRaw {
		logger.Info().Int("disk", int(c.disk)).Msg("initializing disk")
		if err := c.provider.InitializeDisk(ctx, c.disk); err != nil {
			return errors.Errorf("initializing disk %d: %w", c.disk, err)
		}
	} else {
		logger.Info().Int("disk", int(c.disk)).Msg("disk already initialized, skipping")
	}

	c.state = StateInitialized
	return nil
}

// Partition creates a single partition spanning the disk
func (c *Controller) Partition(ctx context.Context) error {
	if err := c.expect(StateInitialized, "partition"); err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)

	logger.Info().Int("disk", int(c.disk)).Msg("creating partition")
	mount, err := c.provider.CreateMaximalPartition(ctx, c.disk)
	if err != nil {
		return errors.Errorf("creating partition on disk %d: %w", c.disk, err)
	}
	if mount.IsZero() {
		return errors.Errorf("creating partition on disk %d: no drive letter was assigned", c.disk)
	}

	c.mount = mount
	c.state = StatePartitioned
	logger.Info().Str("mount", mount.String()).Msg("partition mounted")
	return nil
}

// Format writes an NTFS filesystem with the configured label
func (c *Controller) Format(ctx context.Context) error {
	if err := c.expect(StatePartitioned, "format"); err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)

	logger.Info().Str("mount", c.mount.String()).Str("label", c.cfg.Label).Msg("formatting volume as NTFS")
	if err := c.provider.FormatNTFS(ctx, c.mount, c.cfg.Label); err != nil {
		return errors.Errorf("formatting %s: %w", c.mount, err)
	}

	c.state = StateFormatted
	return nil
}

// Detach dismounts the image if it was ever attached. Safe to call in any state.
func (c *Controller) Detach(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	if !c.attached {
		logger.Debug().Str("state", c.state.String()).Msg("image not attached, nothing to detach")
		return nil
	}

	logger.Info().Str("image", c.image.Path).Msg("detaching image")
	if err := c.provider.Detach(ctx, c.image); err != nil {
		return errors.Errorf("detaching image %s: %w", c.image.Path, err)
	}

	c.attached = false
	c.mount = MountIdentity{}
	c.state = StateDetached
	return nil
}

func (c *Controller) expect(want State, op string) error {
	if c.state != want {
		return errors.Errorf("%w: cannot %s in state %s", ErrInvalidTransition, op, c.state)
	}
	return nil
}
