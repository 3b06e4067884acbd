// Package volumetest provides an in-memory volume.Provider for tests.
package volumetest

import (
	"context"
	"sync"

	"github.com/nace/triagedisk/internal/volume"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// Provider records every call and emulates image files and a mounted
// volume on an afero filesystem
type Provider struct {
	Fs        afero.Fs
	Letter    string // defaults to E
	MountRoot string // defaults to /mnt/E

	// Errors makes the named operation fail (e.g., "Attach")
	Errors map[string]error
	// Initialized makes QueryPartitionState report an existing partition table
	Initialized bool
	// Unmounted makes CreateMaximalPartition return no mount identity
	Unmounted bool

	mu       sync.Mutex
	calls    []string
	attached map[string]bool
	label    string
}

// New creates a fake provider over fs
func New(fs afero.Fs) *Provider {
	return &Provider{
		Fs:        fs,
		Letter:    "E",
		MountRoot: "/mnt/E",
		Errors:    map[string]error{},
	}
}

// Calls returns the operations invoked so far, in order
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// Count returns how many times op was invoked
func (p *Provider) Count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Label returns the label of the last FormatNTFS call
func (p *Provider) Label() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.label
}

// IsAttached reports whether the image at path is attached
func (p *Provider) IsAttached(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached[path]
}

func (p *Provider) record(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op)
	return p.Errors[op]
}

func (p *Provider) CheckAvailable(ctx context.Context) error {
	return p.record("CheckAvailable")
}

func (p *Provider) CreateImage(ctx context.Context, path string, sizeBytes uint64, dynamic bool) (volume.Image, error) {
	if err := p.record("CreateImage"); err != nil {
		return volume.Image{}, err
	}
	if err := afero.WriteFile(p.Fs, path, nil, 0o644); err != nil {
		return volume.Image{}, errors.WithStack(err)
	}
	return volume.Image{Path: path, SizeBytes: sizeBytes, Dynamic: dynamic}, nil
}

func (p *Provider) Attach(ctx context.Context, image volume.Image) (volume.DiskID, error) {
	if err := p.record("Attach"); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached == nil {
		p.attached = map[string]bool{}
	}
	p.attached[image.Path] = true
	return 1, nil
}

func (p *Provider) QueryPartitionState(ctx context.Context, disk volume.DiskID) (volume.PartitionState, error) {
	if err := p.record("QueryPartitionState"); err != nil {
		return volume.PartitionRaw, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Initialized {
		return volume.PartitionInitialized, nil
	}
	return volume.PartitionRaw, nil
}

func (p *Provider) InitializeDisk(ctx context.Context, disk volume.DiskID) error {
	if err := p.record("InitializeDisk"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Initialized = true
	return nil
}

func (p *Provider) CreateMaximalPartition(ctx context.Context, disk volume.DiskID) (volume.MountIdentity, error) {
	if err := p.record("CreateMaximalPartition"); err != nil {
		return volume.MountIdentity{}, err
	}
	if p.Unmounted {
		return volume.MountIdentity{}, nil
	}
	if err := p.Fs.MkdirAll(p.MountRoot, 0o755); err != nil {
		return volume.MountIdentity{}, errors.WithStack(err)
	}
	return volume.MountIdentity{Letter: p.Letter, Root: p.MountRoot}, nil
}

func (p *Provider) FormatNTFS(ctx context.Context, mount volume.MountIdentity, label string) error {
	if err := p.record("FormatNTFS"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = label
	return nil
}

func (p *Provider) Detach(ctx context.Context, image volume.Image) error {
	if err := p.record("Detach"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attached, image.Path)
	return nil
}

func (p *Provider) Inspect(ctx context.Context, path string) (*volume.Info, error) {
	if err := p.record("Inspect"); err != nil {
		return nil, err
	}
	exists, err := afero.Exists(p.Fs, path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !exists {
		return nil, errors.Errorf("image not found: %s", path)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	info := &volume.Info{Path: path, Attached: p.attached[path], Format: "VHDX", Type: "Dynamic"}
	if info.Attached {
		n := 1
		info.DiskNumber = &n
	}
	return info, nil
}

var _ volume.Provider = (*Provider)(nil)
