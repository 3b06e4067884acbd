// Package volume drives a virtual disk image through its provisioning
// lifecycle: create, attach, initialize, partition, format and detach.
package volume

import (
	"context"
	"fmt"
)

// Image represents a virtual disk image backing file
type Image struct {
	Path      string // Absolute path to the image file
	SizeBytes uint64 // Requested capacity
	Dynamic   bool   // Dynamically expanding (sparse) backing file
}

// DiskID is the OS disk number assigned while an image is attached
type DiskID int

// PartitionState describes whether a disk has a partition table
type PartitionState int

const (
	// PartitionRaw means no partition table has been written
	PartitionRaw PartitionState = iota
	// PartitionInitialized means a partition table exists
	PartitionInitialized
)

func (s PartitionState) String() string {
	if s == PartitionRaw {
		return "raw"
	}
	return "initialized"
}

// MountIdentity is the transient drive identity of a partition
type MountIdentity struct {
	Letter string // Drive letter (e.g., E)
	Root   string // Root path of the volume (e.g., E:\)
}

// IsZero reports whether no mount identity was assigned
func (m MountIdentity) IsZero() bool {
	return m.Letter == "" && m.Root == ""
}

func (m MountIdentity) String() string {
	if m.Root != "" {
		return m.Root
	}
	return m.Letter
}

// Info is what the provider knows about an image file
type Info struct {
	Path       string `json:"path"`
	Attached   bool   `json:"attached"`
	DiskNumber *int   `json:"disk_number,omitempty"`
	Size       uint64 `json:"size"`
	FileSize   uint64 `json:"file_size"`
	Format     string `json:"format"`
	Type       string `json:"type"`
}

// Provider creates and manages virtual disk images on the host
type Provider interface {
	// CheckAvailable fails when the host cannot manage virtual disks
	CheckAvailable(ctx context.Context) error
	CreateImage(ctx context.Context, path string, sizeBytes uint64, dynamic bool) (Image, error)
	Attach(ctx context.Context, image Image) (DiskID, error)
	QueryPartitionState(ctx context.Context, disk DiskID) (PartitionState, error)
	// InitializeDisk writes an MBR partition table
	InitializeDisk(ctx context.Context, disk DiskID) error
	// CreateMaximalPartition creates one partition spanning the disk with an automatically assigned drive letter
	CreateMaximalPartition(ctx context.Context, disk DiskID) (MountIdentity, error)
	FormatNTFS(ctx context.Context, mount MountIdentity, label string) error
	Detach(ctx context.Context, image Image) error
	Inspect(ctx context.Context, path string) (*Info, error)
}

// RootFromLetter returns the volume root for a drive letter
func RootFromLetter(letter string) string {
	return fmt.Sprintf(`%s:\`, letter)
}
