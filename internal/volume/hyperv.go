package volume

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nace/triagedisk/internal/system"
	"gitlab.com/tozd/go/errors"
)

// Runner runs PowerShell scripts on the host
type Runner interface {
	RunPowerShell(ctx context.Context, script string) (string, error)
	CheckDependencies(deps []string) error
}

// HyperV manages VHD/VHDX images through the Hyper-V and Storage cmdlets
type HyperV struct {
	runner Runner
}

// NewHyperV creates a new Hyper-V provider
func NewHyperV(runner Runner) *HyperV {
	return &HyperV{
		runner: runner,
	}
}

// CheckAvailable verifies PowerShell and the Hyper-V module are present
func (h *HyperV) CheckAvailable(ctx context.Context) error {
	if err := h.runner.CheckDependencies([]string{system.PowerShell}); err != nil {
		return err
	}
	if _, err := h.runner.RunPowerShell(ctx, "Get-Command New-VHD | Out-Null"); err != nil {
		return errors.Errorf("Hyper-V PowerShell module is not available (enable the Hyper-V management tools): %w", err)
	}
	return nil
}

// CreateImage creates a new virtual disk file
func (h *HyperV) CreateImage(ctx context.Context, path string, sizeBytes uint64, dynamic bool) (Image, error) {
	kind := "-Fixed"
	if dynamic {
		kind = "-Dynamic"
	}

	script := "New-VHD -Path " + system.QuotePS(path) +
		" -SizeBytes " + strconv.FormatUint(sizeBytes, 10) + " " + kind + " | Out-Null"
	if _, err := h.runner.RunPowerShell(ctx, script); err != nil {
		return Image{}, errors.Errorf("failed to create virtual disk %s: %w", path, err)
	}

	return Image{Path: path, SizeBytes: sizeBytes, Dynamic: dynamic}, nil
}

// Attach mounts the image as a disk and returns its disk number
func (h *HyperV) Attach(ctx context.Context, image Image) (DiskID, error) {
	script := "(Mount-VHD -Path " + system.QuotePS(image.Path) + " -PassThru | Get-Disk).Number"
	output, err := h.runner.RunPowerShell(ctx, script)
	if err != nil {
		return 0, errors.Errorf("failed to attach virtual disk %s: %w", image.Path, err)
	}

	number, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0, errors.Errorf("unexpected disk number %q for %s", output, image.Path)
	}
	return DiskID(number), nil
}

// QueryPartitionState reports whether the disk already has a partition table
func (h *HyperV) QueryPartitionState(ctx context.Context, disk DiskID) (PartitionState, error) {
	script := "(Get-Disk -Number " + strconv.Itoa(int(disk)) + ").PartitionStyle"
	output, err := h.runner.RunPowerShell(ctx, script)
	if err != nil {
		return PartitionRaw, errors.Errorf("failed to query disk %d: %w", disk, err)
	}

	if strings.EqualFold(strings.TrimSpace(output), "RAW") {
		return PartitionRaw, nil
	}
	return PartitionInitialized, nil
}

// InitializeDisk writes an MBR partition table
func (h *HyperV) InitializeDisk(ctx context.Context, disk DiskID) error {
	script := "Initialize-Disk -Number " + strconv.Itoa(int(disk)) + " -PartitionStyle MBR"
	if _, err := h.runner.RunPowerShell(ctx, script); err != nil {
		return errors.Errorf("failed to initialize disk %d: %w", disk, err)
	}
	return nil
}

// CreateMaximalPartition creates one partition over the whole disk and
// returns the drive letter Windows assigned to it
func (h *HyperV) CreateMaximalPartition(ctx context.Context, disk DiskID) (MountIdentity, error) {
	script := "(New-Partition -DiskNumber " + strconv.Itoa(int(disk)) +
		" -UseMaximumSize -AssignDriveLetter).DriveLetter"
	output, err := h.runner.RunPowerShell(ctx, script)
	if err != nil {
		return MountIdentity{}, errors.Errorf("failed to create partition on disk %d: %w", disk, err)
	}

	// An unassigned letter comes back empty or as a NUL character
	letter := strings.Trim(strings.TrimSpace(output), "\x00")
	if letter == "" {
		return MountIdentity{}, nil
	}
	letter = strings.ToUpper(letter[:1])
	return MountIdentity{Letter: letter, Root: RootFromLetter(letter)}, nil
}

// FormatNTFS formats the volume with NTFS and the given label
func (h *HyperV) FormatNTFS(ctx context.Context, mount MountIdentity, label string) error {
	if mount.Letter == "" {
		return errors.New("cannot format a volume without a drive letter")
	}

	script := "Format-Volume -DriveLetter " + mount.Letter +
		" -FileSystem NTFS -NewFileSystemLabel " + system.QuotePS(label) +
		" -Confirm:$false -Force | Out-Null"
	if _, err := h.runner.RunPowerShell(ctx, script); err != nil {
		return errors.Errorf("failed to format %s: %w", mount, err)
	}
	return nil
}

// Detach dismounts the image
func (h *HyperV) Detach(ctx context.Context, image Image) error {
	script := "Dismount-VHD -Path " + system.QuotePS(image.Path)
	if _, err := h.runner.RunPowerShell(ctx, script); err != nil {
		return errors.Errorf("failed to detach virtual disk %s: %w", image.Path, err)
	}
	return nil
}

// getVHDOutput is the projection of Get-VHD emitted as JSON
type getVHDOutput struct {
	Path       string `json:"Path"`
	Attached   bool   `json:"Attached"`
	DiskNumber *int   `json:"DiskNumber"`
	Size       uint64 `json:"Size"`
	FileSize   uint64 `json:"FileSize"`
	VhdFormat  string `json:"VhdFormat"`
	VhdType    string `json:"VhdType"`
}

// Inspect reports the state of an image file
func (h *HyperV) Inspect(ctx context.Context, path string) (*Info, error) {
	script := "$v = Get-VHD -Path " + system.QuotePS(path) + "; " +
		"[pscustomobject]@{Path=$v.Path; Attached=$v.Attached; DiskNumber=$v.DiskNumber; " +
		"Size=$v.Size; FileSize=$v.FileSize; VhdFormat=$v.VhdFormat.ToString(); VhdType=$v.VhdType.ToString()} " +
		"| ConvertTo-Json -Compress"
	output, err := h.runner.RunPowerShell(ctx, script)
	if err != nil {
		return nil, errors.Errorf("failed to inspect virtual disk %s: %w", path, err)
	}

	var result getVHDOutput
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		return nil, errors.Errorf("failed to parse Get-VHD output: %w", err)
	}

	return &Info{
		Path:       result.Path,
		Attached:   result.Attached,
		DiskNumber: result.DiskNumber,
		Size:       result.Size,
		FileSize:   result.FileSize,
		Format:     result.VhdFormat,
		Type:       result.VhdType,
	}, nil
}
