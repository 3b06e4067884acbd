package pipeline

import (
	"path/filepath"

	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

const (
	// AutoDir holds the collected file trees
	AutoDir = "auto"
	// NTFSDir holds the raw NTFS metadata files
	NTFSDir = "ntfs"
	// RootMarker is the escaped form of C:
	RootMarker = "C%3A"
	// UNCRootMarker is the escaped form of \\.\C:
	UNCRootMarker = `%5C%5C.%5CC%3A`
	// DestinationRootName is the top-level directory created on the volume
	DestinationRootName = "C"
	// VolumeLabel is the NTFS label given to the volume
	VolumeLabel = "C"
)

// Layout locates the source trees of a triage collection
type Layout struct {
	Root      string
	Primary   string // auto/C%3A
	Secondary string // auto/%5C%5C.%5CC%3A, empty when the collection has none
	Metadata  string // ntfs/%5C%5C.%5CC%3A
}

// ResolveLayout checks that root looks like a triage collection
func ResolveLayout(fs afero.Fs, root string) (*Layout, error) {
	if err := requireDir(fs, root, "triage root"); err != nil {
		return nil, err
	}

	layout := &Layout{
		Root:     root,
		Primary:  filepath.Join(root, AutoDir, RootMarker),
		Metadata: filepath.Join(root, NTFSDir, UNCRootMarker),
	}

	if err := requireDir(fs, layout.Primary, "file tree"); err != nil {
		return nil, err
	}
	if err := requireDir(fs, layout.Metadata, "NTFS metadata tree"); err != nil {
		return nil, err
	}

	secondary := filepath.Join(root, AutoDir, UNCRootMarker)
	if ok, _ := afero.IsDir(fs, secondary); ok {
		layout.Secondary = secondary
	}

	return layout, nil
}

func requireDir(fs afero.Fs, path, what string) error {
	ok, err := afero.IsDir(fs, path)
	if err != nil {
		return errors.Errorf("%s not found: %s", what, path)
	}
	if !ok {
		return errors.Errorf("%s is not a directory: %s", what, path)
	}
	return nil
}
