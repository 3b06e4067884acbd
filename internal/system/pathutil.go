package system

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// ResolveDir returns the absolute, cleaned path of an existing directory
func ResolveDir(fs afero.Fs, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Errorf("invalid path %s: %w", path, err)
	}

	info, err := fs.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Errorf("directory not found: %s", abs)
		}
		return "", errors.Errorf("directory not accessible: %w", err)
	}

	if !info.IsDir() {
		return "", errors.Errorf("not a directory: %s", abs)
	}

	return abs, nil
}

var unsafeLogChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// DefaultLogPath derives the log file path from the image path and a timestamp:
// /out/triage.vhdx at 2024-05-01 10:11:12 becomes /out/triage_20240501_101112.log
func DefaultLogPath(imagePath string, now time.Time) string {
	base := filepath.Base(imagePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	name := strings.ReplaceAll(base, ".", "_")
	name = unsafeLogChars.ReplaceAllString(name, "")
	if name == "" {
		name = "triagedisk"
	}

	return filepath.Join(filepath.Dir(imagePath), name+"_"+now.Format("20060102_150405")+".log")
}
