package system

import (
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"gitlab.com/tozd/go/errors"
)

// MinCapacity is the smallest image that still holds a usable NTFS volume
const MinCapacity = 64 * datasize.MB

// ParseCapacity converts a capacity string (8GB, 500M, 1T) to bytes.
// A bare number is taken as gigabytes.
func ParseCapacity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("capacity is required")
	}

	var size datasize.ByteSize
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		size = datasize.ByteSize(n) * datasize.GB
	} else {
		size, err = datasize.ParseString(s)
		if err != nil {
			return 0, errors.Errorf("invalid capacity: %s (use a size like 8GB, 512MB or a number of gigabytes)", s)
		}
	}

	if size < MinCapacity {
		return 0, errors.Errorf("capacity %s is below the minimum of %s", size.HumanReadable(), MinCapacity.HumanReadable())
	}

	return size.Bytes(), nil
}

// FormatSize converts bytes to human-readable format
func FormatSize(bytes uint64) string {
	return datasize.ByteSize(bytes).HumanReadable()
}
