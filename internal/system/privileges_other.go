//go:build !windows

package system

import (
	"os"
)

func isElevated() bool {
	return os.Geteuid() == 0
}
