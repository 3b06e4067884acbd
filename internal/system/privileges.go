package system

import (
	"gitlab.com/tozd/go/errors"
)

// ErrNotElevated is returned when the process lacks administrative rights
var ErrNotElevated = errors.Base("this command must be run as Administrator (elevated)")

// PrivilegeChecker reports whether the process may manage disks
type PrivilegeChecker interface {
	HasElevatedPrivilege() bool
}

// OSPrivileges checks the privileges of the running process
type OSPrivileges struct{}

// HasElevatedPrivilege reports whether the process is elevated
func (OSPrivileges) HasElevatedPrivilege() bool {
	return isElevated()
}

// RequireElevated ensures the program is running with administrative rights
func RequireElevated(checker PrivilegeChecker) error {
	if !checker.HasElevatedPrivilege() {
		return errors.WithStack(ErrNotElevated)
	}
	return nil
}
