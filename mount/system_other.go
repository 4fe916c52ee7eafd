//go:build !linux

package mount

import "errors"

var errUnsupported = errors.New("mounts are only supported on linux")

var _ Mounter = (*SystemMounter)(nil)

// SystemMounter is unavailable on this platform; every call fails.
type SystemMounter struct{}

// NewSystemMounter returns a Mounter that always fails
func NewSystemMounter() *SystemMounter {
	return &SystemMounter{}
}

func (SystemMounter) Bind(source, target string) error                  { return errUnsupported }
func (SystemMounter) Mount(source, target, fstype, options string) error { return errUnsupported }
func (SystemMounter) Unmount(target string) error                       { return errUnsupported }
func (SystemMounter) ActivateDevice(name, table string) error            { return errUnsupported }
func (SystemMounter) RemoveDevice(name string) error                    { return errUnsupported }
func (SystemMounter) Mounted(prefix string) ([]string, error)           { return nil, errUnsupported }
