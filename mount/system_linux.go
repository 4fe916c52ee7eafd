//go:build linux

package mount

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

var _ Mounter = (*SystemMounter)(nil)

// SystemMounter performs real mounts through mount(2)/umount2(2) and
// manages device-mapper devices with dmsetup(8).
type SystemMounter struct{}

// NewSystemMounter returns the host Mounter
func NewSystemMounter() *SystemMounter {
	return &SystemMounter{}
}

func (SystemMounter) Bind(source, target string) error {
	return unix.Mount(source, target, "", unix.MS_BIND, "")
}

func (SystemMounter) Mount(source, target, fstype, options string) error {
	return unix.Mount(source, target, fstype, 0, options)
}

func (SystemMounter) Unmount(target string) error {
	err := unix.Unmount(target, 0)
	switch err {
	case nil:
		return nil
	case unix.EINVAL, unix.ENOENT:
		return fmt.Errorf("%w: %v", ErrNotMounted, err)
	default:
		return err
	}
}

func (SystemMounter) ActivateDevice(name, table string) error {
	return dmsetup("create", name, "--table", table)
}

func (SystemMounter) RemoveDevice(name string) error {
	return dmsetup("remove", name)
}

func (SystemMounter) Mounted(prefix string) ([]string, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Mountpoint)
	}
	sortDeepestFirst(out)
	return out, nil
}

func dmsetup(args ...string) error {
	out, err := exec.Command("dmsetup", args...).CombinedOutput()
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(out))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && (strings.Contains(msg, "No such device") || strings.Contains(msg, "not found")) {
		return fmt.Errorf("%w: %s", ErrNoDevice, msg)
	}
	if msg != "" {
		return fmt.Errorf("dmsetup %s: %w: %s", args[0], err, msg)
	}
	return fmt.Errorf("dmsetup %s: %w", args[0], err)
}
