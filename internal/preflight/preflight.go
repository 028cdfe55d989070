// Package preflight validates resource preconditions before heavy transfer
// work starts: the target directory must exist, be writable, and sit on a
// filesystem with enough free space.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"bobine/internal/services"
)

// CheckDirectoryAccess ensures path exists as a writable directory, creating
// it when missing. Writability is verified with a probe file so permission
// oddities (read-only mounts, ACLs) surface here rather than mid-download.
func CheckDirectoryAccess(path string) error {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return services.Wrap(services.ErrPrecondition, "download", "directory", fmt.Sprintf("cannot create %s", path), mkErr)
		}
	case err != nil:
		return services.Wrap(services.ErrPrecondition, "download", "directory", fmt.Sprintf("cannot stat %s", path), err)
	case !info.IsDir():
		return services.Wrap(services.ErrPrecondition, "download", "directory", fmt.Sprintf("%s is not a directory", path), nil)
	}

	probe, err := os.CreateTemp(path, ".bobine-probe-*")
	if err != nil {
		if accessErr := unix.Access(path, unix.W_OK); accessErr != nil {
			return services.Wrap(services.ErrPrecondition, "download", "directory", fmt.Sprintf("%s is not writable", path), accessErr)
		}
		return services.Wrap(services.ErrPrecondition, "download", "directory", fmt.Sprintf("probe write in %s failed", path), err)
	}
	name := probe.Name()
	_ = probe.Close()
	if err := os.Remove(name); err != nil {
		return services.Wrap(services.ErrPrecondition, "download", "directory", fmt.Sprintf("cannot clean probe file in %s", path), err)
	}
	return nil
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes
// available to unprivileged writers.
func CheckFreeSpace(path string, minBytes int64) error {
	if minBytes <= 0 {
		return nil
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return services.Wrap(services.ErrPrecondition, "download", "free space", fmt.Sprintf("cannot stat filesystem of %s", path), err)
	}
	available := int64(stat.Bavail) * stat.Bsize
	if available < minBytes {
		return services.Wrap(services.ErrPrecondition, "download", "free space",
			fmt.Sprintf("%s has %d MiB free, need %d MiB", path, available>>20, minBytes>>20), nil)
	}
	return nil
}

// CheckTarget runs all download preconditions for a target directory.
func CheckTarget(dir string, minFreeBytes int64) error {
	if err := CheckDirectoryAccess(dir); err != nil {
		return err
	}
	return CheckFreeSpace(dir, minFreeBytes)
}

// CheckBinary verifies an external tool is resolvable on PATH or as a direct
// path.
func CheckBinary(binary string) error {
	if binary == "" {
		return services.Wrap(services.ErrConfiguration, "", "binary", "no binary configured", nil)
	}
	if filepath.IsAbs(binary) || len(filepath.Dir(binary)) > 1 {
		if _, err := os.Stat(binary); err != nil {
			return services.Wrap(services.ErrConfiguration, "", "binary", fmt.Sprintf("%s not found", binary), err)
		}
		return nil
	}
	if _, err := exec.LookPath(binary); err != nil {
		return services.Wrap(services.ErrConfiguration, "", "binary", fmt.Sprintf("%s not found on PATH", binary), err)
	}
	return nil
}
