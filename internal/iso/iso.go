// Package iso assembles the bootable installation ISO from an existing
// update file and a cdrom-variant BaseChroot cache: a thin wrapper around
// mksquashfs and grub-mkrescue, out of the core's scope beyond the inputs
// it consumes.
package iso

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	copydir "github.com/otiai10/copy"
	"golang.org/x/sys/unix"

	"github.com/M0Rf30/yap/v2/internal/basechroot"
	"github.com/M0Rf30/yap/v2/internal/executil"
	"github.com/M0Rf30/yap/v2/internal/layout"
	yapcrypto "github.com/M0Rf30/yap/v2/pkg/crypto"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

var pruneDirs = []string{
	"usr/share/doc",
	"var/cache/apt",
	"var/lib/apt/lists",
	"var/trash",
}

// Options carries the assembly-time inputs needed to build an ISO.
type Options struct {
	Version      string
	UpdatePath   string
	IsoPackages  []string
	GrubPackages []string
}

// Assembler builds the bootable ISO.
type Assembler struct {
	Layout     *layout.Layout
	BaseChroot *basechroot.BaseChroot
	Options    Options
}

// Assemble runs the CD chroot setup, package install, squashfs, and
// grub-mkrescue invocation, returning the path to the produced ISO.
func (a *Assembler) Assemble(ctx context.Context) (string, error) {
	root := a.Layout.CDRomWorkDir()

	if err := a.prepareChroot(ctx, root); err != nil {
		return "", err
	}
	defer a.teardownChroot(root)

	sink := executil.Sink("iso")

	if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", root, "apt", "update"); err != nil {
		return "", err
	}

	if len(a.Options.IsoPackages) > 0 {
		args := append([]string{root, "apt", "install", "-y"}, a.Options.IsoPackages...)
		if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", args...); err != nil {
			return "", err
		}
	}

	if err := copydir.Copy(a.Layout.CDFilesDir(), root); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "copying cd-files overlay")
	}

	for _, dir := range pruneDirs {
		if err := os.RemoveAll(filepath.Join(root, dir)); err != nil {
			return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "pruning cd chroot dir").WithContext("dir", dir)
		}
	}

	liveDir := filepath.Join(root, "live")
	if err := os.MkdirAll(liveDir, 0o755); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating live dir")
	}

	filesystemSquash := filepath.Join(liveDir, "filesystem.squashfs")
	if err := executil.Checked(ctx, "", os.Environ(), sink,
		"mksquashfs", root, filesystemSquash, "-noappend", "-e", "live", "-e", "boot"); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeCommandFailed, "squashing live filesystem")
	}

	if err := a.stageBootFiles(root); err != nil {
		return "", err
	}

	if len(a.Options.GrubPackages) > 0 {
		args := append([]string{root, "apt", "install", "-y"}, a.Options.GrubPackages...)
		if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", args...); err != nil {
			return "", err
		}
	}

	if err := a.bindReleaseDirs(root); err != nil {
		return "", err
	}
	defer a.unbindReleaseDirs(root)

	isoPath := a.Layout.ISOFile(a.Options.Version)
	if err := os.MkdirAll(a.Layout.ReleaseDir(), 0o755); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating release dir")
	}

	if err := executil.Checked(ctx, "", os.Environ(), sink,
		"grub-mkrescue", "-o", isoPath, root); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeCommandFailed, "invoking grub-mkrescue")
	}

	checksum, err := sha256Sidecar(isoPath)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(isoPath+".sha256", []byte(checksum+"\n"), 0o644); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing iso sidecar hash")
	}

	return isoPath, nil
}

func (a *Assembler) prepareChroot(ctx context.Context, root string) error {
	if err := os.RemoveAll(root); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "clearing stale cdrom work dir")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating cdrom work dir")
	}

	if err := a.BaseChroot.RestoreCache(ctx, root); err != nil {
		return err
	}

	mounts := []struct{ src, dst, fstype string }{
		{"proc", filepath.Join(root, "proc"), "proc"},
		{"sysfs", filepath.Join(root, "sys"), "sysfs"},
	}

	for _, m := range mounts {
		if err := os.MkdirAll(m.dst, 0o755); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating mountpoint").WithContext("path", m.dst)
		}

		if err := unix.Mount(m.src, m.dst, m.fstype, 0, ""); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "mounting").WithContext("path", m.dst)
		}
	}

	pkgMount := filepath.Join(root, "packages")
	if err := os.MkdirAll(pkgMount, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating packages mountpoint")
	}

	return unix.Mount(a.Layout.PkgDir(), pkgMount, "", unix.MS_BIND, "")
}

func (a *Assembler) teardownChroot(root string) {
	targets := []string{
		filepath.Join(root, "packages"),
		filepath.Join(root, "sys"),
		filepath.Join(root, "proc"),
	}

	for _, target := range targets {
		if err := unix.Unmount(target, unix.MNT_FORCE|unix.MNT_DETACH); err != nil {
			logger.Debug("cdrom chroot unmount reported an error", "path", target, "error", err)
		}
	}
}

// stageBootFiles copies the update file into install/ under the CD tree.
// It copies nothing else: boot/, initrd.img, and vmlinuz are left where
// the chroot already has them.
func (a *Assembler) stageBootFiles(root string) error {
	if err := os.MkdirAll(filepath.Join(root, "install"), 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating install dir")
	}

	dest := filepath.Join(root, "install", filepath.Base(a.Options.UpdatePath))

	return copydir.Copy(a.Options.UpdatePath, dest)
}

func (a *Assembler) bindReleaseDirs(root string) error {
	dst := filepath.Join(root, "release")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating release bind mountpoint")
	}

	return unix.Mount(a.Layout.ReleaseDir(), dst, "", unix.MS_BIND, "")
}

func (a *Assembler) unbindReleaseDirs(root string) {
	target := filepath.Join(root, "release")
	if err := unix.Unmount(target, unix.MNT_FORCE|unix.MNT_DETACH); err != nil {
		logger.Debug("release bind unmount reported an error", "path", target, "error", err)
	}
}

func sha256Sidecar(path string) (string, error) {
	sum, err := yapcrypto.CalculateSHA256(path)
	if err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "hashing file")
	}

	return hex.EncodeToString(sum), nil
}
