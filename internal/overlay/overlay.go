// Package overlay builds and tears down the per-source ephemeral build
// sandbox: a tmpfs-backed overlayfs stacked over a restored base chroot,
// with proc/sys binds, the shared packages directory, and the source tree
// bind-mounted in.
package overlay

import (
	"context"
	"fmt"
	"os"

	copydir "github.com/otiai10/copy"
	"golang.org/x/sys/unix"

	"github.com/M0Rf30/yap/v2/internal/basechroot"
	"github.com/M0Rf30/yap/v2/internal/layout"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

// Overlay is the ephemeral build sandbox for one source package.
type Overlay struct {
	Layout     *layout.Layout
	SourceName string

	// TmpfsSizeGiB, if positive, mounts the per-source tmpfs subtree
	// (Layout.TmpfsSourceDir) as its own tmpfs of this many GiB instead of
	// relying on the shared tmpfs mountpoint's space.
	TmpfsSizeGiB int

	tmpfsMounted bool
}

// tmpfsPath is the per-source subtree under the shared tmpfs mountpoint.
func (o *Overlay) tmpfsPath() string { return o.Layout.TmpfsSourceDir(o.SourceName) }

// Setup restores the base chroot, mounts the overlay, and mounts proc/sys,
// the shared packages dir, and the signing-key shared folder inside it.
// The source tree is mounted over dpkg-src separately, by CopySource. On
// any failure it runs Teardown itself before returning,
// so a partially mounted overlay never leaks out of Setup.
func (o *Overlay) Setup(ctx context.Context, baseChroot *basechroot.BaseChroot) (err error) {
	defer func() {
		if err != nil {
			if tearErr := o.Teardown(); tearErr != nil {
				logger.Warn("overlay teardown after failed setup reported an error",
					"source", o.SourceName, "error", tearErr)
			}
		}
	}()

	if err = o.mountTmpfs(); err != nil {
		return err
	}

	chrootBase := o.Layout.ChrootBase(o.SourceName)
	if err = baseChroot.RestoreCache(ctx, chrootBase); err != nil {
		return err
	}

	if err = o.mountOverlayfs(); err != nil {
		return err
	}

	if err = o.bindCommonMounts(); err != nil {
		return err
	}

	return nil
}

func (o *Overlay) mountTmpfs() error {
	if o.TmpfsSizeGiB <= 0 {
		return os.MkdirAll(o.tmpfsPath(), 0o755)
	}

	if err := os.MkdirAll(o.tmpfsPath(), 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating tmpfs mountpoint")
	}

	options := fmt.Sprintf("size=%dG", o.TmpfsSizeGiB)
	if err := unix.Mount("tmpfs", o.tmpfsPath(), "tmpfs", 0, options); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "mounting tmpfs").
			WithContext("source", o.SourceName)
	}

	o.tmpfsMounted = true

	return nil
}

func (o *Overlay) mountOverlayfs() error {
	upper := o.Layout.ChrootOverlayUpper(o.SourceName)
	work := o.Layout.ChrootOverlayWork(o.SourceName)
	merged := o.Layout.DpkgOverlay(o.SourceName)

	for _, dir := range []string{upper, work, merged} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating overlay directory").
				WithContext("path", dir)
		}
	}

	options := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", o.Layout.ChrootBase(o.SourceName), upper, work)

	if err := unix.Mount("overlay", merged, "overlay", 0, options); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "mounting overlayfs").
			WithContext("source", o.SourceName)
	}

	return nil
}

func (o *Overlay) bindCommonMounts() error {
	merged := o.Layout.DpkgOverlay(o.SourceName)

	mounts := []struct {
		src, dst, fstype string
		bind             bool
	}{
		{"proc", merged + "/proc", "proc", false},
		{"sysfs", merged + "/sys", "sysfs", false},
		{o.Layout.PkgDir(), o.Layout.DpkgPackagesMount(o.SourceName), "", true},
		{o.Layout.SharedDir(), o.Layout.DpkgSharedMount(o.SourceName), "", true},
	}

	for _, m := range mounts {
		if err := os.MkdirAll(m.dst, 0o755); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating mountpoint").WithContext("path", m.dst)
		}

		flags := uintptr(0)
		if m.bind {
			flags = unix.MS_BIND
		}

		if err := unix.Mount(m.src, m.dst, m.fstype, flags, ""); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "binding overlay mount").
				WithContext("path", m.dst)
		}
	}

	return nil
}

// CopySource copies sourceDir (a git checkout) into the overlay's
// sources_overlay staging area, preserving symlinks, then bind-mounts it
// over dpkg-src inside the merged chroot.
func (o *Overlay) CopySource(sourceDir string) error {
	staging := o.Layout.SourcesOverlay(o.SourceName)

	if err := os.RemoveAll(staging); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "clearing stale sources_overlay")
	}

	if err := copydir.Copy(sourceDir, staging); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "copying source tree into overlay").
			WithContext("source", o.SourceName)
	}

	dpkgSrc := o.Layout.DpkgSrc(o.SourceName)
	if err := os.MkdirAll(dpkgSrc, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating dpkg-src mountpoint")
	}

	if err := unix.Mount(staging, dpkgSrc, "", unix.MS_BIND, ""); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "bind-mounting source tree").
			WithContext("source", o.SourceName)
	}

	return nil
}

// Teardown unmounts every mount this overlay created, in reverse order,
// best-effort, then removes every directory it created. It must run on
// both success and failure paths, and must never itself mask a primary
// build error: every unmount failure is logged, never returned.
func (o *Overlay) Teardown() error {
	merged := o.Layout.DpkgOverlay(o.SourceName)

	targets := []string{
		o.Layout.DpkgSrc(o.SourceName),
		o.Layout.DpkgSharedMount(o.SourceName),
		o.Layout.DpkgPackagesMount(o.SourceName),
		merged + "/sys",
		merged + "/proc",
		merged,
	}

	for _, target := range targets {
		if err := unix.Unmount(target, unix.MNT_FORCE|unix.MNT_DETACH); err != nil {
			logger.Debug("overlay unmount reported an error (expected if never mounted)",
				"source", o.SourceName, "path", target, "error", err)
		}
	}

	if o.tmpfsMounted {
		if err := unix.Unmount(o.tmpfsPath(), unix.MNT_FORCE|unix.MNT_DETACH); err != nil {
			logger.Debug("tmpfs unmount reported an error", "source", o.SourceName, "error", err)
		}
	}

	removeTargets := []string{
		merged,
		o.Layout.SourcesOverlay(o.SourceName),
		o.tmpfsPath(),
	}

	var firstErr error

	for _, dir := range removeTargets {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "removing overlay directory").
				WithContext("path", dir)
		}
	}

	return firstErr
}
