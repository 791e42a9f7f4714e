// Package basechroot materializes, caches, and restores the Debian base
// chroots that every per-source Overlay and the final RootfsAssembler are
// built on top of. A base chroot is created once per variant via
// debootstrap, then serialized to a squashfs file keyed by the manifest's
// RepoHash; subsequent runs restore from that cache until the hash moves.
package basechroot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/M0Rf30/yap/v2/internal/executil"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/internal/repohash"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

// extraPackages lists the debootstrap --include additions per variant.
// The rootfs variant installs nothing extra; its packages come later from
// RootfsAssembler.
var extraPackages = map[layout.Variant][]string{
	layout.VariantPackage: {"build-essential", "dh-make", "devscripts", "fakeroot"},
	layout.VariantRootfs:  {},
	layout.VariantCDROM:   {"systemd-sysv", "gnupg"},
}

// BaseChroot creates, caches, and restores one variant's base chroot.
type BaseChroot struct {
	Layout   *layout.Layout
	Manifest *manifest.Manifest
	Variant  layout.Variant

	// AptKeyPath is the trusted apt keyring installed into the host key
	// location before debootstrap runs.
	AptKeyPath string
	// DebootstrapKeyring overrides debootstrap's --keyring, if set.
	DebootstrapKeyring string
}

// workDir is the scratch chroot tree debootstrap builds into, before it is
// squashed into the cache file.
func (b *BaseChroot) workDir() string {
	return filepath.Join(b.Layout.TmpDir(), "basechroot-"+string(b.Variant))
}

// Setup is idempotent: it leaves the cached squashfs in place unless
// all_repo_hash has moved, in which case it rebuilds from scratch via
// debootstrap. Unpacking the cache is RestoreCache's job.
func (b *BaseChroot) Setup(ctx context.Context) error {
	if err := b.CleanMounts(); err != nil {
		logger.Warn("basechroot clean_mounts reported an error", "variant", b.Variant, "error", err)
	}

	currentHash, err := repohash.AllRepoHash(ctx, b.Manifest)
	if err != nil {
		return err
	}

	if b.cacheCurrent(currentHash) {
		logger.Info("basechroot cache is current, skipping rebuild", "variant", b.Variant)

		return nil
	}

	if err := repohash.PreflightMirrors(b.Manifest); err != nil {
		return err
	}

	return b.rebuild(ctx, currentHash)
}

func (b *BaseChroot) cacheCurrent(currentHash string) bool {
	cachedHash, err := os.ReadFile(b.Layout.BaseChrootHashFile(b.Variant))
	if err != nil {
		return false
	}

	if string(cachedHash) != currentHash {
		return false
	}

	_, err = os.Stat(b.Layout.BaseChrootFile(b.Variant))

	return err == nil
}

func (b *BaseChroot) rebuild(ctx context.Context, currentHash string) error {
	work := b.workDir()

	if err := os.RemoveAll(work); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "clearing basechroot work dir")
	}

	if err := os.MkdirAll(work, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating basechroot work dir")
	}

	sink := executil.Sink("basechroot-" + string(b.Variant))

	if err := b.installAptKey(ctx, work, sink); err != nil {
		return err
	}

	if err := b.runDebootstrap(ctx, work, sink); err != nil {
		return err
	}

	if err := b.bindMounts(work); err != nil {
		return err
	}

	if err := b.writeAptConfig(work); err != nil {
		return err
	}

	if err := b.updateAndExtras(ctx, work, sink); err != nil {
		return err
	}

	if err := b.capturePackageInventory(ctx, work, sink); err != nil {
		logger.Warn("failed to capture dpkg-query inventory", "variant", b.Variant, "error", err)
	}

	if err := b.unmountAll(work); err != nil {
		return err
	}

	if err := b.squash(ctx, work, sink); err != nil {
		return err
	}

	return os.WriteFile(b.Layout.BaseChrootHashFile(b.Variant), []byte(currentHash), 0o644)
}

func (b *BaseChroot) installAptKey(ctx context.Context, work string, sink io.Writer) error {
	if b.AptKeyPath == "" {
		return nil
	}

	keyDest := "/etc/apt/trusted.gpg.d/" + filepath.Base(b.AptKeyPath)

	return executil.Checked(ctx, "", os.Environ(), sink, "install", "-Dm644", b.AptKeyPath, keyDest)
}

func (b *BaseChroot) runDebootstrap(ctx context.Context, work string, sink io.Writer) error {
	args := []string{}

	switch b.Variant {
	case layout.VariantRootfs:
		args = append(args, "--foreign")
	case layout.VariantCDROM:
		args = append(args, "--components=main,contrib,nonfree", "--variant=minbase")
	case layout.VariantPackage:
	}

	if len(extraPackages[b.Variant]) > 0 {
		args = append(args, "--include="+joinComma(extraPackages[b.Variant]))
	}

	if b.DebootstrapKeyring != "" {
		args = append(args, "--keyring="+b.DebootstrapKeyring)
	}

	args = append(args, b.Manifest.DebianRelease, work, b.Manifest.AptRepos.Primary.URL)

	if err := executil.Checked(ctx, "", os.Environ(), sink, "debootstrap", args...); err != nil {
		return err
	}

	if b.Variant == layout.VariantRootfs {
		if err := b.installReferenceFiles(work); err != nil {
			return err
		}

		second := filepath.Join(work, "debootstrap", "debootstrap")

		return executil.Checked(ctx, work, os.Environ(), sink, "chroot", work, second, "--second-stage")
	}

	return nil
}

// installReferenceFiles copies the pinned reference etc/passwd and
// etc/group into the chroot before the rootfs variant's second stage, so
// uid/gid assignments stay stable across rebuilds.
func (b *BaseChroot) installReferenceFiles(work string) error {
	for _, name := range []string{"passwd", "group"} {
		src := filepath.Join(b.Layout.ReferenceDir(), name)
		if _, err := os.Stat(src); err != nil {
			continue
		}

		data, err := os.ReadFile(src)
		if err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "reading reference file").
				WithContext("file", name)
		}

		dst := filepath.Join(work, "etc", name)
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing reference file").
				WithContext("file", name)
		}
	}

	return nil
}

func (b *BaseChroot) bindMounts(work string) error {
	mounts := []struct{ src, dst, fstype string }{
		{"proc", filepath.Join(work, "proc"), "proc"},
		{"sysfs", filepath.Join(work, "sys"), "sysfs"},
	}

	for _, m := range mounts {
		if err := os.MkdirAll(m.dst, 0o755); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating mountpoint").WithContext("path", m.dst)
		}

		if err := unix.Mount(m.src, m.dst, m.fstype, 0, ""); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "mounting "+m.fstype).WithContext("path", m.dst)
		}
	}

	return nil
}

func (b *BaseChroot) writeAptConfig(work string) error {
	preferencesText := repohash.RenderAptPreferences(b.Manifest.AptPreferences)

	err := os.WriteFile(filepath.Join(work, "etc", "apt", "preferences"), []byte(preferencesText), 0o644)
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing apt preferences")
	}

	var sourcesList string

	primary := b.Manifest.AptRepos.Primary
	sourcesList += fmt.Sprintf("deb %s %s %s\n", primary.URL, primary.Distribution, primary.Components)

	for i, repo := range b.Manifest.AptRepos.Additional {
		sourcesList += fmt.Sprintf("deb %s %s %s\n", repo.URL, repo.Distribution, repo.Component)

		if repo.Key != "" {
			keyDst := filepath.Join(work, "apt.key")
			if err := copyFile(repo.Key, keyDst); err != nil {
				return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "staging apt key").
					WithContext("repo_index", i)
			}
		}
	}

	sourcesPath := filepath.Join(work, "etc", "apt", "sources.list")

	return os.WriteFile(sourcesPath, []byte(sourcesList), 0o644)
}

func (b *BaseChroot) updateAndExtras(ctx context.Context, work string, sink io.Writer) error {
	for _, repo := range b.Manifest.AptRepos.Additional {
		if repo.Key == "" {
			continue
		}

		if err := copyFile(repo.Key, filepath.Join(work, "apt.key")); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "staging apt key")
		}

		if err := executil.Checked(ctx, work, os.Environ(), sink, "chroot", work, "apt-key", "add", "/apt.key"); err != nil {
			return err
		}
	}

	if err := executil.Checked(ctx, work, os.Environ(), sink, "chroot", work, "apt", "update"); err != nil {
		return err
	}

	if err := executil.Checked(ctx, work, os.Environ(), sink, "chroot", work, "apt", "upgrade", "-y"); err != nil {
		return err
	}

	extras := extraPackages[b.Variant]
	if len(extras) == 0 {
		return nil
	}

	installArgs := append([]string{work, "apt", "install", "-y"}, extras...)

	return executil.Checked(ctx, work, os.Environ(), sink, "chroot", installArgs...)
}

func (b *BaseChroot) capturePackageInventory(ctx context.Context, work string, sink io.Writer) error {
	inventoryPath := filepath.Join(b.Layout.CacheDir(), "basechroot-"+string(b.Variant)+".inventory")

	result, err := executil.Run(ctx, work, os.Environ(), sink, true, "chroot", work, "dpkg-query", "-W")
	if err != nil {
		return err
	}

	return os.WriteFile(inventoryPath, []byte(result.Stdout), 0o644)
}

func (b *BaseChroot) unmountAll(work string) error {
	targets := []string{filepath.Join(work, "sys"), filepath.Join(work, "proc")}

	var firstErr error

	for _, target := range targets {
		if err := unix.Unmount(target, unix.MNT_DETACH); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (b *BaseChroot) squash(ctx context.Context, work string, sink io.Writer) error {
	cacheFile := b.Layout.BaseChrootFile(b.Variant)

	if err := os.RemoveAll(cacheFile); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "clearing stale squashfs cache")
	}

	return executil.Checked(ctx, "", os.Environ(), sink, "mksquashfs", work, cacheFile, "-noappend")
}

// RestoreCache unpacks the variant's squashfs cache into dst.
func (b *BaseChroot) RestoreCache(ctx context.Context, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating restore target")
	}

	sink := executil.Sink("basechroot-restore-" + string(b.Variant))

	return executil.Checked(ctx, "", os.Environ(), sink,
		"unsquashfs", "-f", "-d", dst, b.Layout.BaseChrootFile(b.Variant))
}

// CleanMounts force-unmounts, best effort, the proc and sys mounts left
// under this variant's debootstrap work dir. It does not touch per-source
// overlay mounts and removes no directories. Setup and the clean command
// call it.
func (b *BaseChroot) CleanMounts() error {
	candidates := []string{
		filepath.Join(b.workDir(), "proc"),
		filepath.Join(b.workDir(), "sys"),
	}

	var firstErr error

	for _, target := range candidates {
		if _, err := os.Stat(target); err != nil {
			continue
		}

		if err := unix.Unmount(target, unix.MNT_FORCE|unix.MNT_DETACH); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}

		out += item
	}

	return out
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0o644)
}
