// Package layout derives every on-disk path the builder touches from a
// single root. It holds no state beyond that root; the only thing that
// creates directories is EnsureDirs, which the CLI subcommands call at
// startup.
package layout

import (
	"os"
	"path/filepath"

	"github.com/M0Rf30/yap/v2/pkg/constants"
)

// Variant names the three BaseChroot flavors.
type Variant string

// Supported base chroot variants.
const (
	VariantPackage Variant = "package"
	VariantRootfs  Variant = "rootfs"
	VariantCDROM   Variant = "cdrom"
)

// Layout resolves every builder path from Root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root. root is made absolute so that
// relative-path components (env overrides, CLI flags) behave consistently
// regardless of the process's working directory.
func New(root string) *Layout {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}

	return &Layout{Root: abs}
}

// TmpDir is the scratch tree for per-run state: the tmpfs mountpoint,
// pkghashes, pkgdir, release staging, and the epoch sentinel.
func (l *Layout) TmpDir() string { return filepath.Join(l.Root, "tmp") }

// TmpfsDir is the single tmpfs mountpoint; per-source subtrees are
// suffixed by source name to coexist under it.
func (l *Layout) TmpfsDir() string { return filepath.Join(l.TmpDir(), "tmpfs") }

// CacheDir holds the base-chroot squashfs caches and their sidecar hashes.
func (l *Layout) CacheDir() string { return filepath.Join(l.Root, "cache") }

// SourcesDir holds git checkouts, one subdirectory per source_name.
func (l *Layout) SourcesDir() string { return filepath.Join(l.Root, "sources") }

// SourceDir is the checkout directory for a single source tree, keyed by
// source_name (not by package name; subpackages share this directory).
func (l *Layout) SourceDir(sourceName string) string {
	return filepath.Join(l.SourcesDir(), sourceName)
}

// LogsDir holds the per-phase and per-source log files.
func (l *Layout) LogsDir() string { return filepath.Join(l.Root, "logs") }

// GitLogsDir holds logs/git/<source>.log.
func (l *Layout) GitLogsDir() string { return filepath.Join(l.LogsDir(), "git") }

// PackageLogsDir holds logs/packages/<source>.log.
func (l *Layout) PackageLogsDir() string { return filepath.Join(l.LogsDir(), "packages") }

// GitManifestFile is logs/GITMANIFEST: "<url> <short-sha>" per source.
func (l *Layout) GitManifestFile() string { return filepath.Join(l.LogsDir(), "GITMANIFEST") }

// ReleaseDir holds the finished update file, ISO, and their manifests.
func (l *Layout) ReleaseDir() string { return filepath.Join(l.TmpDir(), "release") }

// ReferenceDir holds the immutable reference etc/passwd and etc/group used
// to pin uid/gid assignments across builds.
func (l *Layout) ReferenceDir() string { return filepath.Join(l.Root, "conf", "reference") }

// SharedDir holds signing keys bind-mounted read-only into every overlay
// at /mnt/shared.
func (l *Layout) SharedDir() string { return filepath.Join(l.Root, "conf", "shared") }

// CDFilesDir holds the ISO's cd-files overlay tree.
func (l *Layout) CDFilesDir() string { return filepath.Join(l.Root, "conf", "cd-files") }

// PkgDir is the shared local apt repository ("tmp/pkgdir").
func (l *Layout) PkgDir() string { return filepath.Join(l.TmpDir(), "pkgdir") }

// PackagesIndexFile is the dpkg-scanpackages output served from PkgDir.
func (l *Layout) PackagesIndexFile() string { return filepath.Join(l.PkgDir(), "Packages.gz") }

// PkgHashesDir is "tmp/pkghashes".
func (l *Layout) PkgHashesDir() string { return filepath.Join(l.TmpDir(), "pkghashes") }

// SourceHashFile is the git SHA this source was last successfully built at.
func (l *Layout) SourceHashFile(sourceName string) string {
	return filepath.Join(l.PkgHashesDir(), sourceName+".hash")
}

// SourcePkgListFile lists the .deb/.udeb filenames the last build of this
// source produced.
func (l *Layout) SourcePkgListFile(sourceName string) string {
	return filepath.Join(l.PkgHashesDir(), sourceName+".pkglist")
}

// BuildEpochFile is "tmp/.buildEpoch".
func (l *Layout) BuildEpochFile() string { return filepath.Join(l.TmpDir(), ".buildEpoch") }

// BaseChrootFile is the squashfs cache for the given variant.
func (l *Layout) BaseChrootFile(variant Variant) string {
	return filepath.Join(l.CacheDir(), "basechroot-"+string(variant)+".squashfs")
}

// BaseChrootHashFile is the RepoHash sidecar for the given variant.
func (l *Layout) BaseChrootHashFile(variant Variant) string {
	return l.BaseChrootFile(variant) + ".hash"
}

// TmpfsSourceDir is tmpfs_<S>, the per-source subtree under the shared
// tmpfs mountpoint. Optionally its own "mount -t tmpfs -o size=<G>G".
func (l *Layout) TmpfsSourceDir(sourceName string) string {
	return filepath.Join(l.TmpfsDir(), "tmpfs_"+sourceName)
}

// ChrootBase is the restored base-chroot copy for a source's build.
func (l *Layout) ChrootBase(sourceName string) string {
	return filepath.Join(l.TmpfsSourceDir(sourceName), "chroot_"+sourceName)
}

// ChrootOverlayUpper is the overlayfs upperdir for a source's build.
func (l *Layout) ChrootOverlayUpper(sourceName string) string {
	return filepath.Join(l.TmpfsSourceDir(sourceName), "chroot-overlay_"+sourceName)
}

// ChrootOverlayWork is the overlayfs workdir for a source's build.
func (l *Layout) ChrootOverlayWork(sourceName string) string {
	return filepath.Join(l.TmpfsSourceDir(sourceName), "workdir-overlay_"+sourceName)
}

// DpkgOverlay is the mountpoint for the merged overlayfs view: the
// effective chroot root used for the whole build.
func (l *Layout) DpkgOverlay(sourceName string) string {
	return filepath.Join(l.TmpDir(), "dpkg-overlay_"+sourceName)
}

// DpkgSrc is the source tree's mountpoint inside the overlay root.
func (l *Layout) DpkgSrc(sourceName string) string {
	return filepath.Join(l.DpkgOverlay(sourceName), "dpkg-src")
}

// DpkgPackagesMount is where the shared pkgdir is bind-mounted inside the
// overlay root.
func (l *Layout) DpkgPackagesMount(sourceName string) string {
	return filepath.Join(l.DpkgOverlay(sourceName), "packages")
}

// DpkgSharedMount is where conf/shared is bind-mounted inside the overlay
// root, exposing signing keys at /mnt/shared.
func (l *Layout) DpkgSharedMount(sourceName string) string {
	return filepath.Join(l.DpkgOverlay(sourceName), "mnt", "shared")
}

// SourcesOverlay holds the copied-in source tree, bind-mounted over
// DpkgSrc.
func (l *Layout) SourcesOverlay(sourceName string) string {
	return filepath.Join(l.TmpDir(), "sources_"+sourceName)
}

// UpdateFile is the nested-squashfs artifact for the given version.
func (l *Layout) UpdateFile(version string) string {
	return filepath.Join(l.ReleaseDir(), "TrueNAS-SCALE-"+version+".update")
}

// ISOFile is the bootable ISO artifact for the given version.
func (l *Layout) ISOFile(version string) string {
	return filepath.Join(l.ReleaseDir(), "TrueNAS-SCALE-"+version+".iso")
}

// ReleaseManifestFile is release/manifest.json.
func (l *Layout) ReleaseManifestFile() string {
	return filepath.Join(l.ReleaseDir(), "manifest.json")
}

// MtreeFile is release/rootfs.mtree.
func (l *Layout) MtreeFile() string { return filepath.Join(l.ReleaseDir(), "rootfs.mtree") }

// UpdateWorkDir is the chroot the update image's rootfs is assembled in.
// Its squashfs (rootfs.squashfs), manifest.json, and optionally
// MANIFEST.sig are staged separately in tmp/update-staging.
func (l *Layout) UpdateWorkDir() string { return filepath.Join(l.TmpDir(), "update") }

// CDRomWorkDir is the staging tree for the ISO's live filesystem.
func (l *Layout) CDRomWorkDir() string { return filepath.Join(l.TmpDir(), "cdrom") }

// EnsureDirs creates every directory the builder needs up front. Called
// at startup by the checkout, packages, update, and iso subcommands, never
// from package-load time, so that a "validate" or "clean" invocation never
// has the side effect of creating directories it didn't ask for.
func (l *Layout) EnsureDirs() error {
	dirs := []string{
		l.TmpDir(), l.TmpfsDir(), l.CacheDir(), l.SourcesDir(),
		l.LogsDir(), l.GitLogsDir(), l.PackageLogsDir(), l.ReleaseDir(),
		l.PkgDir(), l.PkgHashesDir(), l.ReferenceDir(), l.SharedDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
			return err
		}
	}

	return nil
}
