// Package rootfs assembles the bootable update image: base and additional
// packages installed into a fresh chroot restored from the rootfs
// BaseChroot cache, pruned, measured with an mtree manifest, and packed
// into a nested squashfs update file alongside a release manifest.
package rootfs

import (
	"context"
	"crypto/sha1" //nolint:gosec // update manifest checksums match the installer's existing sha1 contract, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/M0Rf30/yap/v2/internal/basechroot"
	"github.com/M0Rf30/yap/v2/internal/executil"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/internal/signing"
	"github.com/M0Rf30/yap/v2/pkg/buffers"
	yapcrypto "github.com/M0Rf30/yap/v2/pkg/crypto"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

// pruneDirs are purged from the rootfs after package installation.
var pruneDirs = []string{
	"usr/share/doc",
	"var/cache/apt",
	"var/lib/apt/lists",
	"var/trash",
}

// mtreeExcludes lists ephemeral or installation-generated paths excluded
// from the mtree manifest (prefix match against the rootfs-relative path).
var mtreeExcludes = []string{
	"etc/fstab",
	"etc/machine-id",
	"usr/lib/debug/",
	"var/log/",
}

// mtreeRoots are the top-level directories measured into the mtree.
var mtreeRoots = []string{"boot", "etc", "usr", "opt", "var", "conf/audit_rules"}

// Options carries assembly-time parameters sourced from the manifest and
// the environment.
type Options struct {
	Version        string
	KernelVersion  string
	SigningKey     string
	SigningPass    string
	BasePrune      []string
	BasePackages   []manifest.PackageRef
	AdditionalPkgs []manifest.PackageRef
}

// Assembler builds the rootfs update image.
type Assembler struct {
	Layout     *layout.Layout
	BaseChroot *basechroot.BaseChroot
	Options    Options
}

// Assemble runs the full 14-step procedure and returns the path to the
// produced .update file.
func (a *Assembler) Assemble(ctx context.Context) (string, error) {
	root := a.Layout.UpdateWorkDir()

	if err := a.prepareChroot(ctx, root); err != nil {
		return "", err
	}
	defer a.teardownChroot(root)

	sink := executil.Sink("rootfs")

	if err := a.rewriteSourcesList(root); err != nil {
		return "", err
	}

	if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", root, "apt", "update"); err != nil {
		return "", err
	}

	if err := a.installGroups(ctx, root, sink); err != nil {
		return "", err
	}

	if err := a.customSetup(ctx, root, sink); err != nil {
		return "", err
	}

	if err := a.prune(ctx, root, sink); err != nil {
		return "", err
	}

	if err := a.generateMtree(root); err != nil {
		return "", err
	}

	if err := a.disableExecBits(root); err != nil {
		return "", err
	}

	if err := a.verifyReferenceFiles(root); err != nil {
		return "", err
	}

	stagingDir := filepath.Join(a.Layout.TmpDir(), "update-staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating update staging dir")
	}

	squashfsPath := filepath.Join(stagingDir, "rootfs.squashfs")
	if err := executil.Checked(ctx, "", os.Environ(), sink,
		"mksquashfs", root, squashfsPath, "-noappend"); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeCommandFailed, "squashing rootfs")
	}

	if err := a.writeInnerManifest(stagingDir, root); err != nil {
		return "", err
	}

	if a.Options.SigningKey != "" && a.Options.SigningPass != "" {
		manifestPath := filepath.Join(stagingDir, "manifest.json")
		sigPath := filepath.Join(stagingDir, "MANIFEST.sig")

		if err := signing.Sign(a.Options.SigningKey, a.Options.SigningPass, manifestPath, sigPath); err != nil {
			return "", err
		}
	}

	updatePath := a.Layout.UpdateFile(a.Options.Version)
	if err := os.MkdirAll(a.Layout.ReleaseDir(), 0o755); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating release dir")
	}

	if err := executil.Checked(ctx, "", os.Environ(), sink,
		"mksquashfs", stagingDir, updatePath, "-noD", "-noappend"); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeCommandFailed, "squashing update file")
	}

	checksum, err := sha256File(updatePath)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(updatePath+".sha256", []byte(checksum+"\n"), 0o644); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing update sidecar hash")
	}

	if err := a.writeReleaseManifest(updatePath, checksum); err != nil {
		return "", err
	}

	return updatePath, nil
}

func (a *Assembler) prepareChroot(ctx context.Context, root string) error {
	if err := os.RemoveAll(root); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "clearing stale rootfs work dir")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating rootfs work dir")
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

	if err := unix.Mount(a.Layout.PkgDir(), pkgMount, "", unix.MS_BIND, ""); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "bind-mounting packages dir")
	}

	return nil
}

func (a *Assembler) teardownChroot(root string) {
	targets := []string{
		filepath.Join(root, "packages"),
		filepath.Join(root, "sys"),
		filepath.Join(root, "proc"),
	}

	for _, target := range targets {
		if err := unix.Unmount(target, unix.MNT_FORCE|unix.MNT_DETACH); err != nil {
			logger.Debug("rootfs chroot unmount reported an error", "path", target, "error", err)
		}
	}
}

func (a *Assembler) rewriteSourcesList(root string) error {
	path := filepath.Join(root, "etc", "apt", "sources.list")

	existing, _ := os.ReadFile(path)

	var builder strings.Builder

	builder.WriteString("deb [trusted=yes] file:/packages /\n")
	builder.Write(existing)

	return os.WriteFile(path, []byte(builder.String()), 0o644)
}

func (a *Assembler) installGroups(ctx context.Context, root string, sink io.Writer) error {
	all := append(append([]manifest.PackageRef{}, a.Options.BasePackages...), a.Options.AdditionalPkgs...)

	recommend := make([]string, 0, len(all))
	noRecommend := make([]string, 0, len(all))

	for _, pkg := range all {
		if pkg.InstallRecommends {
			recommend = append(recommend, pkg.Name)
		} else {
			noRecommend = append(noRecommend, pkg.Name)
		}
	}

	if len(recommend) > 0 {
		args := append([]string{root, "apt", "install", "-V", "-y"}, recommend...)
		if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", args...); err != nil {
			return err
		}
	}

	if len(noRecommend) > 0 {
		args := append([]string{root, "apt", "install", "-V", "-y", "--no-install-recommends"}, noRecommend...)
		if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", args...); err != nil {
			return err
		}
	}

	return nil
}

func (a *Assembler) customSetup(ctx context.Context, root string, sink io.Writer) error {
	if err := os.MkdirAll(filepath.Join(root, "boot", "grub"), 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating /boot/grub")
	}

	zfsDefault := filepath.Join(root, "etc", "default", "zfs")

	existing, _ := os.ReadFile(zfsDefault)
	if !strings.Contains(string(existing), "ZFS_INITRD_POST_MODPROBE_SLEEP") {
		file, err := os.OpenFile(zfsDefault, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "opening /etc/default/zfs")
		}

		_, writeErr := file.WriteString("ZFS_INITRD_POST_MODPROBE_SLEEP=15\n")
		closeErr := file.Close()

		if writeErr != nil {
			return yaperrors.Wrap(writeErr, yaperrors.ErrTypeFileSystem, "writing /etc/default/zfs")
		}

		if closeErr != nil {
			return yaperrors.Wrap(closeErr, yaperrors.ErrTypeFileSystem, "closing /etc/default/zfs")
		}
	}

	if err := a.regenerateInitramfs(ctx, root, sink); err != nil {
		return err
	}

	if err := a.synthesizeSystemdUnits(root); err != nil {
		return err
	}

	return a.removeFirstBootArtifacts(root)
}

// regenerateInitramfs runs update-initramfs for every non-debug kernel
// under /boot/vmlinuz-*.
func (a *Assembler) regenerateInitramfs(ctx context.Context, root string, sink io.Writer) error {
	bootDir := filepath.Join(root, "boot")

	entries, err := os.ReadDir(bootDir)
	if err != nil {
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "vmlinuz-") || strings.Contains(name, "dbg") {
			continue
		}

		kernelVersion := strings.TrimPrefix(name, "vmlinuz-")

		err := executil.Checked(ctx, root, os.Environ(), sink,
			"chroot", root, "update-initramfs", "-c", "-k", kernelVersion)
		if err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeCommandFailed, "regenerating initramfs").
				WithContext("kernel", kernelVersion)
		}
	}

	return nil
}

// synthesizeSystemdUnits appends an [Install] section targeting
// multi-user.target to any SysV-init-generated unit missing one, under
// /run/systemd/generator, then copies the result into the real unit dir.
func (a *Assembler) synthesizeSystemdUnits(root string) error {
	generatorDir := filepath.Join(root, "run", "systemd", "generator")

	entries, err := os.ReadDir(generatorDir)
	if err != nil {
		return nil
	}

	unitDir := filepath.Join(root, "etc", "systemd", "system")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating systemd unit dir")
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".service") {
			continue
		}

		src := filepath.Join(generatorDir, entry.Name())

		content, err := os.ReadFile(src)
		if err != nil {
			continue
		}

		if !strings.Contains(string(content), "[Install]") {
			content = append(content, []byte("\n[Install]\nWantedBy=multi-user.target\n")...)
		}

		dst := filepath.Join(unitDir, entry.Name())
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing synthesized unit").
				WithContext("unit", entry.Name())
		}
	}

	return nil
}

// removeFirstBootArtifacts removes package-created ssh host keys so the
// first real boot regenerates them per-install.
func (a *Assembler) removeFirstBootArtifacts(root string) error {
	sshDir := filepath.Join(root, "etc", "ssh")

	entries, err := os.ReadDir(sshDir)
	if err != nil {
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "ssh_host_") {
			_ = os.Remove(filepath.Join(sshDir, name))
		}
	}

	return nil
}

func (a *Assembler) prune(ctx context.Context, root string, sink io.Writer) error {
	if len(a.Options.BasePrune) > 0 {
		args := append([]string{root, "apt", "remove", "-y"}, a.Options.BasePrune...)
		if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", args...); err != nil {
			return err
		}
	}

	if err := executil.Checked(ctx, root, os.Environ(), sink, "chroot", root, "apt", "autoremove", "-y"); err != nil {
		return err
	}

	for _, dir := range pruneDirs {
		if err := os.RemoveAll(filepath.Join(root, dir)); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "pruning rootfs dir").WithContext("dir", dir)
		}
	}

	return nil
}

// mtreeEntry is one measured filesystem object.
type mtreeEntry struct {
	path, mode, kind, link, checksum string
	uid, gid                         int
	size                             int64
}

// generateMtree walks mtreeRoots and writes a BSD-mtree-style manifest
// with "!all,mode,uid,gid,type,link,size,sha256" semantics, prefixed with
// a "# <version>" comment line, plus a SHA-256 sidecar of the file itself.
func (a *Assembler) generateMtree(root string) error {
	var entries []mtreeEntry

	for _, rel := range mtreeRoots {
		base := filepath.Join(root, rel)

		walkErr := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil //nolint:nilerr // missing optional subtree (e.g. conf/audit_rules) is not fatal
			}

			relPath, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}

			if excluded(relPath) {
				if info.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			entry, buildErr := buildMtreeEntry(path, relPath, info)
			if buildErr != nil {
				return buildErr
			}

			entries = append(entries, entry)

			return nil
		})
		if walkErr != nil {
			return yaperrors.Wrap(walkErr, yaperrors.ErrTypeFileSystem, "walking rootfs for mtree").
				WithContext("root", rel)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var builder strings.Builder

	fmt.Fprintf(&builder, "# %s\n", a.Options.Version)

	for _, entry := range entries {
		fmt.Fprintf(&builder, "%s mode=%s uid=%d gid=%d type=%s", entry.path, entry.mode, entry.uid, entry.gid, entry.kind)

		if entry.kind == "link" {
			fmt.Fprintf(&builder, " link=%s", entry.link)
		}

		if entry.kind == "file" {
			fmt.Fprintf(&builder, " size=%d sha256=%s", entry.size, entry.checksum)
		}

		builder.WriteString("\n")
	}

	mtreePath := a.Layout.MtreeFile()
	if err := os.MkdirAll(filepath.Dir(mtreePath), 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating release dir")
	}

	if err := os.WriteFile(mtreePath, []byte(builder.String()), 0o644); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing mtree manifest")
	}

	checksum, err := sha256File(mtreePath)
	if err != nil {
		return err
	}

	return os.WriteFile(mtreePath+".sha256", []byte(checksum+"\n"), 0o644)
}

func excluded(relPath string) bool {
	for _, prefix := range mtreeExcludes {
		if relPath == prefix || strings.HasPrefix(relPath, prefix) {
			return true
		}
	}

	return false
}

func buildMtreeEntry(path, relPath string, info os.FileInfo) (mtreeEntry, error) {
	entry := mtreeEntry{
		path: relPath,
		mode: fmt.Sprintf("%#o", info.Mode().Perm()),
	}

	if stat, ok := info.Sys().(*unix.Stat_t); ok {
		entry.uid = int(stat.Uid)
		entry.gid = int(stat.Gid)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		entry.kind = "link"

		target, err := os.Readlink(path)
		if err != nil {
			return entry, err
		}

		entry.link = target
	case info.IsDir():
		entry.kind = "dir"
	default:
		entry.kind = "file"
		entry.size = info.Size()

		checksum, err := sha256File(path)
		if err != nil {
			return entry, err
		}

		entry.checksum = checksum
	}

	return entry, nil
}

func (a *Assembler) disableExecBits(root string) error {
	targets := []string{filepath.Join(root, "usr", "bin", "apt"), filepath.Join(root, "usr", "bin", "dpkg")}

	entries, err := filepath.Glob(filepath.Join(root, "usr", "bin", "apt-*"))
	if err == nil {
		targets = append(targets, entries...)
	}

	for _, target := range targets {
		info, statErr := os.Stat(target)
		if statErr != nil {
			continue
		}

		if err := os.Chmod(target, info.Mode()&^0o111); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "disabling exec bit").WithContext("path", target)
		}
	}

	return nil
}

// verifyReferenceFiles asserts that the installed etc/passwd and etc/group
// match the pinned reference, trimmed to users/groups present in the
// reference set, and fails the build on any mismatch.
func (a *Assembler) verifyReferenceFiles(root string) error {
	for _, filename := range []string{"passwd", "group"} {
		referencePath := filepath.Join(a.Layout.ReferenceDir(), filename)
		installedPath := filepath.Join(root, "etc", filename)

		reference, err := os.ReadFile(referencePath)
		if err != nil {
			continue
		}

		installed, err := os.ReadFile(installedPath)
		if err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "reading installed "+filename)
		}

		if !referenceLinesSubsetMatch(string(reference), string(installed)) {
			return yaperrors.New(yaperrors.ErrTypeIntegrityFailure, "reference file mismatch").
				WithContext("file", filename)
		}
	}

	return nil
}

// referenceLinesSubsetMatch reports whether every reference line (keyed on
// the name before the first ":") that also names a user present in
// installed matches exactly.
func referenceLinesSubsetMatch(reference, installed string) bool {
	installedLines := make(map[string]string)

	for _, line := range strings.Split(installed, "\n") {
		if name, _, ok := strings.Cut(line, ":"); ok {
			installedLines[name] = line
		}
	}

	for _, line := range strings.Split(reference, "\n") {
		if line == "" {
			continue
		}

		name, _, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		installedLine, present := installedLines[name]
		if !present {
			continue
		}

		if installedLine != line {
			return false
		}
	}

	return true
}

// innerManifest is the contents of update/manifest.json.
type innerManifest struct {
	Date          string            `json:"date"`
	Version       string            `json:"version"`
	Size          int64             `json:"size"`
	Checksums     map[string]string `json:"checksums"`
	KernelVersion string            `json:"kernel_version"`
}

func (a *Assembler) writeInnerManifest(stagingDir, root string) error {
	var totalSize int64

	checksums := make(map[string]string)

	walkErr := filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		totalSize += info.Size()

		relPath, relErr := filepath.Rel(stagingDir, path)
		if relErr != nil {
			return relErr
		}

		checksum, sumErr := sha1File(path)
		if sumErr != nil {
			return sumErr
		}

		checksums[relPath] = checksum

		return nil
	})
	if walkErr != nil {
		return yaperrors.Wrap(walkErr, yaperrors.ErrTypeFileSystem, "checksumming update staging dir")
	}

	rootfsSize, err := duSize(root)
	if err != nil {
		return err
	}

	inner := innerManifest{
		Date:          time.Now().UTC().Format(time.RFC3339),
		Version:       a.Options.Version,
		Size:          int64(float64(rootfsSize) * 1.1),
		Checksums:     checksums,
		KernelVersion: a.Options.KernelVersion,
	}

	data, err := json.MarshalIndent(inner, "", "  ")
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "marshaling inner manifest")
	}

	return os.WriteFile(filepath.Join(stagingDir, "manifest.json"), data, 0o644)
}

// releaseManifest is the contents of release/manifest.json.
type releaseManifest struct {
	Filename  string `json:"filename"`
	Version   string `json:"version"`
	Date      string `json:"date"`
	Changelog string `json:"changelog"`
	Checksum  string `json:"checksum"`
	Filesize  int64  `json:"filesize"`
}

func (a *Assembler) writeReleaseManifest(updatePath, checksum string) error {
	info, err := os.Stat(updatePath)
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "stat-ing update file")
	}

	release := releaseManifest{
		Filename:  filepath.Base(updatePath),
		Version:   a.Options.Version,
		Date:      time.Now().UTC().Format(time.RFC3339),
		Changelog: "",
		Checksum:  checksum,
		Filesize:  info.Size(),
	}

	data, err := json.MarshalIndent(release, "", "  ")
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "marshaling release manifest")
	}

	return os.WriteFile(a.Layout.ReleaseManifestFile(), data, 0o644)
}

func sha256File(path string) (string, error) {
	sum, err := yapcrypto.CalculateSHA256(path)
	if err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "hashing file")
	}

	return hex.EncodeToString(sum), nil
}

func sha1File(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "opening file for checksum")
	}
	defer file.Close()

	hasher := sha1.New() //nolint:gosec // matches the installer's existing sha1 manifest contract

	buf, _ := buffers.DefaultBufferPool.Get().([]byte)
	defer buffers.DefaultBufferPool.Put(buf) //nolint:staticcheck // SA6002: sync.Pool expects value, not pointer

	if _, err := io.CopyBuffer(hasher, file, buf); err != nil {
		return "", yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "hashing file")
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func duSize(path string) (int64, error) {
	var total int64

	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil //nolint:nilerr // a mount race on a pruned path is not fatal to the size estimate
		}

		if !info.IsDir() {
			total += info.Size()
		}

		return nil
	})
	if err != nil {
		return 0, yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "computing rootfs size")
	}

	return total, nil
}
