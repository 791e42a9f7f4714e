// Package buildstep implements the per-source-package build procedure: the
// sequence of predeps, build-dependency installation, optional prebuilds,
// version stamping, and debuild invocation that turns a checked-out source
// tree into .deb/.udeb artifacts collected into the shared packages
// directory.
package buildstep

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/blakesmith/ar"

	"github.com/M0Rf30/yap/v2/internal/basechroot"
	"github.com/M0Rf30/yap/v2/internal/executil"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/internal/overlay"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/git"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

// Options carries the process-wide toggles for a build: whether PKG_DEBUG
// should drop to an interactive shell on failure, and the CCACHE setting.
// CCache is recorded here but Build does not read it; no ccache mount is
// made for sources marked supports_ccache.
type Options struct {
	PKGDebug bool
	CCache   bool

	Version string
	Train   string
	Vendor  string

	// ExtraEnv is appended to every build's environment, after the
	// source's own env overrides, e.g. SECRET_<NAME> host variables
	// rewritten to <NAME>=value.
	ExtraEnv []string
}

// Builder runs one source's full build procedure inside its own Overlay.
type Builder struct {
	Layout     *layout.Layout
	BaseChroot *basechroot.BaseChroot
	Options    Options

	// AptLock serializes every mutation of the shared packages directory
	// against the scheduler's own dpkg-scanpackages refresh: prior-artifact
	// deletion (step 4) and artifact collection (step 13) both hold it. A
	// nil AptLock is only valid for single-worker callers (e.g. tests).
	AptLock sync.Locker
}

func (b *Builder) lockPkgDir() {
	if b.AptLock != nil {
		b.AptLock.Lock()
	}
}

func (b *Builder) unlockPkgDir() {
	if b.AptLock != nil {
		b.AptLock.Unlock()
	}
}

// Build executes the 15-step procedure documented for PackageBuilder.
// Teardown always runs, on both the success and failure paths.
func (b *Builder) Build(ctx context.Context, source manifest.SourcePackage) (err error) {
	sourceName := source.ResolvedSourceName()

	ov := &overlay.Overlay{
		Layout:       b.Layout,
		SourceName:   sourceName,
		TmpfsSizeGiB: tmpfsSize(source),
	}

	defer func() {
		if tearErr := ov.Teardown(); tearErr != nil {
			logger.Warn("overlay teardown reported an error", "source", sourceName, "error", tearErr)
		}
	}()

	// step 1: restore base chroot
	if err = ov.Setup(ctx, b.BaseChroot); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	// step 2: copy source tree into sources_overlay
	sourceDir := b.Layout.SourceDir(sourceName)
	if err = ov.CopySource(sourceDir); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	merged := b.Layout.DpkgOverlay(sourceName)
	sink := executil.Sink(sourceName)
	buildEnv := b.buildEnvironment(source)

	// step 3: apt update if a local index exists
	if _, statErr := os.Stat(b.Layout.PackagesIndexFile()); statErr == nil {
		if err = executil.Checked(ctx, merged, buildEnv, sink, "chroot", merged, "apt", "update"); err != nil {
			return b.maybeDebug(ctx, ov, err)
		}
	}

	// step 4: delete prior artifacts
	if err = b.deletePriorArtifacts(sourceName); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	srcSubdir := filepath.Join("/dpkg-src", source.Subdir)

	// step 5: predepscmd
	if err = b.runGuarded(ctx, merged, srcSubdir, buildEnv, sink, source.PreDepsCmd); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	// step 6: assert debian/control exists
	controlPath := filepath.Join(merged, strings.TrimPrefix(srcSubdir, "/"), "debian", "control")
	if _, statErr := os.Stat(controlPath); statErr != nil {
		err = yaperrors.New(yaperrors.ErrTypeInvalidManifest, "debian/control not found").
			WithContext("source", sourceName).WithContext("path", controlPath)

		return b.maybeDebug(ctx, ov, err)
	}

	// step 7+8: mk-build-deps, apt install
	if err = b.installBuildDeps(ctx, merged, srcSubdir, buildEnv, sink); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	// step 9: truenas special-case
	if sourceName == "truenas" {
		if err = b.writeTruenasManifest(merged, srcSubdir); err != nil {
			return b.maybeDebug(ctx, ov, err)
		}
	}

	// step 10: prebuildcmd
	if err = b.runGuarded(ctx, merged, srcSubdir, buildEnv, sink, source.PreBuildCmd); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	// step 11: generate_version
	if source.GenerateVersion {
		if err = b.stampChangelog(ctx, merged, srcSubdir, buildEnv, sink); err != nil {
			return b.maybeDebug(ctx, ov, err)
		}
	}

	// step 12: buildcmd or debuild
	if err = b.runBuild(ctx, merged, srcSubdir, buildEnv, sink, source); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	// step 13: collect artifacts
	artifacts, err := b.collectArtifacts(merged, srcSubdir)
	if err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	if err = b.writePkgList(sourceName, artifacts); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	// step 14: record git SHA
	if err = b.writeHash(sourceName, sourceDir); err != nil {
		return b.maybeDebug(ctx, ov, err)
	}

	// step 15: teardown runs via the deferred call above
	return nil
}

func tmpfsSize(source manifest.SourcePackage) int {
	if !source.Tmpfs {
		return 0
	}

	return source.TmpfsSizeGiB
}

func (b *Builder) maybeDebug(ctx context.Context, ov *overlay.Overlay, cause error) error {
	if !b.Options.PKGDebug {
		return cause
	}

	logger.Error("build failed, dropping to interactive shell", "source", ov.SourceName, "error", cause)

	b.logArtifactMembers(ov.SourceName)

	if shellErr := executil.Interactive(b.Layout.DpkgOverlay(ov.SourceName), os.Environ()); shellErr != nil {
		logger.Warn("interactive debug shell exited with an error", "error", shellErr)
	}

	return cause
}

// logArtifactMembers logs the ar-archive member names and sizes of every
// .deb/.udeb already collected for sourceName, one glance at what debuild
// actually produced before a PKG_DEBUG session drops into a shell.
func (b *Builder) logArtifactMembers(sourceName string) {
	data, err := os.ReadFile(b.Layout.SourcePkgListFile(sourceName))
	if err != nil {
		return
	}

	for _, name := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if name == "" {
			continue
		}

		b.logDebMembers(filepath.Join(b.Layout.PkgDir(), name))
	}
}

func (b *Builder) logDebMembers(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	reader := ar.NewReader(file)

	for {
		header, err := reader.Next()
		if err != nil {
			return
		}

		logger.Debug("deb artifact member", "file", filepath.Base(path), "member", header.Name, "size", header.Size)
	}
}

// buildEnvironment merges the host environment, fixed apt env, the
// source's env overrides, DEB_BUILD_OPTIONS=parallel=<jobs|cpus>, and
// Options.ExtraEnv.
func (b *Builder) buildEnvironment(source manifest.SourcePackage) []string {
	env := os.Environ()
	env = append(env, "DEBIAN_FRONTEND=noninteractive")

	jobs := source.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	env = append(env, fmt.Sprintf("DEB_BUILD_OPTIONS=parallel=%d", jobs))

	for key, value := range source.Env {
		env = append(env, key+"="+value)
	}

	env = append(env, b.Options.ExtraEnv...)

	return env
}

func (b *Builder) deletePriorArtifacts(sourceName string) error {
	b.lockPkgDir()
	defer b.unlockPkgDir()

	pkglistPath := b.Layout.SourcePkgListFile(sourceName)

	data, err := os.ReadFile(pkglistPath)
	if err != nil {
		return nil
	}

	for _, filename := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if filename == "" {
			continue
		}

		_ = os.Remove(filepath.Join(b.Layout.PkgDir(), filename))
	}

	return os.Remove(pkglistPath)
}

func (b *Builder) runGuarded(
	ctx context.Context, merged, srcSubdir string, env []string, sink io.Writer, commands []manifest.GuardedCommand,
) error {
	for _, cmd := range commands {
		if !cmd.Runnable(func(key string) (string, bool) { return os.LookupEnv(key) }) {
			continue
		}

		shellCmd := fmt.Sprintf("cd %s && %s", srcSubdir, cmd.Command)

		err := executil.Checked(ctx, merged, env, sink, "chroot", merged, "/bin/bash", "-c", shellCmd)
		if err != nil {
			return err
		}
	}

	return nil
}

func (b *Builder) installBuildDeps(
	ctx context.Context, merged, srcSubdir string, env []string, sink io.Writer,
) error {
	mkDeps := fmt.Sprintf("cd %s && mk-build-deps --build-dep", srcSubdir)
	if err := executil.Checked(ctx, merged, env, sink, "chroot", merged, "/bin/bash", "-c", mkDeps); err != nil {
		return err
	}

	install := fmt.Sprintf("cd %s && apt install -y ./*.deb", srcSubdir)

	return executil.Checked(ctx, merged, env, sink, "chroot", merged, "/bin/bash", "-c", install)
}

// writeTruenasManifest writes the synthetic data/manifest.json and
// etc/version files the truenas source embeds into the update image.
func (b *Builder) writeTruenasManifest(merged, srcSubdir string) error {
	root := filepath.Join(merged, strings.TrimPrefix(srcSubdir, "/"))

	manifestJSON := fmt.Sprintf(
		`{"buildtime": %d, "train": %q, "version": %q}`,
		time.Now().Unix(), b.Options.Train, b.Options.Version,
	)

	if err := os.MkdirAll(filepath.Join(root, "data"), 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating truenas data dir")
	}

	if err := os.WriteFile(filepath.Join(root, "data", "manifest.json"), []byte(manifestJSON), 0o644); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing truenas manifest")
	}

	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating truenas etc dir")
	}

	return os.WriteFile(filepath.Join(root, "etc", "version"), []byte(b.Options.Version+"\n"), 0o644)
}

func (b *Builder) stampChangelog(
	ctx context.Context, merged, srcSubdir string, env []string, sink io.Writer,
) error {
	version := time.Now().UTC().Format("20060102150405") + "~truenas+1"

	dch := fmt.Sprintf(
		"cd %s && dch -b -M -v %s --force-distribution --distribution bullseye-truenas-unstable 'Tagged from truenas-build'",
		srcSubdir, version,
	)

	return executil.Checked(ctx, merged, env, sink, "chroot", merged, "/bin/bash", "-c", dch)
}

func (b *Builder) runBuild(
	ctx context.Context, merged, srcSubdir string, env []string, sink io.Writer, source manifest.SourcePackage,
) error {
	if len(source.BuildCmd) > 0 {
		return b.runGuarded(ctx, merged, srcSubdir, env, sink, source.BuildCmd)
	}

	jobs := source.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}

	debOptions := ""
	if source.DebOptions != "" {
		debOptions = "DEB_BUILD_OPTIONS=" + source.DebOptions + " "
	}

	debuild := fmt.Sprintf("cd %s && %sdebuild -j%d -us -uc -b", srcSubdir, debOptions, jobs)

	return executil.Checked(ctx, merged, env, sink, "chroot", merged, "/bin/bash", "-c", debuild)
}

// collectArtifacts moves every *.deb and *.udeb from the parent of the
// source directory into pkgdir, returning their filenames.
func (b *Builder) collectArtifacts(merged, srcSubdir string) ([]string, error) {
	b.lockPkgDir()
	defer b.unlockPkgDir()

	parent := filepath.Dir(filepath.Join(merged, strings.TrimPrefix(srcSubdir, "/")))

	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "listing build output dir")
	}

	var artifacts []string

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".deb") && !strings.HasSuffix(name, ".udeb") {
			continue
		}

		src := filepath.Join(parent, name)
		dst := filepath.Join(b.Layout.PkgDir(), name)

		if err := os.Rename(src, dst); err != nil {
			return nil, yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "moving built artifact").
				WithContext("file", name)
		}

		artifacts = append(artifacts, name)
	}

	return artifacts, nil
}

func (b *Builder) writePkgList(sourceName string, artifacts []string) error {
	content := strings.Join(artifacts, "\n")
	if len(artifacts) > 0 {
		content += "\n"
	}

	return os.WriteFile(b.Layout.SourcePkgListFile(sourceName), []byte(content), 0o644)
}

func (b *Builder) writeHash(sourceName, sourceDir string) error {
	hash := git.GetCommitHash(sourceDir)

	return os.WriteFile(b.Layout.SourceHashFile(sourceName), []byte(hash), 0o644)
}

// ReadPkgHashes reads the git SHA recorded at the last successful build of
// sourceName, or "" if none is on disk yet.
func ReadPkgHashes(l *layout.Layout, sourceName string) string {
	data, err := os.ReadFile(l.SourceHashFile(sourceName))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// HashChanged reports whether sourceName's current checkout differs from
// its last recorded build hash, per the hash_changed contract: a differing
// SHA or a dirty worktree both count as changed.
func HashChanged(l *layout.Layout, sourceDir, sourceName string) bool {
	recorded := ReadPkgHashes(l, sourceName)
	current := git.GetCommitHash(sourceDir)

	if current == "" {
		return false
	}

	if recorded != current {
		return true
	}

	return git.IsWorktreeDirty(sourceDir)
}
