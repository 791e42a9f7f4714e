package graph

import (
	"context"
	"os"
	"path/filepath"

	"github.com/M0Rf30/yap/v2/internal/basechroot"
	"github.com/M0Rf30/yap/v2/internal/debcontrol"
	"github.com/M0Rf30/yap/v2/internal/executil"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/internal/overlay"
)

// FileControlResolver resolves DebControl data by reading debian/control
// directly from a source's checkout. Used for every source whose
// debian/control is discoverable without running predepscmd.
type FileControlResolver struct {
	Layout *layout.Layout
}

func controlPath(sourceDir string, source manifest.SourcePackage) string {
	if source.DepsPath != "" {
		return filepath.Join(sourceDir, source.DepsPath)
	}

	return filepath.Join(sourceDir, source.Subdir, "debian", "control")
}

// Resolve implements ControlResolver.
func (r *FileControlResolver) Resolve(source manifest.SourcePackage) ([]BinaryPackage, error) {
	sourceDir := r.Layout.SourceDir(source.ResolvedSourceName())
	path := controlPath(sourceDir, source)

	if _, err := os.Stat(path); err != nil {
		if len(source.PreDepsCmd) > 0 && source.DepsPath == "" {
			return opaqueBinary(source), nil
		}

		return nil, err
	}

	control, err := debcontrol.Parse(path)
	if err != nil {
		return nil, err
	}

	return toBinaryPackages(source, control), nil
}

// opaqueBinary synthesizes a single BinaryPackage equal to the source's own
// name, with no declared dependencies, for a source whose control file is
// not discoverable without running predepscmd first.
func opaqueBinary(source manifest.SourcePackage) []BinaryPackage {
	return []BinaryPackage{{
		Name:       source.Name,
		SourceName: source.ResolvedSourceName(),
	}}
}

func toBinaryPackages(source manifest.SourcePackage, control *debcontrol.Control) []BinaryPackage {
	out := make([]BinaryPackage, 0, len(control.Binaries))

	for _, bin := range control.Binaries {
		out = append(out, BinaryPackage{
			Name:         bin.Name,
			SourceName:   source.ResolvedSourceName(),
			BuildDepends: control.Source.BuildDepends,
			InstallDeps:  bin.Depends,
		})
	}

	if len(out) == 0 {
		out = append(out, BinaryPackage{
			Name:         control.Source.Name,
			SourceName:   source.ResolvedSourceName(),
			BuildDepends: control.Source.BuildDepends,
		})
	}

	return out
}

// OverlayControlResolver wraps FileControlResolver, additionally handling
// sources whose debian/control is only produced by running depscmd. It is
// the sole case where graph construction requires a full chroot: depscmd
// runs once inside a transient Overlay, then the resulting control file is
// parsed.
type OverlayControlResolver struct {
	Layout     *layout.Layout
	BaseChroot *basechroot.BaseChroot
	file       FileControlResolver
}

// NewOverlayControlResolver builds an OverlayControlResolver over the given
// layout and package-variant base chroot.
func NewOverlayControlResolver(l *layout.Layout, bc *basechroot.BaseChroot) *OverlayControlResolver {
	return &OverlayControlResolver{Layout: l, BaseChroot: bc, file: FileControlResolver{Layout: l}}
}

// Resolve implements ControlResolver.
func (r *OverlayControlResolver) Resolve(source manifest.SourcePackage) ([]BinaryPackage, error) {
	if len(source.DepsCmd) == 0 {
		return r.file.Resolve(source)
	}

	ctx := context.Background()

	transient := &overlay.Overlay{Layout: r.Layout, SourceName: "depscmd-" + source.Name}

	if err := transient.Setup(ctx, r.BaseChroot); err != nil {
		return nil, err
	}
	defer transient.Teardown()

	sourceDir := r.Layout.SourceDir(source.ResolvedSourceName())
	if err := transient.CopySource(sourceDir); err != nil {
		return nil, err
	}

	merged := r.Layout.DpkgOverlay(transient.SourceName)
	sink := executil.Sink(transient.SourceName)

	for _, cmd := range source.DepsCmd {
		if !cmd.Runnable(lookupEnv) {
			continue
		}

		err := executil.Checked(ctx, merged, os.Environ(), sink, "chroot", merged, "/bin/bash", "-c", cmd.Command)
		if err != nil {
			return nil, err
		}
	}

	path := controlPath(filepath.Join(merged, "dpkg-src"), source)

	control, err := debcontrol.Parse(path)
	if err != nil {
		return nil, err
	}

	return toBinaryPackages(source, control), nil
}

func lookupEnv(key string) (string, bool) { return os.LookupEnv(key) }
