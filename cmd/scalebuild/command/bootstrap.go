package command

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/M0Rf30/yap/v2/internal/basechroot"
	"github.com/M0Rf30/yap/v2/internal/buildstep"
	"github.com/M0Rf30/yap/v2/internal/graph"
	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
)

// manifestPath is where the builder root's manifest is loaded from.
const manifestPath = "conf/build.manifest"

func loadLayoutAndManifest() (*layout.Layout, *manifest.Manifest, error) {
	l := layout.New(builderRoot)

	if err := l.EnsureDirs(); err != nil {
		return nil, nil, err
	}

	manifestData, err := manifest.Load(l.Root + "/" + manifestPath)
	if err != nil {
		return nil, nil, err
	}

	if err := checkEpoch(l, manifestData); err != nil {
		return nil, nil, err
	}

	return l, manifestData, nil
}

// checkEpoch compares the manifest's build_epoch against tmp/.buildEpoch.
// A mismatch is an error unless FORCE_CLEANUP_WITH_EPOCH_CHANGE is set, in
// which case the log, source, and tmp trees are cleaned automatically, the
// directory tree is recreated, and the new epoch is recorded.
func checkEpoch(l *layout.Layout, manifestData *manifest.Manifest) error {
	recorded := 0

	if data, err := os.ReadFile(l.BuildEpochFile()); err == nil {
		recorded, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	}

	if recorded == manifestData.BuildEpoch {
		return nil
	}

	autoClean, _ := manifest.GetEnvVariable(
		"FORCE_CLEANUP_WITH_EPOCH_CHANGE", manifest.ConstraintBoolean, false,
	).(bool)

	if !autoClean {
		return yaperrors.New(yaperrors.ErrTypeInvalidManifest, "build_epoch changed; run clean or set FORCE_CLEANUP_WITH_EPOCH_CHANGE").
			WithContext("recorded", recorded).WithContext("current", manifestData.BuildEpoch)
	}

	if err := cleanTrees(l); err != nil {
		return err
	}

	if err := l.EnsureDirs(); err != nil {
		return err
	}

	return os.WriteFile(l.BuildEpochFile(), []byte(strconv.Itoa(manifestData.BuildEpoch)), 0o644)
}

func newBaseChroot(l *layout.Layout, manifestData *manifest.Manifest, variant layout.Variant) *basechroot.BaseChroot {
	return &basechroot.BaseChroot{
		Layout:             l,
		Manifest:           manifestData,
		Variant:            variant,
		AptKeyPath:         os.Getenv("APT_KEY_PATH"),
		DebootstrapKeyring: os.Getenv("DEBOOTSTRAP_KEYRING"),
	}
}

func buildGraph(
	ctx context.Context, l *layout.Layout, manifestData *manifest.Manifest, packageChroot *basechroot.BaseChroot,
) (*graph.Graph, error) {
	if err := packageChroot.Setup(ctx); err != nil {
		return nil, err
	}

	resolver := graph.NewOverlayControlResolver(l, packageChroot)

	hashChanged := func(source manifest.SourcePackage) bool {
		return buildstep.HashChanged(l, l.SourceDir(source.ResolvedSourceName()), source.ResolvedSourceName())
	}

	depGraph, err := graph.Build(manifestData.FlatSources(), resolver, hashChanged)
	if err != nil {
		return nil, err
	}

	depGraph.PropagateChanges()

	return depGraph, nil
}

// secretEnv returns every SECRET_<NAME>=value host environment entry
// rewritten to <NAME>=value, per the build-environment injection contract.
func secretEnv() []string {
	var out []string

	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, "SECRET_") {
			continue
		}

		out = append(out, strings.TrimPrefix(name, "SECRET_")+"="+value)
	}

	return out
}

func cleanTrees(l *layout.Layout) error {
	for _, dir := range []string{l.LogsDir(), l.SourcesDir(), l.TmpDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "cleaning tree").WithContext("path", dir)
		}
	}

	return nil
}
