// Package checkout runs the git checkout helper (pkg/git) over every
// manifest source, applying branch overrides from the environment and
// recording each checkout's resolved commit into logs/GITMANIFEST.
package checkout

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/internal/manifest"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/git"
	"github.com/M0Rf30/yap/v2/pkg/logger"
)

// All clones every flattened source's checkout that is not yet on disk. An
// existing checkout is fetched and switched to the resolved branch; an
// existing local branch is not advanced to the fetched commit. It honors
// TRUENAS_BRANCH_OVERRIDE, TRY_BRANCH_OVERRIDE, and per-package
// <PKG>_OVERRIDE environment variables as branch overrides, and appends
// one "<url> <short-sha>" line per source to logs/GITMANIFEST.
func All(manifestData *manifest.Manifest, l *layout.Layout, sshPassword string) error {
	if err := os.MkdirAll(l.GitLogsDir(), 0o755); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating git logs dir")
	}

	manifestFile, err := os.Create(l.GitManifestFile())
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating GITMANIFEST")
	}
	defer manifestFile.Close()

	for _, source := range manifestData.FlatSources() {
		if source.Repo == "" {
			continue
		}

		sourceName := source.ResolvedSourceName()
		branch := resolveBranch(source)
		dest := l.SourceDir(sourceName)

		logger.Info("checking out source", "source", sourceName, "repo", source.Repo, "branch", branch)

		err := git.Clone(dest, source.Repo, sshPassword, plumbing.NewBranchReferenceName(branch))
		if err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeCommandFailed, "checking out source").
				WithContext("source", sourceName).WithContext("repo", source.Repo)
		}

		sha := git.GetCommitHash(dest)
		short := sha
		if len(short) > 12 {
			short = short[:12]
		}

		if _, err := fmt.Fprintf(manifestFile, "%s %s\n", source.Repo, short); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "writing GITMANIFEST entry")
		}
	}

	return nil
}

// resolveBranch applies TRUENAS_BRANCH_OVERRIDE, then TRY_BRANCH_OVERRIDE,
// then a per-source <PKG>_OVERRIDE, in ascending priority, over the
// manifest-declared branch.
func resolveBranch(source manifest.SourcePackage) string {
	branch := source.Branch

	if global, ok := os.LookupEnv("TRUENAS_BRANCH_OVERRIDE"); ok && global != "" {
		branch = global
	}

	if try, ok := os.LookupEnv("TRY_BRANCH_OVERRIDE"); ok && try != "" {
		branch = try
	}

	envName := strings.ToUpper(source.Name) + "_OVERRIDE"
	if override, ok := os.LookupEnv(envName); ok && override != "" {
		branch = override
	}

	return branch
}
