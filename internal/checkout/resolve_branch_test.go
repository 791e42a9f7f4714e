package checkout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M0Rf30/yap/v2/internal/manifest"
)

func TestResolveBranchDefaultsToManifestBranch(t *testing.T) {
	source := manifest.SourcePackage{Name: "midclt", Branch: "master"}

	require.Equal(t, "master", resolveBranch(source))
}

func TestResolveBranchPerPackageOverrideWinsOverGlobal(t *testing.T) {
	source := manifest.SourcePackage{Name: "midclt", Branch: "master"}

	t.Setenv("TRUENAS_BRANCH_OVERRIDE", "24.10-RELEASE")
	t.Setenv("MIDCLT_OVERRIDE", "feature-branch")

	require.Equal(t, "feature-branch", resolveBranch(source))
}

func TestResolveBranchTryOverrideWinsOverGlobalButNotPerPackage(t *testing.T) {
	source := manifest.SourcePackage{Name: "midclt", Branch: "master"}

	t.Setenv("TRUENAS_BRANCH_OVERRIDE", "24.10-RELEASE")
	t.Setenv("TRY_BRANCH_OVERRIDE", "try-123")

	require.Equal(t, "try-123", resolveBranch(source))

	t.Setenv("MIDCLT_OVERRIDE", "feature-branch")

	require.Equal(t, "feature-branch", resolveBranch(source))
}

func TestResolveBranchEmptyOverrideIsIgnored(t *testing.T) {
	source := manifest.SourcePackage{Name: "midclt", Branch: "master"}

	t.Setenv("TRUENAS_BRANCH_OVERRIDE", "")

	require.Equal(t, "master", resolveBranch(source))
}
