package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M0Rf30/yap/v2/internal/manifest"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/testutils"
)

const validManifest = `
debian_release: bookworm
apt_repos:
  primary:
    url: http://deb.debian.org/debian
    distribution: bookworm
apt_preferences:
  - Package: zfs-dkms
    Pin: release a=truenas
    Pin-Priority: 1001
  - Package: zfsutils-linux
    Pin: release a=truenas
    Pin-Priority: 1001
sources:
  - name: midclt
    repo: https://github.com/truenas/midclt
    branch: master
`

func TestLoadValidManifest(t *testing.T) {
	path := testutils.WriteFile(t, t.TempDir(), "build.manifest", validManifest)

	m, err := manifest.Load(path)
	require.NoError(t, err)
	require.Len(t, m.FlatSources(), 1)
	require.Equal(t, "midclt", m.FlatSources()[0].Name)
}

func TestLoadMissingFileIsMissingManifest(t *testing.T) {
	_, err := manifest.Load("/nonexistent/build.manifest")
	require.Error(t, err)
	require.ErrorIs(t, err, yaperrors.New(yaperrors.ErrTypeMissingManifest, ""))
}

func TestLoadRejectsUnsortedAptPreferences(t *testing.T) {
	unsorted := `
debian_release: bookworm
apt_repos:
  primary:
    url: http://deb.debian.org/debian
    distribution: bookworm
apt_preferences:
  - Package: zfsutils-linux
    Pin: release a=truenas
    Pin-Priority: 1001
  - Package: zfs-dkms
    Pin: release a=truenas
    Pin-Priority: 1001
sources:
  - name: midclt
`
	path := testutils.WriteFile(t, t.TempDir(), "build.manifest", unsorted)

	_, err := manifest.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateSourceNames(t *testing.T) {
	dup := `
debian_release: bookworm
apt_repos:
  primary:
    url: http://deb.debian.org/debian
    distribution: bookworm
sources:
  - name: midclt
  - name: midclt
`
	path := testutils.WriteFile(t, t.TempDir(), "build.manifest", dup)

	_, err := manifest.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingPrimaryRepo(t *testing.T) {
	noRepo := `
debian_release: bookworm
sources:
  - name: midclt
`
	path := testutils.WriteFile(t, t.TempDir(), "build.manifest", noRepo)

	_, err := manifest.Load(path)
	require.Error(t, err)
}
