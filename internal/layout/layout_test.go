package layout_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M0Rf30/yap/v2/internal/layout"
	"github.com/M0Rf30/yap/v2/pkg/testutils"
)

func TestNewMakesRootAbsolute(t *testing.T) {
	root := testutils.TempRoot(t)

	l := layout.New(root)

	require.True(t, filepath.IsAbs(l.Root))
	require.Equal(t, root, l.Root)
}

func TestDerivedPathsNestUnderRoot(t *testing.T) {
	root := testutils.TempRoot(t)
	l := layout.New(root)

	require.Equal(t, filepath.Join(root, "tmp"), l.TmpDir())
	require.Equal(t, filepath.Join(root, "tmp", "tmpfs"), l.TmpfsDir())
	require.Equal(t, filepath.Join(root, "tmp", "pkgdir", "Packages.gz"), l.PackagesIndexFile())
	require.Equal(t, filepath.Join(root, "sources", "midclt"), l.SourceDir("midclt"))
}

func TestSourceHashAndPkgListFilesAreKeyedBySourceName(t *testing.T) {
	root := testutils.TempRoot(t)
	l := layout.New(root)

	hashFile := l.SourceHashFile("truenas")
	pkgListFile := l.SourcePkgListFile("truenas")

	require.NotEqual(t, hashFile, pkgListFile)
	require.Contains(t, hashFile, "truenas")
	require.Contains(t, pkgListFile, "truenas")
}

func TestBaseChrootFilesDifferPerVariant(t *testing.T) {
	root := testutils.TempRoot(t)
	l := layout.New(root)

	pkgFile := l.BaseChrootFile(layout.VariantPackage)
	rootfsFile := l.BaseChrootFile(layout.VariantRootfs)
	cdromFile := l.BaseChrootFile(layout.VariantCDROM)

	require.NotEqual(t, pkgFile, rootfsFile)
	require.NotEqual(t, rootfsFile, cdromFile)
}

func TestEnsureDirsCreatesExpectedTree(t *testing.T) {
	root := testutils.TempRoot(t)
	l := layout.New(root)

	require.NoError(t, l.EnsureDirs())

	for _, dir := range []string{l.TmpfsDir(), l.PkgDir(), l.PkgHashesDir(), l.LogsDir(), l.ReleaseDir()} {
		require.DirExists(t, dir)
	}
}
