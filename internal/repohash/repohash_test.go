package repohash_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M0Rf30/yap/v2/internal/manifest"
	"github.com/M0Rf30/yap/v2/internal/repohash"
)

func TestRenderAptPreferencesFormatsOneBlockPerEntry(t *testing.T) {
	prefs := []manifest.AptPreference{
		{Package: "zfs-dkms", Pin: "release a=truenas", PinPriority: 1001},
		{Package: "zfsutils-linux", Pin: "release a=truenas", PinPriority: 1001},
	}

	rendered := repohash.RenderAptPreferences(prefs)

	require.Equal(t,
		"Package: zfs-dkms\nPin: release a=truenas\nPin-Priority: 1001\n\n"+
			"Package: zfsutils-linux\nPin: release a=truenas\nPin-Priority: 1001\n",
		rendered)
}

func TestRenderAptPreferencesEmptyYieldsEmptyString(t *testing.T) {
	require.Empty(t, repohash.RenderAptPreferences(nil))
}
