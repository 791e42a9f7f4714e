package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M0Rf30/yap/v2/pkg/set"
)

func TestSetLenCountsMembers(t *testing.T) {
	members := set.NewSet()

	require.Equal(t, 0, setLen(members))

	members.Add("midclt")
	members.Add("truenas")

	require.Equal(t, 2, setLen(members))
}

func TestSetLenDoesNotDrainTheSetForLaterUse(t *testing.T) {
	members := set.NewSet()
	members.Add("zfs")

	_ = setLen(members)

	require.True(t, members.Contains("zfs"))
}
