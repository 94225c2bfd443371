package memtracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTrackerReserveReleaseBudget(t *testing.T) {
	d := &Default{limit: 100}

	require.True(t, d.WillFitIntoCache(60))
	d.Reserve(60)
	require.Equal(t, uint64(60), d.InUse())

	require.False(t, d.WillFitIntoCache(50))
	require.True(t, d.WillFitIntoCache(40))

	d.Release(60)
	require.Equal(t, uint64(0), d.InUse())
}

func TestDefaultTrackerReleaseNeverUnderflows(t *testing.T) {
	d := &Default{limit: 100}
	d.Reserve(10)
	d.Release(50)
	require.Equal(t, uint64(0), d.InUse())
}

func TestGetInitializesZeroBudgetWhenUninitialized(t *testing.T) {
	instance = nil
	tracker := Get()
	require.NotNil(t, tracker)
	require.False(t, tracker.WillFitIntoCache(1))
}

func TestInitInstallsProcessWideTracker(t *testing.T) {
	Init(1024)
	t1 := Get()
	t1.Reserve(100)
	t2 := Get()
	require.Equal(t, uint64(100), t2.InUse())
}
