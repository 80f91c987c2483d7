package gputask

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDevices() []Device {
	return []Device{
		{Index: 0, FreeMemoryMB: 4096, TemperatureC: 60},
		{Index: 1, FreeMemoryMB: 8192, TemperatureC: 80},
		{Index: 2, FreeMemoryMB: 1024, TemperatureC: 50},
	}
}

func TestBestDeviceReturnsMostFreeMemoryMeetingThreshold(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, BestDevice(sampleDevices(), 2048))
}

func TestBestDeviceReturnsMinusOneWhenNoneQualify(t *testing.T) {
	t.Parallel()
	assert.Equal(t, -1, BestDevice(sampleDevices(), 16384))
}

func TestFreeDevicesFiltersAndSortsByDescendingFreeMemory(t *testing.T) {
	t.Parallel()
	got := FreeDevices(sampleDevices(), 2048, 90)
	assert.Equal(t, []int{1, 0}, got)
}

func TestFreeDevicesAppliesTemperatureCeiling(t *testing.T) {
	t.Parallel()
	got := FreeDevices(sampleDevices(), 2048, 70)
	assert.Equal(t, []int{0}, got)
}

func TestCoolestDeviceReturnsLowestTempMeetingThreshold(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, CoolestDevice(sampleDevices(), 2048))
}

func TestCoolestDeviceTreatsZeroTemperatureAsHot(t *testing.T) {
	t.Parallel()
	devices := []Device{{Index: 0, FreeMemoryMB: 4096, TemperatureC: 0}, {Index: 1, FreeMemoryMB: 4096, TemperatureC: 40}}
	assert.Equal(t, 1, CoolestDevice(devices, 2048))
}

func TestAcquireRunsOllamaCleanupWhenSwitchingToFramework(t *testing.T) {
	t.Parallel()
	var ranOllama, ranFramework bool
	m := New(nil,
		WithOllamaCleanup(func(ctx context.Context) error { ranOllama = true; return nil }),
		WithFrameworkCleanup(func(ctx context.Context) error { ranFramework = true; return nil }),
	)

	require.NoError(t, m.Acquire(context.Background(), TaskOllamaAnalysis, "doc-1"))
	require.NoError(t, m.Acquire(context.Background(), TaskEmbedding, "doc-1"))
	assert.True(t, ranOllama)
	assert.False(t, ranFramework)
}

func TestAcquireRunsFrameworkCleanupWhenSwitchingToOllama(t *testing.T) {
	t.Parallel()
	var ranFramework bool
	m := New(nil, WithFrameworkCleanup(func(ctx context.Context) error { ranFramework = true; return nil }))

	require.NoError(t, m.Acquire(context.Background(), TaskEmbedding, "doc-1"))
	require.NoError(t, m.Acquire(context.Background(), TaskOllamaAnalysis, "doc-1"))
	assert.True(t, ranFramework)
}

func TestAcquireNoCleanupOnFirstTask(t *testing.T) {
	t.Parallel()
	called := false
	m := New(nil, WithOllamaCleanup(func(ctx context.Context) error { called = true; return nil }))
	require.NoError(t, m.Acquire(context.Background(), TaskEmbedding, "doc-1"))
	assert.False(t, called)
}

func TestWithTaskReleasesOnReturn(t *testing.T) {
	t.Parallel()
	m := New(nil)
	ran := false
	err := m.WithTask(context.Background(), TaskEmbedding, "doc-1", false, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
