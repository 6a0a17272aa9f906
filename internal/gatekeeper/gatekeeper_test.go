package gatekeeper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cloudstash/internal/config"
)

type MockDiskChecker struct {
	mock.Mock
}

func (m *MockDiskChecker) FreeBytes(path string) (uint64, error) {
	args := m.Called(path)
	return args.Get(0).(uint64), args.Error(1)
}

func createTestConfig(enabled bool) *config.Config {
	return &config.Config{
		Gatekeeper: config.GatekeeperConfig{
			Enabled:      enabled,
			ReserveBytes: 1000,
		},
	}
}

func TestCanStartDownload_Disabled(t *testing.T) {
	disk := new(MockDiskChecker)
	gk := New(createTestConfig(false), disk)

	decision := gk.CanStartDownload("/downloads", 1<<40)

	assert.True(t, decision.Allowed)
	disk.AssertNotCalled(t, "FreeBytes", mock.Anything)
}

func TestCanStartDownload_EnoughSpace(t *testing.T) {
	disk := new(MockDiskChecker)
	disk.On("FreeBytes", "/downloads").Return(uint64(5000), nil)
	gk := New(createTestConfig(true), disk)

	decision := gk.CanStartDownload("/downloads", 4000)

	assert.True(t, decision.Allowed)
	disk.AssertExpectations(t)
}

func TestCanStartDownload_InsufficientSpace(t *testing.T) {
	disk := new(MockDiskChecker)
	disk.On("FreeBytes", "/downloads").Return(uint64(4500), nil)
	gk := New(createTestConfig(true), disk)

	decision := gk.CanStartDownload("/downloads", 4000)

	assert.False(t, decision.Allowed)
	assert.Equal(t, "Insufficient disk space", decision.Reason)
	assert.Equal(t, uint64(5000), decision.Details["required_bytes"])
	assert.Equal(t, uint64(4500), decision.Details["free_bytes"])
}

func TestCanStartDownload_CheckFails(t *testing.T) {
	disk := new(MockDiskChecker)
	disk.On("FreeBytes", "/downloads").Return(uint64(0), errors.New("no such device"))
	gk := New(createTestConfig(true), disk)

	decision := gk.CanStartDownload("/downloads", 10)

	assert.False(t, decision.Allowed)
	assert.Equal(t, "Unable to verify disk space", decision.Reason)
}

func TestCanStartDownload_ZeroBytes(t *testing.T) {
	disk := new(MockDiskChecker)
	gk := New(createTestConfig(true), disk)

	assert.True(t, gk.CanStartDownload("/downloads", 0).Allowed)
	disk.AssertNotCalled(t, "FreeBytes", mock.Anything)
}

func TestGetResourceStatus(t *testing.T) {
	disk := new(MockDiskChecker)
	disk.On("FreeBytes", "/downloads").Return(uint64(123), nil)
	gk := New(createTestConfig(true), disk)

	status := gk.GetResourceStatus("/downloads")

	assert.True(t, status.Enabled)
	assert.Equal(t, uint64(123), status.FreeBytes)
	assert.Equal(t, uint64(1000), status.ReserveBytes)
}

func TestStatfsChecker(t *testing.T) {
	dir := t.TempDir()

	free, err := StatfsChecker{}.FreeBytes(dir)
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))

	// Paths that do not exist yet use their closest existing ancestor
	nested, err := StatfsChecker{}.FreeBytes(dir + "/not/created/yet")
	require.NoError(t, err)
	assert.Greater(t, nested, uint64(0))
}
