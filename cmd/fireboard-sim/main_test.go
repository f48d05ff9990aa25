package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/resident-x/fireboard2mqtt/internal/fireboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorServesFireboardAPI(t *testing.T) {
	sim := NewSimulator(2, 3, 1)
	sim.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	sim.Tick()

	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	client, err := fireboard.NewClient(fireboard.Config{
		BaseURL:  srv.URL + "/api/",
		Email:    "sim@example.com",
		Password: "sim",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	devices, err := client.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	d := devices[0]
	assert.Equal(t, "SIM000001", d.HardwareID)
	assert.Len(t, d.Channels, 3)
	assert.Len(t, d.LatestTemps, 3)
	assert.True(t, d.DeviceLog.Date.Equal(sim.now()))

	// The first device has a drive, the second does not.
	drive, err := client.GetDriveLog(ctx, devices[0].UUID)
	require.NoError(t, err)
	require.NotNil(t, drive)
	assert.Equal(t, float64(225), drive.Setpoint)

	drive, err = client.GetDriveLog(ctx, devices[1].UUID)
	require.NoError(t, err)
	assert.Nil(t, drive)
}

func TestSimulatorRejectsMissingToken(t *testing.T) {
	srv := httptest.NewServer(NewSimulator(1, 1, 1).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/v1/devices.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 401, resp.StatusCode)
}

func TestTickDrivesTowardsSetpoint(t *testing.T) {
	sim := NewSimulator(1, 1, 7)
	for i := 0; i < 200; i++ {
		sim.Tick()
	}

	temp := sim.devices[0].device.Channels[0].LastTemplog.Temp
	assert.InDelta(t, 225, temp, 25)
	assert.GreaterOrEqual(t, sim.devices[0].drive.DrivePercent, 0.0)
	assert.LessOrEqual(t, sim.devices[0].drive.DrivePercent, 1.0)
}
