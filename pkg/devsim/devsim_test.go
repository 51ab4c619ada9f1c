// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package devsim

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/mgmt"
	"github.com/Thermoquad/provisor/pkg/rig"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

func newController(t *testing.T, fn func(*Options)) *Controller {
	t.Helper()
	opts := DefaultOptions()
	if fn != nil {
		fn(&opts)
	}
	c, err := NewController(opts, zerolog.Nop())
	require.NoError(t, err)
	return c
}

// connect attaches a protocol client to the controller over net.Pipe
func connect(t *testing.T, c *Controller) *tfp.Client {
	t.Helper()
	host, device := net.Pipe()
	go c.ServeConn(tfp.NewStreamConn(device))
	client := tfp.NewClient(tfp.NewStreamConn(host), tfp.WithTimeout(time.Second))
	t.Cleanup(func() { client.Close() })
	return client
}

func device(t *testing.T, c *Controller, client *tfp.Client) *evse.Device {
	t.Helper()
	uid, err := tfp.ParseUID(c.opts.UID)
	require.NoError(t, err)
	return evse.NewDevice(client, uid)
}

func TestController_Enumerate(t *testing.T) {
	c := newController(t, func(o *Options) { o.MasterUID = "6Ew" })
	client := connect(t, c)

	ids, err := client.Enumerate(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	byDevice := map[uint16]tfp.Identity{}
	for _, id := range ids {
		byDevice[id.DeviceIdentifier] = id
	}
	assert.Equal(t, "Xa1", byDevice[evse.DeviceIdentifier].UID)
	assert.Equal(t, "6Ew", byDevice[evse.MasterDeviceIdentifier].UID)
}

func TestController_HardwareChecks(t *testing.T) {
	c := newController(t, nil)
	dev := device(t, c, connect(t, c))
	ctx := context.Background()

	hw, err := dev.HardwareConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(evse.Jumper32A), hw.JumperConfiguration)
	assert.False(t, hw.HasLockSwitch)

	current, err := dev.MaxChargingCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(32000), current.OutgoingCable)

	meter, err := dev.EnergyMeterState(ctx)
	require.NoError(t, err)
	assert.True(t, meter.Available)
	assert.Equal(t, 1, c.Calls("get_energy_meter_state"))
}

func TestController_DetailedValues(t *testing.T) {
	c := newController(t, func(o *Options) { o.DetailedEmpty = true })
	dev := device(t, c, connect(t, c))

	values, err := dev.EnergyMeterDetailedValues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = dev.EnergyMeterDetailedValues(context.Background())
	require.NoError(t, err)
	require.Len(t, values, evse.DetailedValuesLength)
	assert.Equal(t, float32(0), values[0])
	assert.Equal(t, float32(42), values[84])
}

func TestController_FrontPanelButton(t *testing.T) {
	c := newController(t, func(o *Options) { o.ButtonPressAfter = 2 })
	dev := device(t, c, connect(t, c))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		pressed, err := dev.FrontPanelButtonPressed(ctx)
		require.NoError(t, err)
		assert.False(t, pressed)
	}
	pressed, err := dev.FrontPanelButtonPressed(ctx)
	require.NoError(t, err)
	assert.True(t, pressed)
}

func TestController_ElectricalSequence(t *testing.T) {
	c := newController(t, nil)
	dev := device(t, c, connect(t, c))

	sim := rig.NewSimRig(nil, c, zerolog.Nop())
	require.NoError(t, sim.ElectricalTest(context.Background(), dev))
	assert.Equal(t, 1, c.Calls("reset_dc_fault_current"))
}

func TestController_UnknownFunction(t *testing.T) {
	c := newController(t, nil)
	out := c.Handle(&tfp.Packet{UID: c.uid, FunctionID: 200, Sequence: 1, ResponseExpected: true})
	require.Len(t, out, 1)
	assert.Equal(t, uint8(tfp.ErrorCodeNotSupported), out[0].ErrorCode)

	assert.Empty(t, c.Handle(&tfp.Packet{UID: c.uid, FunctionID: 200, Sequence: 2}))
	assert.Empty(t, c.Handle(&tfp.Packet{UID: 12345, FunctionID: 1, Sequence: 3, ResponseExpected: true}))
}

func newManagement(t *testing.T, c *Controller) *mgmt.Client {
	t.Helper()
	srv := httptest.NewServer(c.Router())
	t.Cleanup(srv.Close)
	return mgmt.New(srv.URL)
}

func TestRouter_FirmwareUpdate(t *testing.T) {
	c := newController(t, func(o *Options) {
		o.FirmwareVersion = "2.0.3"
		o.UpdateVersion = "2.0.4"
	})
	m := newManagement(t, c)
	ctx := context.Background()

	log, err := m.EventLog(ctx, time.Second)
	require.NoError(t, err)
	assert.Contains(t, log, "WARP2 CHARGER V2.0.3")

	reply, err := m.FlashFirmware(ctx, []byte("image"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Firmware update OK")
	assert.Equal(t, 1, c.Flashes())

	log, err = m.EventLog(ctx, time.Second)
	require.NoError(t, err)
	assert.Contains(t, log, "WARP2 CHARGER V2.0.4")

	require.NoError(t, m.FactoryReset(ctx, time.Second))
	assert.Equal(t, 1, c.FactoryResets())
}

func TestRouter_LockedUpdate(t *testing.T) {
	c := newController(t, func(o *Options) { o.LockUpdates = true })
	m := newManagement(t, c)

	_, err := m.FlashFirmware(context.Background(), []byte("image"))
	assert.ErrorIs(t, err, mgmt.ErrLocked)
	assert.Zero(t, c.Flashes())
}

func TestRouter_ProxyAndTags(t *testing.T) {
	c := newController(t, nil)
	m := newManagement(t, c)
	ctx := context.Background()

	require.NoError(t, m.EnableProxy(ctx, time.Second))
	assert.True(t, c.ProxyEnabled())

	seen, err := m.SeenTags(ctx)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "04:BA:38:42:EF:6C:80", seen[0].TagID.String())

	cfg := mgmt.TagConfig{AuthorizedTags: []mgmt.AuthorizedTag{
		{TagName: "Tag 1", TagType: 2, TagID: mgmt.TagID{1, 2, 3, 4}},
	}}
	require.NoError(t, m.ConfigureTags(ctx, cfg))
	require.NotNil(t, c.TagConfig())
	assert.Equal(t, "Tag 1", c.TagConfig().AuthorizedTags[0].TagName)

	page, err := m.IndexPage(ctx)
	require.NoError(t, err)
	assert.Contains(t, page, "Ladecontroller")

	live, err := m.MeterLive(ctx)
	require.NoError(t, err)
	assert.Len(t, live.Samples, 3)
}
