package telemetry

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-mavlink-telemetry/internal/mavlink"
	"github.com/kstaniek/go-mavlink-telemetry/internal/mavtest"
	"github.com/kstaniek/go-mavlink-telemetry/internal/message"
)

type recorder struct {
	unknown   []uint32
	firstSeen []uint32
	errs      []error
	texts     []string
}

func (r *recorder) UnknownMessage(h mavlink.Header, _ []byte) { r.unknown = append(r.unknown, h.MsgID) }
func (r *recorder) FirstSeen(h mavlink.Header, _ any, _ []byte) {
	r.firstSeen = append(r.firstSeen, h.MsgID)
}
func (r *recorder) FrameError(_ mavlink.Header, err error) { r.errs = append(r.errs, err) }
func (r *recorder) StatusText(_ mavlink.Header, _ uint8, text string) {
	r.texts = append(r.texts, text)
}

func frame(sysid uint8, id uint32, payload []byte) mavlink.Frame {
	return mavlink.Frame{
		Header:  mavlink.Header{Magic: mavlink.MagicV2, Len: uint8(len(payload)), SysID: sysid, CompID: 1, MsgID: id},
		Payload: payload,
	}
}

func newTestAggregator(t *testing.T) (*Aggregator, *recorder) {
	t.Helper()
	rec := &recorder{}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return New(WithDiagnostics(rec), WithClock(func() time.Time { return clock })), rec
}

func TestAggregator_EndToEndHeartbeatAuto(t *testing.T) {
	a, _ := newTestAggregator(t)
	wire := mavtest.Frame{SysID: 1, CompID: 1, MsgID: 0, Payload: mavtest.Heartbeat(10, 0x81, 4), CRCExtra: 50}.V2()

	var p mavlink.Parser
	frames := p.Ingest(wire)
	require.Len(t, frames, 1)

	eff := a.Apply(frames[0])
	assert.True(t, eff.Known)
	assert.True(t, eff.Decoded)
	assert.True(t, eff.Heartbeat)

	s := a.Snapshot()
	assert.True(t, s.Connected)
	require.NotNil(t, s.Status)
	assert.Equal(t, "AUTO", s.Status.FlightMode)
	assert.True(t, s.Status.Armed)
	assert.Equal(t, "ACTIVE", s.Status.State)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), s.LastHeartbeat)
}

func TestAggregator_IgnoresForeignHeartbeat(t *testing.T) {
	a, _ := newTestAggregator(t)
	eff := a.Apply(frame(255, message.IDHeartbeat, mavtest.Heartbeat(10, 0x81, 4)))
	assert.True(t, eff.Decoded)
	assert.False(t, eff.Heartbeat)

	s := a.Snapshot()
	assert.False(t, s.Connected)
	assert.Nil(t, s.Status)
}

func TestAggregator_VehicleIDOption(t *testing.T) {
	a := New(WithVehicleID(42), WithDiagnostics(&recorder{}))
	assert.False(t, a.Apply(frame(1, message.IDHeartbeat, mavtest.Heartbeat(0, 0, 3))).Heartbeat)
	assert.True(t, a.Apply(frame(42, message.IDHeartbeat, mavtest.Heartbeat(0, 0, 3))).Heartbeat)
	assert.Equal(t, "MANUAL", a.Snapshot().Status.FlightMode)
}

func TestAggregator_GlobalPositionConversions(t *testing.T) {
	a, _ := newTestAggregator(t)
	p := mavtest.P(message.LenGlobalPositionInt).
		I32(4, 356_812_360).I32(8, 1_397_671_250).I32(12, 120_500).I32(16, 20_250).
		I16(20, 300).I16(22, 400).I16(24, -150).U16(26, 27_050)
	a.Apply(frame(1, message.IDGlobalPositionInt, p))

	s := a.Snapshot()
	require.NotNil(t, s.Position)
	require.NotNil(t, s.Velocity)
	assert.InDelta(t, 35.681236, s.Position.Lat, 1e-9)
	assert.InDelta(t, 139.767125, s.Position.Lon, 1e-9)
	assert.InDelta(t, 120.5, s.Position.Alt, 1e-9)
	assert.InDelta(t, 20.25, s.Position.RelativeAlt, 1e-9)
	assert.InDelta(t, 270.5, s.Position.Heading, 1e-9)
	assert.InDelta(t, 5.0, s.Velocity.GroundSpeed, 1e-9)
	assert.InDelta(t, 1.5, s.Velocity.VerticalSpeed, 1e-9)
}

func TestAggregator_AttitudeRadiansToDegrees(t *testing.T) {
	a, _ := newTestAggregator(t)
	p := mavtest.P(message.LenAttitude).F32(4, 0.5235988).F32(8, -0.1745329).F32(12, 3.1415927).F32(16, 0.25)
	a.Apply(frame(1, message.IDAttitude, p))

	at := a.Snapshot().Attitude
	require.NotNil(t, at)
	assert.InDelta(t, 30.0, at.Roll, 1e-4)
	assert.InDelta(t, -10.0, at.Pitch, 1e-4)
	assert.InDelta(t, 180.0, at.Yaw, 1e-4)
	assert.InDelta(t, 0.25, at.RollSpeed, 1e-6)
}

func TestAggregator_GPSQuality(t *testing.T) {
	a, _ := newTestAggregator(t)

	eff := a.Apply(frame(1, message.IDGPSRawInt, mavtest.GPSRawInt(356_000_000, 1_390_000_000, 120, 3, 12)))
	assert.False(t, eff.PoorGPS)

	eff = a.Apply(frame(1, message.IDGPSRawInt, mavtest.GPSRawInt(356_000_000, 1_390_000_000, 201, 2, 5)))
	assert.True(t, eff.PoorGPS)

	g := a.Snapshot().GPS
	require.NotNil(t, g)
	assert.InDelta(t, 2.01, g.HDOP, 1e-9)
	assert.InDelta(t, 1.5, g.VDOP, 1e-9)
	assert.Equal(t, "2D Fix", g.Fix)
	assert.Equal(t, uint8(5), g.Satellites)
	assert.InDelta(t, 35.6, a.Snapshot().Position.Lat, 1e-9)
}

func TestAggregator_BoundaryHDOPIsNotPoor(t *testing.T) {
	a, _ := newTestAggregator(t)
	eff := a.Apply(frame(1, message.IDGPSRawInt, mavtest.GPSRawInt(0, 0, PoorHDOP, 3, 9)))
	assert.False(t, eff.PoorGPS)
}

func TestAggregator_GroupsUpdateIndependently(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.Apply(frame(1, message.IDAttitude, mavtest.P(message.LenAttitude).F32(4, 0.1)))
	before := a.Snapshot().Attitude.Roll

	a.Apply(frame(1, message.IDVFRHUD, mavtest.P(message.LenVFRHUD).F32(0, 19).F32(4, 22).I16(16, 90).U16(18, 55)))
	a.Apply(frame(1, message.IDWind, mavtest.P(message.LenWind).F32(0, 270).F32(4, 6)))

	s := a.Snapshot()
	assert.Equal(t, before, s.Attitude.Roll)
	assert.InDelta(t, 19.0, s.Velocity.AirSpeed, 1e-6)
	assert.InDelta(t, 22.0, s.Velocity.GroundSpeed, 1e-6)
	assert.InDelta(t, 55.0, s.Velocity.Throttle, 1e-6)
	assert.InDelta(t, 90.0, s.Position.Heading, 1e-6)
	assert.InDelta(t, 270.0, s.Wind.Direction, 1e-6)
	assert.Nil(t, s.Battery)
	assert.Nil(t, s.Home)
}

func TestAggregator_BatteryAndSysStatus(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.Apply(frame(1, message.IDSysStatus, mavtest.P(message.LenSysStatus).U16(12, 455).U16(14, 12_450).I16(16, 1230).I8(30, 76)))

	s := a.Snapshot()
	assert.InDelta(t, 45.5, s.Status.Load, 1e-9)
	assert.InDelta(t, 12.45, s.Battery.Voltage, 1e-9)
	assert.InDelta(t, 12.3, s.Battery.Current, 1e-9)
	assert.Equal(t, int8(76), s.Battery.Remaining)

	a.Apply(frame(1, message.IDBatteryStatus, mavtest.P(message.LenBatteryStatus).I32(0, 800).U16(10, 11_900).I16(30, 950).I8(35, 70)))
	s = a.Snapshot()
	assert.InDelta(t, 11.9, s.Battery.Voltage, 1e-9)
	assert.InDelta(t, 9.5, s.Battery.Current, 1e-9)
	assert.Equal(t, int32(800), s.Battery.Consumed)
	// SYS_STATUS-owned fields stay.
	assert.InDelta(t, 45.5, s.Status.Load, 1e-9)
}

func TestAggregator_HomeAndImu(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.Apply(frame(1, message.IDHomePosition, mavtest.P(message.LenHomePosition).I32(0, 356_000_000).I32(4, -1_200_000_000).I32(8, 45_000)))
	a.Apply(frame(1, message.IDScaledIMU, mavtest.P(message.LenScaledIMU).I16(8, -1000).I16(10, 25).I16(16, 310)))

	s := a.Snapshot()
	assert.InDelta(t, -120.0, s.Home.Lon, 1e-9)
	assert.InDelta(t, 45.0, s.Home.Alt, 1e-9)
	assert.InDelta(t, -1.0, s.IMU.Acc[2], 1e-9)
	assert.InDelta(t, 0.025, s.IMU.Gyro[0], 1e-9)
	assert.InDelta(t, 0.31, s.IMU.Mag[0], 1e-9)
}

func TestAggregator_AirspeedDetail(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.Apply(frame(1, message.IDAirspeed, mavtest.P(message.LenAirspeed).F32(0, 16.5).I16(8, 2100).U8(11, 1)))
	a.Apply(frame(1, message.IDAOASSA, mavtest.P(message.LenAOASSA).F32(8, 3.5).F32(12, -0.5)))
	a.Apply(frame(1, message.IDAirspeedAutocal, mavtest.P(message.LenAirspeedAutocal).F32(12, 95).F32(16, 1.02).F32(20, 1.98)))

	s := a.Snapshot()
	assert.InDelta(t, 16.5, s.Velocity.AirSpeed, 1e-6)
	assert.InDelta(t, 21.0, s.Airspeed.Temperature, 1e-4)
	assert.InDelta(t, 3.5, s.Airspeed.AOA, 1e-6)
	assert.InDelta(t, -0.5, s.Airspeed.SSA, 1e-6)
	assert.InDelta(t, 95.0, s.Airspeed.DiffPressure, 1e-6)
	assert.InDelta(t, 1.98, s.Airspeed.Ratio, 1e-6)
}

func TestAggregator_ShortPayloadSkipped(t *testing.T) {
	a, _ := newTestAggregator(t)
	eff := a.Apply(frame(1, message.IDGlobalPositionInt, make([]byte, message.LenGlobalPositionInt-1)))
	assert.True(t, eff.Known)
	assert.False(t, eff.Decoded)
	assert.Nil(t, a.Snapshot().Position)
}

func TestAggregator_UnknownReportedOnce(t *testing.T) {
	a, rec := newTestAggregator(t)
	for i := 0; i < 3; i++ {
		eff := a.Apply(frame(1, 60_000, []byte{1, 2, 3}))
		assert.False(t, eff.Known)
		assert.NoError(t, eff.Err)
	}
	a.Apply(frame(1, 60_001, nil))
	assert.Equal(t, []uint32{60_000, 60_001}, rec.unknown)
}

func TestAggregator_FirstSeenOnce(t *testing.T) {
	a, rec := newTestAggregator(t)
	hud := mavtest.P(message.LenVFRHUD)
	a.Apply(frame(1, message.IDVFRHUD, hud))
	a.Apply(frame(1, message.IDVFRHUD, hud))
	a.Apply(frame(1, message.IDWind, mavtest.P(message.LenWind)))
	a.Apply(frame(1, message.IDHeartbeat, mavtest.Heartbeat(10, 0, 4)))
	assert.Equal(t, []uint32{message.IDVFRHUD, message.IDHeartbeat}, rec.firstSeen)

	a.Reset()
	a.Apply(frame(1, message.IDVFRHUD, hud))
	assert.Len(t, rec.firstSeen, 3)
	assert.Nil(t, a.Snapshot().Status)
}

func TestAggregator_FirstSeenHeartbeatOnlyFromVehicle(t *testing.T) {
	a, rec := newTestAggregator(t)
	a.Apply(frame(255, message.IDHeartbeat, mavtest.Heartbeat(0, 0, 4)))
	assert.Empty(t, rec.firstSeen)
	a.Apply(frame(1, message.IDHeartbeat, mavtest.Heartbeat(10, 0, 4)))
	assert.Equal(t, []uint32{message.IDHeartbeat}, rec.firstSeen)
}

func TestAggregator_NonFiniteFloatsKeepLastValue(t *testing.T) {
	a, _ := newTestAggregator(t)
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	a.Apply(frame(1, message.IDWind, mavtest.P(message.LenWind).F32(0, 270).F32(4, 6.5).F32(8, 0.2)))
	eff := a.Apply(frame(1, message.IDWind, mavtest.P(message.LenWind).F32(0, nan).F32(4, 7).F32(8, inf)))
	require.True(t, eff.Decoded)
	require.NoError(t, eff.Err)

	s := a.Snapshot()
	assert.InDelta(t, 270.0, s.Wind.Direction, 1e-6)
	assert.InDelta(t, 7.0, s.Wind.Speed, 1e-6)
	assert.InDelta(t, 0.2, s.Wind.SpeedZ, 1e-6)

	// First sighting of a NaN field leaves it at zero.
	alt := mavtest.P(message.LenAltitude).F32(8, 120).F32(12, 95).F32(16, 30).F32(20, 25).F32(24, nan).F32(28, nan)
	a.Apply(frame(1, message.IDAltitude, alt))
	s = a.Snapshot()
	assert.Zero(t, s.Altitude.Terrain)
	assert.Zero(t, s.Altitude.BottomClearance)
	assert.InDelta(t, 95.0, s.Altitude.AMSL, 1e-6)

	_, err := json.Marshal(s)
	assert.NoError(t, err)
}

func TestSnapshot_LastHeartbeatOmittedUntilSeen(t *testing.T) {
	a, _ := newTestAggregator(t)
	b, err := json.Marshal(a.Snapshot())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "lastHeartbeat")

	a.Apply(frame(1, message.IDHeartbeat, mavtest.Heartbeat(10, 0, 4)))
	b, err = json.Marshal(a.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"lastHeartbeat":"2024-05-01T12:00:00Z"`)
}

func TestAggregator_StatusTextForwarded(t *testing.T) {
	a, rec := newTestAggregator(t)
	a.Apply(frame(1, message.IDStatusText, mavtest.P(message.LenStatusText).U8(0, 4).Str(1, 50, "PreArm: Throttle below failsafe")))
	assert.Equal(t, []string{"PreArm: Throttle below failsafe"}, rec.texts)
}

func TestAggregator_PanicRecoveredPerFrame(t *testing.T) {
	const id = 59_999
	handlers[id] = func(*Aggregator, mavlink.Frame, *Effect) (any, bool) { panic("boom") }
	t.Cleanup(func() { delete(handlers, id) })

	a, rec := newTestAggregator(t)
	eff := a.Apply(frame(1, id, nil))
	require.Error(t, eff.Err)
	assert.True(t, errors.Is(eff.Err, ErrFramePanic))
	require.Len(t, rec.errs, 1)

	// The next frame in the batch still applies.
	eff = a.Apply(frame(1, message.IDHeartbeat, mavtest.Heartbeat(11, 0, 4)))
	assert.NoError(t, eff.Err)
	assert.Equal(t, "RTL", a.Snapshot().Status.FlightMode)
}

func TestAggregator_SetConnectedKeepsGroups(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.Apply(frame(1, message.IDHeartbeat, mavtest.Heartbeat(5, 0, 4)))
	a.SetConnected(false)
	s := a.Snapshot()
	assert.False(t, s.Connected)
	assert.Equal(t, "FBWA", s.Status.FlightMode)
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.Apply(frame(1, message.IDHeartbeat, mavtest.Heartbeat(10, 0, 4)))
	a.Apply(frame(1, message.IDServoOutputRaw, mavtest.P(message.LenServoOutputRaw).U16(4, 1500)))

	s := a.Snapshot()
	s.Status.FlightMode = "mutated"
	s.Servos.Outputs[0] = 1

	again := a.Snapshot()
	assert.Equal(t, "AUTO", again.Status.FlightMode)
	assert.Equal(t, uint16(1500), again.Servos.Outputs[0])
}

func TestLookupTables(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{FlightMode(10), "AUTO"},
		{FlightMode(25), "LOITER_ALT_QLAND"},
		{FlightMode(9), "MODE_9"},
		{FlightMode(1000), "MODE_1000"},
		{FixType(0), "No GPS"},
		{FixType(6), "RTK Fixed"},
		{FixType(8), "PPP"},
		{FixType(42), "UNKNOWN(42)"},
		{SystemState(4), "ACTIVE"},
		{SystemState(8), "FLIGHT_TERMINATION"},
		{SystemState(9), "UNKNOWN(9)"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.got)
	}
}
