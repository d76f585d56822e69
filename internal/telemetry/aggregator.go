// Package telemetry merges decoded MAVLink messages into a Snapshot.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kstaniek/go-mavlink-telemetry/internal/mavlink"
	"github.com/kstaniek/go-mavlink-telemetry/internal/message"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

// DefaultVehicleID is the system id of the autopilot whose heartbeats drive
// the status group.
const DefaultVehicleID = 1

// PoorHDOP is the GPS_RAW_INT eph value (HDOP*100) above which the fix is
// considered too weak to trust.
const PoorHDOP = 200

// ErrFramePanic wraps a recovered panic from decode or apply.
var ErrFramePanic = errors.New("telemetry: frame handler panicked")

// Effect reports what applying a single frame did.
type Effect struct {
	MsgID     uint32
	Known     bool  // id is in the catalog
	Decoded   bool  // payload was long enough and decoded
	Heartbeat bool  // heartbeat from the vehicle was applied
	PoorGPS   bool  // GPS_RAW_INT reported eph above PoorHDOP
	Err       error // non-nil when the handler panicked
}

// Aggregator owns a Snapshot and applies frames to it. It is not safe for
// concurrent use; callers serialize Apply the same way they serialize
// Parser.Ingest.
type Aggregator struct {
	snap      Snapshot
	vehicleID uint8
	diag      Diagnostics
	now       func() time.Time
	unknown   map[uint32]struct{}
	watched   map[uint32]bool // true once FirstSeen fired
}

type Option func(*Aggregator)

// WithVehicleID overrides the system id whose heartbeats are trusted.
func WithVehicleID(id uint8) Option { return func(a *Aggregator) { a.vehicleID = id } }

// WithDiagnostics injects the diagnostics sink (default LogDiagnostics).
func WithDiagnostics(d Diagnostics) Option {
	return func(a *Aggregator) {
		if d != nil {
			a.diag = d
		}
	}
}

// WithClock sets the time source used for LastHeartbeat.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an Aggregator with an empty snapshot.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		vehicleID: DefaultVehicleID,
		diag:      LogDiagnostics{},
		now:       time.Now,
		unknown:   make(map[uint32]struct{}),
		watched: map[uint32]bool{
			message.IDHeartbeat:           false,
			message.IDVFRHUD:              false,
			message.IDAirspeed:            false,
			message.IDNavControllerOutput: false,
			message.IDAirspeedAutocal:     false,
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() Snapshot { return a.snap.Clone() }

// SetConnected updates the connectivity flag without touching other groups.
func (a *Aggregator) SetConnected(v bool) { a.snap.Connected = v }

// Reset drops all state, e.g. when switching to a different vehicle.
func (a *Aggregator) Reset() {
	a.snap = Snapshot{}
	clear(a.unknown)
	for id := range a.watched {
		a.watched[id] = false
	}
}

// Apply decodes f and merges it into the snapshot. A panic inside a handler
// is recovered, reported to Diagnostics and returned in Effect.Err; the
// snapshot keeps whatever the handler wrote before failing.
func (a *Aggregator) Apply(f mavlink.Frame) (eff Effect) {
	eff.MsgID = f.Header.MsgID
	defer func() {
		if r := recover(); r != nil {
			eff.Err = fmt.Errorf("%w: %s: %v", ErrFramePanic, message.Name(f.Header.MsgID), r)
			metrics.IncFrameError()
			a.diag.FrameError(f.Header, eff.Err)
		}
	}()

	h, ok := handlers[f.Header.MsgID]
	if !ok {
		metrics.IncUnknown()
		if _, seen := a.unknown[f.Header.MsgID]; !seen {
			a.unknown[f.Header.MsgID] = struct{}{}
			a.diag.UnknownMessage(f.Header, f.Payload)
		}
		return eff
	}
	eff.Known = true
	name := message.Name(f.Header.MsgID)
	decoded, ok := h(a, f, &eff)
	if !ok {
		metrics.IncSkipped(name)
		return eff
	}
	eff.Decoded = true
	metrics.IncMessage(name)
	// Heartbeats from other systems must not consume the vehicle's capture.
	if f.Header.MsgID == message.IDHeartbeat && !eff.Heartbeat {
		return eff
	}
	if fired, watch := a.watched[f.Header.MsgID]; watch && !fired {
		a.watched[f.Header.MsgID] = true
		a.diag.FirstSeen(f.Header, decoded, f.Payload)
	}
	return eff
}

// handler decodes a frame and applies it, returning the decoded value.
type handler func(a *Aggregator, f mavlink.Frame, eff *Effect) (any, bool)

func entry[T any](decode func([]byte) (T, bool), apply func(a *Aggregator, h mavlink.Header, m T, eff *Effect)) handler {
	return func(a *Aggregator, f mavlink.Frame, eff *Effect) (any, bool) {
		m, ok := decode(f.Payload)
		if !ok {
			return nil, false
		}
		apply(a, f.Header, m, eff)
		return m, true
	}
}

// decodeOnly registers catalog messages that are validated and counted but
// have no snapshot group.
func decodeOnly[T any](decode func([]byte) (T, bool)) handler {
	return entry(decode, func(*Aggregator, mavlink.Header, T, *Effect) {})
}

var handlers = map[uint32]handler{
	message.IDHeartbeat:           entry(message.DecodeHeartbeat, applyHeartbeat),
	message.IDSysStatus:           entry(message.DecodeSysStatus, applySysStatus),
	message.IDSystemTime:          entry(message.DecodeSystemTime, applySystemTime),
	message.IDParamValue:          decodeOnly(message.DecodeParamValue),
	message.IDGPSRawInt:           entry(message.DecodeGPSRawInt, applyGPSRawInt),
	message.IDGPSStatus:           decodeOnly(message.DecodeGPSStatus),
	message.IDScaledIMU:           entry(message.DecodeScaledIMU, applyScaledIMU),
	message.IDRawIMU:              decodeOnly(message.DecodeRawIMU),
	message.IDRawPressure:         decodeOnly(message.DecodeRawPressure),
	message.IDScaledPressure:      entry(message.DecodeScaledPressure, applyScaledPressure),
	message.IDAttitude:            entry(message.DecodeAttitude, applyAttitude),
	message.IDAttitudeQuaternion:  entry(message.DecodeAttitudeQuaternion, applyAttitudeQuaternion),
	message.IDLocalPositionNED:    entry(message.DecodeLocalPositionNED, applyLocalPosition),
	message.IDGlobalPositionInt:   entry(message.DecodeGlobalPositionInt, applyGlobalPosition),
	message.IDRCChannelsRaw:       entry(message.DecodeRCChannelsRaw, applyRCChannelsRaw),
	message.IDServoOutputRaw:      entry(message.DecodeServoOutputRaw, applyServoOutput),
	message.IDMissionCurrent:      entry(message.DecodeMissionCurrent, applyMissionCurrent),
	message.IDMissionItemReached:  entry(message.DecodeMissionItemReached, applyMissionReached),
	message.IDNavControllerOutput: entry(message.DecodeNavControllerOutput, applyNavController),
	message.IDRCChannels:          entry(message.DecodeRCChannels, applyRCChannels),
	message.IDVFRHUD:              entry(message.DecodeVFRHUD, applyVFRHUD),
	message.IDCommandAck:          decodeOnly(message.DecodeCommandAck),
	message.IDTimesync:            decodeOnly(message.DecodeTimesync),
	message.IDScaledIMU2:          decodeOnly(message.DecodeScaledIMU),
	message.IDGPS2Raw:             entry(message.DecodeGPS2Raw, applyGPS2Raw),
	message.IDPowerStatus:         entry(message.DecodePowerStatus, applyPowerStatus),
	message.IDScaledIMU3:          decodeOnly(message.DecodeScaledIMU),
	message.IDTerrainReport:       entry(message.DecodeTerrainReport, applyTerrain),
	message.IDAltitude:            entry(message.DecodeAltitude, applyAltitude),
	message.IDBatteryStatus:       entry(message.DecodeBatteryStatus, applyBatteryStatus),
	message.IDAutopilotVersion:    decodeOnly(message.DecodeAutopilotVersion),
	message.IDMeminfo:             entry(message.DecodeMeminfo, applyMeminfo),
	message.IDAHRS:                entry(message.DecodeAHRS, applyAHRS),
	message.IDHWStatus:            entry(message.DecodeHWStatus, applyHWStatus),
	message.IDWind:                entry(message.DecodeWind, applyWind),
	message.IDRangefinder:         entry(message.DecodeRangefinder, applyRangefinder),
	message.IDAirspeedAutocal:     entry(message.DecodeAirspeedAutocal, applyAirspeedAutocal),
	message.IDAHRS2:               decodeOnly(message.DecodeAHRS2),
	message.IDAHRS3:               decodeOnly(message.DecodeAHRS3),
	message.IDEKFStatusReport:     entry(message.DecodeEKFStatusReport, applyEKF),
	message.IDVibration:           entry(message.DecodeVibration, applyVibration),
	message.IDHomePosition:        entry(message.DecodeHomePosition, applyHome),
	message.IDStatusText:          entry(message.DecodeStatusText, applyStatusText),
	message.IDAirspeed:            entry(message.DecodeAirspeed, applyAirspeed),
	message.IDAOASSA:              entry(message.DecodeAOASSA, applyAOASSA),
}

const radToDeg = 180 / math.Pi

func deg(rad float32) float64 { return float64(rad) * radToDeg }

// fin returns v, or prev when v is NaN or infinite. Autopilots send NaN for
// "unknown" in many float fields; the snapshot keeps the last finite value.
func fin(prev, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return prev
	}
	return v
}

// finInto is fin applied element-wise to dst.
func finInto(dst []float64, v ...float64) {
	for i := range dst {
		dst[i] = fin(dst[i], v[i])
	}
}

func e7(v int32) float64 { return float64(v) / 1e7 }

func applyHeartbeat(a *Aggregator, h mavlink.Header, m message.Heartbeat, eff *Effect) {
	// The ground station and companion computers also send heartbeats; only
	// the vehicle's own may touch armed/mode/state.
	if h.SysID != a.vehicleID {
		return
	}
	st := ensure(&a.snap.Status)
	st.Armed = m.Armed()
	st.CustomMode = m.CustomMode
	st.FlightMode = FlightMode(m.CustomMode)
	st.SystemStatus = m.SystemStatus
	st.State = SystemState(m.SystemStatus)
	a.snap.Connected = true
	a.snap.LastHeartbeat = a.now()
	eff.Heartbeat = true
}

func applySysStatus(a *Aggregator, _ mavlink.Header, m message.SysStatus, _ *Effect) {
	st := ensure(&a.snap.Status)
	st.Load = float64(m.Load) / 10
	st.SensorsPresent = m.SensorsPresent
	st.SensorsEnabled = m.SensorsEnabled
	st.SensorsHealth = m.SensorsHealth
	b := ensure(&a.snap.Battery)
	b.Voltage = float64(m.VoltageBattery) / 1000
	b.Current = float64(m.CurrentBattery) / 100
	b.Remaining = m.BatteryRemaining
}

func applySystemTime(a *Aggregator, _ mavlink.Header, m message.SystemTime, _ *Effect) {
	t := ensure(&a.snap.Time)
	t.UnixUsec = m.TimeUnixUsec
	t.BootMs = m.TimeBootMs
}

func applyGPSRawInt(a *Aggregator, _ mavlink.Header, m message.GPSRawInt, eff *Effect) {
	g := ensure(&a.snap.GPS)
	g.FixType = m.FixType
	g.Fix = FixType(m.FixType)
	g.Satellites = m.SatellitesVisible
	g.HDOP = float64(m.EPH) / 100
	g.VDOP = float64(m.EPV) / 100
	g.Lat = e7(m.Lat)
	g.Lon = e7(m.Lon)
	g.Alt = float64(m.Alt) / 1000
	p := ensure(&a.snap.Position)
	p.Lat = g.Lat
	p.Lon = g.Lon
	eff.PoorGPS = m.EPH > PoorHDOP
}

func applyGPS2Raw(a *Aggregator, _ mavlink.Header, m message.GPS2Raw, _ *Effect) {
	g := ensure(&a.snap.GPS2)
	g.FixType = m.FixType
	g.Fix = FixType(m.FixType)
	g.Satellites = m.SatellitesVisible
	g.HDOP = float64(m.EPH) / 100
	g.VDOP = float64(m.EPV) / 100
	g.Lat = e7(m.Lat)
	g.Lon = e7(m.Lon)
	g.Alt = float64(m.Alt) / 1000
}

func applyScaledIMU(a *Aggregator, _ mavlink.Header, m message.ScaledIMU, _ *Effect) {
	i := ensure(&a.snap.IMU)
	i.Acc = [3]float64{float64(m.XAcc) / 1000, float64(m.YAcc) / 1000, float64(m.ZAcc) / 1000}
	i.Gyro = [3]float64{float64(m.XGyro) / 1000, float64(m.YGyro) / 1000, float64(m.ZGyro) / 1000}
	i.Mag = [3]float64{float64(m.XMag) / 1000, float64(m.YMag) / 1000, float64(m.ZMag) / 1000}
}

func applyScaledPressure(a *Aggregator, _ mavlink.Header, m message.ScaledPressure, _ *Effect) {
	p := ensure(&a.snap.Pressure)
	p.Abs = fin(p.Abs, float64(m.PressAbs))
	p.Diff = fin(p.Diff, float64(m.PressDiff))
	p.Temperature = float64(m.Temperature) / 100
}

func applyAttitude(a *Aggregator, _ mavlink.Header, m message.Attitude, _ *Effect) {
	at := ensure(&a.snap.Attitude)
	at.Roll = fin(at.Roll, deg(m.Roll))
	at.Pitch = fin(at.Pitch, deg(m.Pitch))
	at.Yaw = fin(at.Yaw, deg(m.Yaw))
	at.RollSpeed = fin(at.RollSpeed, float64(m.RollSpeed))
	at.PitchSpeed = fin(at.PitchSpeed, float64(m.PitchSpeed))
	at.YawSpeed = fin(at.YawSpeed, float64(m.YawSpeed))
}

func applyAttitudeQuaternion(a *Aggregator, _ mavlink.Header, m message.AttitudeQuaternion, _ *Effect) {
	at := ensure(&a.snap.Attitude)
	finInto(at.Q[:], float64(m.Q1), float64(m.Q2), float64(m.Q3), float64(m.Q4))
}

func applyLocalPosition(a *Aggregator, _ mavlink.Header, m message.LocalPositionNED, _ *Effect) {
	l := ensure(&a.snap.LocalPosition)
	l.X, l.Y, l.Z = fin(l.X, float64(m.X)), fin(l.Y, float64(m.Y)), fin(l.Z, float64(m.Z))
	l.VX, l.VY, l.VZ = fin(l.VX, float64(m.VX)), fin(l.VY, float64(m.VY)), fin(l.VZ, float64(m.VZ))
}

func applyGlobalPosition(a *Aggregator, _ mavlink.Header, m message.GlobalPositionInt, _ *Effect) {
	p := ensure(&a.snap.Position)
	p.Lat = e7(m.Lat)
	p.Lon = e7(m.Lon)
	p.Alt = float64(m.Alt) / 1000
	p.RelativeAlt = float64(m.RelativeAlt) / 1000
	p.Heading = float64(m.Hdg) / 100
	v := ensure(&a.snap.Velocity)
	v.GroundSpeed = math.Hypot(float64(m.VX), float64(m.VY)) / 100
	// NED: positive vz is descending.
	v.VerticalSpeed = -float64(m.VZ) / 100
}

func applyRCChannelsRaw(a *Aggregator, _ mavlink.Header, m message.RCChannelsRaw, _ *Effect) {
	rc := ensure(&a.snap.RC)
	copy(rc.Channels[:], m.Chan[:])
	if rc.Count < uint8(len(m.Chan)) {
		rc.Count = uint8(len(m.Chan))
	}
	rc.RSSI = m.RSSI
}

func applyRCChannels(a *Aggregator, _ mavlink.Header, m message.RCChannels, _ *Effect) {
	rc := ensure(&a.snap.RC)
	rc.Channels = m.Chan
	rc.Count = m.ChanCount
	rc.RSSI = m.RSSI
}

func applyServoOutput(a *Aggregator, _ mavlink.Header, m message.ServoOutputRaw, _ *Effect) {
	ensure(&a.snap.Servos).Outputs = m.Servo
}

func applyMissionCurrent(a *Aggregator, _ mavlink.Header, m message.MissionSeq, _ *Effect) {
	ensure(&a.snap.Mission).Current = m.Seq
}

func applyMissionReached(a *Aggregator, _ mavlink.Header, m message.MissionSeq, _ *Effect) {
	ensure(&a.snap.Mission).Reached = m.Seq
}

func applyNavController(a *Aggregator, _ mavlink.Header, m message.NavControllerOutput, _ *Effect) {
	n := ensure(&a.snap.Navigation)
	n.NavRoll = fin(n.NavRoll, float64(m.NavRoll))
	n.NavPitch = fin(n.NavPitch, float64(m.NavPitch))
	n.NavBearing = float64(m.NavBearing)
	n.TargetBearing = float64(m.TargetBearing)
	n.WPDistance = float64(m.WPDist)
	n.AltError = fin(n.AltError, float64(m.AltError))
	n.AspdError = fin(n.AspdError, float64(m.AspdError))
	n.XTrackError = fin(n.XTrackError, float64(m.XTrackError))
}

func applyVFRHUD(a *Aggregator, _ mavlink.Header, m message.VFRHUD, _ *Effect) {
	v := ensure(&a.snap.Velocity)
	v.AirSpeed = fin(v.AirSpeed, float64(m.Airspeed))
	v.GroundSpeed = fin(v.GroundSpeed, float64(m.Groundspeed))
	v.VerticalSpeed = fin(v.VerticalSpeed, float64(m.Climb))
	v.Throttle = float64(m.Throttle)
	p := ensure(&a.snap.Position)
	p.Alt = fin(p.Alt, float64(m.Alt))
	p.Heading = float64(m.Heading)
}

func applyPowerStatus(a *Aggregator, _ mavlink.Header, m message.PowerStatus, _ *Effect) {
	hw := ensure(&a.snap.Hardware)
	hw.PowerVcc = m.Vcc
	hw.PowerVservo = m.Vservo
	hw.PowerFlags = m.Flags
}

func applyHWStatus(a *Aggregator, _ mavlink.Header, m message.HWStatus, _ *Effect) {
	hw := ensure(&a.snap.Hardware)
	hw.BoardVcc = m.Vcc
	hw.I2CErrors = m.I2CErr
}

func applyMeminfo(a *Aggregator, _ mavlink.Header, m message.Meminfo, _ *Effect) {
	ensure(&a.snap.Hardware).FreeMemory = m.FreeBytes()
}

func applyTerrain(a *Aggregator, _ mavlink.Header, m message.TerrainReport, _ *Effect) {
	t := ensure(&a.snap.Terrain)
	t.Height = fin(t.Height, float64(m.TerrainHeight))
	t.CurrentHeight = fin(t.CurrentHeight, float64(m.CurrentHeight))
}

func applyAltitude(a *Aggregator, _ mavlink.Header, m message.Altitude, _ *Effect) {
	al := ensure(&a.snap.Altitude)
	al.Monotonic = fin(al.Monotonic, float64(m.AltitudeMonotonic))
	al.AMSL = fin(al.AMSL, float64(m.AltitudeAMSL))
	al.Local = fin(al.Local, float64(m.AltitudeLocal))
	al.Relative = fin(al.Relative, float64(m.AltitudeRelative))
	al.Terrain = fin(al.Terrain, float64(m.AltitudeTerrain))
	al.BottomClearance = fin(al.BottomClearance, float64(m.BottomClearance))
}

func applyBatteryStatus(a *Aggregator, _ mavlink.Header, m message.BatteryStatus, _ *Effect) {
	b := ensure(&a.snap.Battery)
	b.Voltage = float64(m.Voltages[0]) / 1000
	b.Current = float64(m.CurrentBattery) / 100
	b.Remaining = m.BatteryRemaining
	b.Consumed = m.CurrentConsumed
}

func applyAHRS(a *Aggregator, _ mavlink.Header, m message.AHRS, _ *Effect) {
	x := ensure(&a.snap.AHRS)
	finInto(x.OmegaI[:], float64(m.OmegaIx), float64(m.OmegaIy), float64(m.OmegaIz))
	x.AccelWeight = fin(x.AccelWeight, float64(m.AccelWeight))
	x.RenormVal = fin(x.RenormVal, float64(m.RenormVal))
	x.ErrorRP = fin(x.ErrorRP, float64(m.ErrorRP))
	x.ErrorYaw = fin(x.ErrorYaw, float64(m.ErrorYaw))
}

func applyWind(a *Aggregator, _ mavlink.Header, m message.Wind, _ *Effect) {
	w := ensure(&a.snap.Wind)
	w.Direction = fin(w.Direction, float64(m.Direction))
	w.Speed = fin(w.Speed, float64(m.Speed))
	w.SpeedZ = fin(w.SpeedZ, float64(m.SpeedZ))
}

func applyRangefinder(a *Aggregator, _ mavlink.Header, m message.Rangefinder, _ *Effect) {
	r := ensure(&a.snap.Rangefinder)
	r.Distance = fin(r.Distance, float64(m.Distance))
	r.Voltage = fin(r.Voltage, float64(m.Voltage))
}

func applyAirspeedAutocal(a *Aggregator, _ mavlink.Header, m message.AirspeedAutocal, _ *Effect) {
	as := ensure(&a.snap.Airspeed)
	as.DiffPressure = fin(as.DiffPressure, float64(m.DiffPressure))
	as.EAS2TAS = fin(as.EAS2TAS, float64(m.EAS2TAS))
	as.Ratio = fin(as.Ratio, float64(m.Ratio))
}

func applyAOASSA(a *Aggregator, _ mavlink.Header, m message.AOASSA, _ *Effect) {
	as := ensure(&a.snap.Airspeed)
	as.AOA = fin(as.AOA, float64(m.AOA))
	as.SSA = fin(as.SSA, float64(m.SSA))
}

func applyAirspeed(a *Aggregator, _ mavlink.Header, m message.Airspeed, _ *Effect) {
	as := ensure(&a.snap.Airspeed)
	as.Temperature = fin(as.Temperature, float64(m.Temperature))
	as.RawPress = fin(as.RawPress, float64(m.RawPress))
	as.Flags = m.Flags
	v := ensure(&a.snap.Velocity)
	v.AirSpeed = fin(v.AirSpeed, float64(m.Airspeed))
}

func applyEKF(a *Aggregator, _ mavlink.Header, m message.EKFStatusReport, _ *Effect) {
	e := ensure(&a.snap.EKF)
	e.Flags = m.Flags
	e.VelocityVariance = fin(e.VelocityVariance, float64(m.VelocityVariance))
	e.PosHorizVariance = fin(e.PosHorizVariance, float64(m.PosHorizVariance))
	e.PosVertVariance = fin(e.PosVertVariance, float64(m.PosVertVariance))
	e.CompassVariance = fin(e.CompassVariance, float64(m.CompassVariance))
	e.TerrainAltVariance = fin(e.TerrainAltVariance, float64(m.TerrainAltVariance))
}

func applyVibration(a *Aggregator, _ mavlink.Header, m message.Vibration, _ *Effect) {
	v := ensure(&a.snap.Vibration)
	v.X, v.Y, v.Z = fin(v.X, float64(m.X)), fin(v.Y, float64(m.Y)), fin(v.Z, float64(m.Z))
	v.Clipping = m.Clipping
}

func applyHome(a *Aggregator, _ mavlink.Header, m message.HomePosition, _ *Effect) {
	h := ensure(&a.snap.Home)
	h.Lat = e7(m.Latitude)
	h.Lon = e7(m.Longitude)
	h.Alt = float64(m.Altitude) / 1000
}

func applyStatusText(a *Aggregator, h mavlink.Header, m message.StatusText, _ *Effect) {
	a.diag.StatusText(h, m.Severity, m.Text)
}
