package message

import (
	"bytes"
	"encoding/binary"
	"math"
)

// le reads little-endian fields at fixed offsets. Callers check the base
// width up front; extension reads go through has().
type le []byte

func (p le) has(off, n int) bool { return len(p) >= off+n }
func (p le) u8(off int) uint8    { return p[off] }
func (p le) i8(off int) int8     { return int8(p[off]) }
func (p le) u16(off int) uint16  { return binary.LittleEndian.Uint16(p[off:]) }
func (p le) i16(off int) int16   { return int16(p.u16(off)) }
func (p le) u32(off int) uint32  { return binary.LittleEndian.Uint32(p[off:]) }
func (p le) i32(off int) int32   { return int32(p.u32(off)) }
func (p le) u64(off int) uint64  { return binary.LittleEndian.Uint64(p[off:]) }
func (p le) i64(off int) int64   { return int64(p.u64(off)) }
func (p le) f32(off int) float32 { return math.Float32frombits(p.u32(off)) }

// str returns the NUL-terminated string in p[off:off+n].
func (p le) str(off, n int) string {
	b := p[off : off+n]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func DecodeHeartbeat(payload []byte) (Heartbeat, bool) {
	if len(payload) < LenHeartbeat {
		return Heartbeat{}, false
	}
	p := le(payload)
	return Heartbeat{
		CustomMode:     p.u32(0),
		Type:           p.u8(4),
		Autopilot:      p.u8(5),
		BaseMode:       p.u8(6),
		SystemStatus:   p.u8(7),
		MAVLinkVersion: p.u8(8),
	}, true
}

func DecodeSysStatus(payload []byte) (SysStatus, bool) {
	if len(payload) < LenSysStatus {
		return SysStatus{}, false
	}
	p := le(payload)
	return SysStatus{
		SensorsPresent:   p.u32(0),
		SensorsEnabled:   p.u32(4),
		SensorsHealth:    p.u32(8),
		Load:             p.u16(12),
		VoltageBattery:   p.u16(14),
		CurrentBattery:   p.i16(16),
		DropRateComm:     p.u16(18),
		ErrorsComm:       p.u16(20),
		ErrorsCount:      [4]uint16{p.u16(22), p.u16(24), p.u16(26), p.u16(28)},
		BatteryRemaining: p.i8(30),
	}, true
}

func DecodeSystemTime(payload []byte) (SystemTime, bool) {
	if len(payload) < LenSystemTime {
		return SystemTime{}, false
	}
	p := le(payload)
	return SystemTime{TimeUnixUsec: p.u64(0), TimeBootMs: p.u32(8)}, true
}

func DecodeParamValue(payload []byte) (ParamValue, bool) {
	if len(payload) < LenParamValue {
		return ParamValue{}, false
	}
	p := le(payload)
	return ParamValue{
		Value: p.f32(0),
		Count: p.u16(4),
		Index: p.u16(6),
		ID:    p.str(8, 16),
		Type:  p.u8(24),
	}, true
}

func DecodeGPSRawInt(payload []byte) (GPSRawInt, bool) {
	if len(payload) < LenGPSRawInt {
		return GPSRawInt{}, false
	}
	p := le(payload)
	m := GPSRawInt{
		TimeUsec:          p.u64(0),
		Lat:               p.i32(8),
		Lon:               p.i32(12),
		Alt:               p.i32(16),
		EPH:               p.u16(20),
		EPV:               p.u16(22),
		Vel:               p.u16(24),
		COG:               p.u16(26),
		FixType:           p.u8(28),
		SatellitesVisible: p.u8(29),
	}
	if p.has(30, 22) {
		m.AltEllipsoid = p.i32(30)
		m.HAcc = p.u32(34)
		m.VAcc = p.u32(38)
		m.VelAcc = p.u32(42)
		m.HdgAcc = p.u32(46)
		m.Yaw = p.u16(50)
	}
	return m, true
}

func DecodeGPSStatus(payload []byte) (GPSStatus, bool) {
	if len(payload) < LenGPSStatus {
		return GPSStatus{}, false
	}
	m := GPSStatus{SatellitesVisible: payload[0]}
	copy(m.PRN[:], payload[1:21])
	copy(m.Used[:], payload[21:41])
	copy(m.Elevation[:], payload[41:61])
	copy(m.Azimuth[:], payload[61:81])
	copy(m.SNR[:], payload[81:101])
	return m, true
}

// DecodeScaledIMU decodes SCALED_IMU, SCALED_IMU2 and SCALED_IMU3, which
// share one layout.
func DecodeScaledIMU(payload []byte) (ScaledIMU, bool) {
	if len(payload) < LenScaledIMU {
		return ScaledIMU{}, false
	}
	p := le(payload)
	m := ScaledIMU{
		TimeBootMs: p.u32(0),
		XAcc:       p.i16(4), YAcc: p.i16(6), ZAcc: p.i16(8),
		XGyro: p.i16(10), YGyro: p.i16(12), ZGyro: p.i16(14),
		XMag: p.i16(16), YMag: p.i16(18), ZMag: p.i16(20),
	}
	if p.has(22, 2) {
		m.Temperature = p.i16(22)
	}
	return m, true
}

func DecodeRawIMU(payload []byte) (RawIMU, bool) {
	if len(payload) < LenRawIMU {
		return RawIMU{}, false
	}
	p := le(payload)
	return RawIMU{
		TimeUsec: p.u64(0),
		XAcc:     p.i16(8), YAcc: p.i16(10), ZAcc: p.i16(12),
		XGyro: p.i16(14), YGyro: p.i16(16), ZGyro: p.i16(18),
		XMag: p.i16(20), YMag: p.i16(22), ZMag: p.i16(24),
	}, true
}

func DecodeRawPressure(payload []byte) (RawPressure, bool) {
	if len(payload) < LenRawPressure {
		return RawPressure{}, false
	}
	p := le(payload)
	return RawPressure{
		TimeUsec:    p.u64(0),
		PressAbs:    p.i16(8),
		PressDiff1:  p.i16(10),
		PressDiff2:  p.i16(12),
		Temperature: p.i16(14),
	}, true
}

func DecodeScaledPressure(payload []byte) (ScaledPressure, bool) {
	if len(payload) < LenScaledPressure {
		return ScaledPressure{}, false
	}
	p := le(payload)
	return ScaledPressure{
		TimeBootMs:  p.u32(0),
		PressAbs:    p.f32(4),
		PressDiff:   p.f32(8),
		Temperature: p.i16(12),
	}, true
}

func DecodeAttitude(payload []byte) (Attitude, bool) {
	if len(payload) < LenAttitude {
		return Attitude{}, false
	}
	p := le(payload)
	return Attitude{
		TimeBootMs: p.u32(0),
		Roll:       p.f32(4),
		Pitch:      p.f32(8),
		Yaw:        p.f32(12),
		RollSpeed:  p.f32(16),
		PitchSpeed: p.f32(20),
		YawSpeed:   p.f32(24),
	}, true
}

func DecodeAttitudeQuaternion(payload []byte) (AttitudeQuaternion, bool) {
	if len(payload) < LenAttitudeQuaternion {
		return AttitudeQuaternion{}, false
	}
	p := le(payload)
	return AttitudeQuaternion{
		TimeBootMs: p.u32(0),
		Q1:         p.f32(4), Q2: p.f32(8), Q3: p.f32(12), Q4: p.f32(16),
		RollSpeed:  p.f32(20),
		PitchSpeed: p.f32(24),
		YawSpeed:   p.f32(28),
	}, true
}

func DecodeLocalPositionNED(payload []byte) (LocalPositionNED, bool) {
	if len(payload) < LenLocalPositionNED {
		return LocalPositionNED{}, false
	}
	p := le(payload)
	return LocalPositionNED{
		TimeBootMs: p.u32(0),
		X:          p.f32(4), Y: p.f32(8), Z: p.f32(12),
		VX: p.f32(16), VY: p.f32(20), VZ: p.f32(24),
	}, true
}

func DecodeGlobalPositionInt(payload []byte) (GlobalPositionInt, bool) {
	if len(payload) < LenGlobalPositionInt {
		return GlobalPositionInt{}, false
	}
	p := le(payload)
	return GlobalPositionInt{
		TimeBootMs:  p.u32(0),
		Lat:         p.i32(4),
		Lon:         p.i32(8),
		Alt:         p.i32(12),
		RelativeAlt: p.i32(16),
		VX:          p.i16(20),
		VY:          p.i16(22),
		VZ:          p.i16(24),
		Hdg:         p.u16(26),
	}, true
}

func DecodeRCChannelsRaw(payload []byte) (RCChannelsRaw, bool) {
	if len(payload) < LenRCChannelsRaw {
		return RCChannelsRaw{}, false
	}
	p := le(payload)
	m := RCChannelsRaw{TimeBootMs: p.u32(0), Port: p.u8(20), RSSI: p.u8(21)}
	for i := range m.Chan {
		m.Chan[i] = p.u16(4 + 2*i)
	}
	return m, true
}

func DecodeServoOutputRaw(payload []byte) (ServoOutputRaw, bool) {
	if len(payload) < LenServoOutputRaw {
		return ServoOutputRaw{}, false
	}
	p := le(payload)
	m := ServoOutputRaw{TimeUsec: p.u32(0), Port: p.u8(20)}
	for i := 0; i < 8; i++ {
		m.Servo[i] = p.u16(4 + 2*i)
	}
	for i := 0; i < 8 && p.has(21+2*i, 2); i++ {
		m.Servo[8+i] = p.u16(21 + 2*i)
	}
	return m, true
}

func decodeMissionSeq(payload []byte) (MissionSeq, bool) {
	if len(payload) < LenMissionSeq {
		return MissionSeq{}, false
	}
	return MissionSeq{Seq: le(payload).u16(0)}, true
}

func DecodeMissionCurrent(payload []byte) (MissionSeq, bool) { return decodeMissionSeq(payload) }

func DecodeMissionItemReached(payload []byte) (MissionSeq, bool) { return decodeMissionSeq(payload) }

func DecodeNavControllerOutput(payload []byte) (NavControllerOutput, bool) {
	if len(payload) < LenNavControllerOutput {
		return NavControllerOutput{}, false
	}
	p := le(payload)
	return NavControllerOutput{
		NavRoll:       p.f32(0),
		NavPitch:      p.f32(4),
		AltError:      p.f32(8),
		AspdError:     p.f32(12),
		XTrackError:   p.f32(16),
		NavBearing:    p.i16(20),
		TargetBearing: p.i16(22),
		WPDist:        p.u16(24),
	}, true
}

func DecodeRCChannels(payload []byte) (RCChannels, bool) {
	if len(payload) < LenRCChannels {
		return RCChannels{}, false
	}
	p := le(payload)
	m := RCChannels{TimeBootMs: p.u32(0), ChanCount: p.u8(40), RSSI: p.u8(41)}
	for i := range m.Chan {
		m.Chan[i] = p.u16(4 + 2*i)
	}
	return m, true
}

func DecodeVFRHUD(payload []byte) (VFRHUD, bool) {
	if len(payload) < LenVFRHUD {
		return VFRHUD{}, false
	}
	p := le(payload)
	return VFRHUD{
		Airspeed:    p.f32(0),
		Groundspeed: p.f32(4),
		Alt:         p.f32(8),
		Climb:       p.f32(12),
		Heading:     p.i16(16),
		Throttle:    p.u16(18),
	}, true
}

func DecodeCommandAck(payload []byte) (CommandAck, bool) {
	if len(payload) < LenCommandAck {
		return CommandAck{}, false
	}
	p := le(payload)
	m := CommandAck{Command: p.u16(0), Result: p.u8(2)}
	if p.has(3, 1) {
		m.Progress = p.u8(3)
	}
	if p.has(4, 4) {
		m.ResultParam2 = p.i32(4)
	}
	if p.has(8, 2) {
		m.TargetSystem = p.u8(8)
		m.TargetComponent = p.u8(9)
	}
	return m, true
}

func DecodeTimesync(payload []byte) (Timesync, bool) {
	if len(payload) < LenTimesync {
		return Timesync{}, false
	}
	p := le(payload)
	return Timesync{TC1: p.i64(0), TS1: p.i64(8)}, true
}

func DecodeGPS2Raw(payload []byte) (GPS2Raw, bool) {
	if len(payload) < LenGPS2Raw {
		return GPS2Raw{}, false
	}
	p := le(payload)
	return GPS2Raw{
		TimeUsec:          p.u64(0),
		Lat:               p.i32(8),
		Lon:               p.i32(12),
		Alt:               p.i32(16),
		DGPSAge:           p.u32(20),
		EPH:               p.u16(24),
		EPV:               p.u16(26),
		Vel:               p.u16(28),
		COG:               p.u16(30),
		FixType:           p.u8(32),
		SatellitesVisible: p.u8(33),
		DGPSNumCh:         p.u8(34),
	}, true
}

func DecodePowerStatus(payload []byte) (PowerStatus, bool) {
	if len(payload) < LenPowerStatus {
		return PowerStatus{}, false
	}
	p := le(payload)
	return PowerStatus{Vcc: p.u16(0), Vservo: p.u16(2), Flags: p.u16(4)}, true
}

func DecodeTerrainReport(payload []byte) (TerrainReport, bool) {
	if len(payload) < LenTerrainReport {
		return TerrainReport{}, false
	}
	p := le(payload)
	return TerrainReport{
		Lat:           p.i32(0),
		Lon:           p.i32(4),
		TerrainHeight: p.f32(8),
		CurrentHeight: p.f32(12),
		Spacing:       p.u16(16),
		Pending:       p.u16(18),
		Loaded:        p.u16(20),
	}, true
}

func DecodeAltitude(payload []byte) (Altitude, bool) {
	if len(payload) < LenAltitude {
		return Altitude{}, false
	}
	p := le(payload)
	return Altitude{
		TimeUsec:          p.u64(0),
		AltitudeMonotonic: p.f32(8),
		AltitudeAMSL:      p.f32(12),
		AltitudeLocal:     p.f32(16),
		AltitudeRelative:  p.f32(20),
		AltitudeTerrain:   p.f32(24),
		BottomClearance:   p.f32(28),
	}, true
}

func DecodeBatteryStatus(payload []byte) (BatteryStatus, bool) {
	if len(payload) < LenBatteryStatus {
		return BatteryStatus{}, false
	}
	p := le(payload)
	m := BatteryStatus{
		CurrentConsumed:  p.i32(0),
		EnergyConsumed:   p.i32(4),
		Temperature:      p.i16(8),
		CurrentBattery:   p.i16(30),
		ID:               p.u8(32),
		Function:         p.u8(33),
		Type:             p.u8(34),
		BatteryRemaining: p.i8(35),
	}
	for i := range m.Voltages {
		m.Voltages[i] = p.u16(10 + 2*i)
	}
	if p.has(36, 4) {
		m.TimeRemaining = p.i32(36)
	}
	if p.has(40, 1) {
		m.ChargeState = p.u8(40)
	}
	return m, true
}

func DecodeAutopilotVersion(payload []byte) (AutopilotVersion, bool) {
	if len(payload) < LenAutopilotVersion {
		return AutopilotVersion{}, false
	}
	p := le(payload)
	m := AutopilotVersion{
		Capabilities:        p.u64(0),
		UID:                 p.u64(8),
		FlightSWVersion:     p.u32(16),
		MiddlewareSWVersion: p.u32(20),
		OSSWVersion:         p.u32(24),
		BoardVersion:        p.u32(28),
		VendorID:            p.u16(32),
		ProductID:           p.u16(34),
	}
	copy(m.FlightCustomVersion[:], payload[36:44])
	copy(m.MiddlewareCustomVersion[:], payload[44:52])
	copy(m.OSCustomVersion[:], payload[52:60])
	return m, true
}

func DecodeMeminfo(payload []byte) (Meminfo, bool) {
	if len(payload) < LenMeminfo {
		return Meminfo{}, false
	}
	p := le(payload)
	m := Meminfo{Brkval: p.u16(0), Freemem: p.u16(2)}
	if p.has(4, 4) {
		m.Freemem32 = p.u32(4)
	}
	return m, true
}

func DecodeAHRS(payload []byte) (AHRS, bool) {
	if len(payload) < LenAHRS {
		return AHRS{}, false
	}
	p := le(payload)
	return AHRS{
		OmegaIx:     p.f32(0),
		OmegaIy:     p.f32(4),
		OmegaIz:     p.f32(8),
		AccelWeight: p.f32(12),
		RenormVal:   p.f32(16),
		ErrorRP:     p.f32(20),
		ErrorYaw:    p.f32(24),
	}, true
}

func DecodeHWStatus(payload []byte) (HWStatus, bool) {
	if len(payload) < LenHWStatus {
		return HWStatus{}, false
	}
	p := le(payload)
	return HWStatus{Vcc: p.u16(0), I2CErr: p.u8(2)}, true
}

func DecodeWind(payload []byte) (Wind, bool) {
	if len(payload) < LenWind {
		return Wind{}, false
	}
	p := le(payload)
	return Wind{Direction: p.f32(0), Speed: p.f32(4), SpeedZ: p.f32(8)}, true
}

func DecodeRangefinder(payload []byte) (Rangefinder, bool) {
	if len(payload) < LenRangefinder {
		return Rangefinder{}, false
	}
	p := le(payload)
	return Rangefinder{Distance: p.f32(0), Voltage: p.f32(4)}, true
}

func DecodeAirspeedAutocal(payload []byte) (AirspeedAutocal, bool) {
	if len(payload) < LenAirspeedAutocal {
		return AirspeedAutocal{}, false
	}
	p := le(payload)
	return AirspeedAutocal{
		VX:           p.f32(0),
		VY:           p.f32(4),
		VZ:           p.f32(8),
		DiffPressure: p.f32(12),
		EAS2TAS:      p.f32(16),
		Ratio:        p.f32(20),
		StateX:       p.f32(24),
		StateY:       p.f32(28),
		StateZ:       p.f32(32),
		Pax:          p.f32(36),
		Pby:          p.f32(40),
		Pcz:          p.f32(44),
	}, true
}

func DecodeAHRS2(payload []byte) (AHRS2, bool) {
	if len(payload) < LenAHRS2 {
		return AHRS2{}, false
	}
	p := le(payload)
	return AHRS2{
		Roll: p.f32(0), Pitch: p.f32(4), Yaw: p.f32(8),
		Altitude: p.f32(12),
		Lat:      p.i32(16),
		Lng:      p.i32(20),
	}, true
}

func DecodeAHRS3(payload []byte) (AHRS3, bool) {
	if len(payload) < LenAHRS3 {
		return AHRS3{}, false
	}
	p := le(payload)
	return AHRS3{
		Roll: p.f32(0), Pitch: p.f32(4), Yaw: p.f32(8),
		Altitude: p.f32(12),
		Lat:      p.i32(16),
		Lng:      p.i32(20),
		V1:       p.f32(24), V2: p.f32(28), V3: p.f32(32), V4: p.f32(36),
	}, true
}

func DecodeEKFStatusReport(payload []byte) (EKFStatusReport, bool) {
	if len(payload) < LenEKFStatusReport {
		return EKFStatusReport{}, false
	}
	p := le(payload)
	m := EKFStatusReport{
		VelocityVariance:   p.f32(0),
		PosHorizVariance:   p.f32(4),
		PosVertVariance:    p.f32(8),
		CompassVariance:    p.f32(12),
		TerrainAltVariance: p.f32(16),
		Flags:              p.u16(20),
	}
	if p.has(22, 4) {
		m.AirspeedVariance = p.f32(22)
	}
	return m, true
}

func DecodeVibration(payload []byte) (Vibration, bool) {
	if len(payload) < LenVibration {
		return Vibration{}, false
	}
	p := le(payload)
	return Vibration{
		TimeUsec: p.u64(0),
		X:        p.f32(8), Y: p.f32(12), Z: p.f32(16),
		Clipping: [3]uint32{p.u32(20), p.u32(24), p.u32(28)},
	}, true
}

func DecodeHomePosition(payload []byte) (HomePosition, bool) {
	if len(payload) < LenHomePosition {
		return HomePosition{}, false
	}
	p := le(payload)
	m := HomePosition{
		Latitude:  p.i32(0),
		Longitude: p.i32(4),
		Altitude:  p.i32(8),
		X:         p.f32(12), Y: p.f32(16), Z: p.f32(20),
		Q:         [4]float32{p.f32(24), p.f32(28), p.f32(32), p.f32(36)},
		ApproachX: p.f32(40),
		ApproachY: p.f32(44),
		ApproachZ: p.f32(48),
	}
	if p.has(52, 8) {
		m.TimeUsec = p.u64(52)
	}
	return m, true
}

func DecodeStatusText(payload []byte) (StatusText, bool) {
	if len(payload) < LenStatusText {
		return StatusText{}, false
	}
	p := le(payload)
	m := StatusText{Severity: p.u8(0), Text: p.str(1, 50)}
	if p.has(51, 2) {
		m.ID = p.u16(51)
	}
	if p.has(53, 1) {
		m.ChunkSeq = p.u8(53)
	}
	return m, true
}

func DecodeAirspeed(payload []byte) (Airspeed, bool) {
	if len(payload) < LenAirspeed {
		return Airspeed{}, false
	}
	p := le(payload)
	return Airspeed{
		Airspeed:    p.f32(0),
		RawPress:    p.f32(4),
		Temperature: float32(p.i16(8)) / 100,
		ID:          p.u8(10),
		Flags:       p.u8(11),
	}, true
}

func DecodeAOASSA(payload []byte) (AOASSA, bool) {
	if len(payload) < LenAOASSA {
		return AOASSA{}, false
	}
	p := le(payload)
	return AOASSA{TimeUsec: p.u64(0), AOA: p.f32(8), SSA: p.f32(12)}, true
}
