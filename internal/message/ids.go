// Package message holds the MAVLink message catalog: ids, wire layouts and
// one pure decoder per supported message.
package message

import "fmt"

// Message ids of the supported catalog (common and ardupilotmega dialects).
const (
	IDHeartbeat           uint32 = 0
	IDSysStatus           uint32 = 1
	IDSystemTime          uint32 = 2
	IDParamValue          uint32 = 22
	IDGPSRawInt           uint32 = 24
	IDGPSStatus           uint32 = 25
	IDScaledIMU           uint32 = 26
	IDRawIMU              uint32 = 27
	IDRawPressure         uint32 = 28
	IDScaledPressure      uint32 = 29
	IDAttitude            uint32 = 30
	IDAttitudeQuaternion  uint32 = 31
	IDLocalPositionNED    uint32 = 32
	IDGlobalPositionInt   uint32 = 33
	IDRCChannelsRaw       uint32 = 35
	IDServoOutputRaw      uint32 = 36
	IDMissionCurrent      uint32 = 42
	IDMissionItemReached  uint32 = 46
	IDNavControllerOutput uint32 = 62
	IDRCChannels          uint32 = 65
	IDVFRHUD              uint32 = 74
	IDCommandAck          uint32 = 77
	IDTimesync            uint32 = 111
	IDScaledIMU2          uint32 = 116
	IDGPS2Raw             uint32 = 124
	IDPowerStatus         uint32 = 125
	IDScaledIMU3          uint32 = 129
	IDTerrainReport       uint32 = 136
	IDAltitude            uint32 = 141
	IDBatteryStatus       uint32 = 147
	IDAutopilotVersion    uint32 = 148
	IDMeminfo             uint32 = 152
	IDAHRS                uint32 = 163
	IDHWStatus            uint32 = 165
	IDWind                uint32 = 168
	IDRangefinder         uint32 = 173
	IDAirspeedAutocal     uint32 = 174
	IDAHRS2               uint32 = 178
	IDAHRS3               uint32 = 182
	IDEKFStatusReport     uint32 = 193
	IDVibration           uint32 = 241
	IDHomePosition        uint32 = 242
	IDStatusText          uint32 = 253
	IDAirspeed            uint32 = 295
	IDAOASSA              uint32 = 11020
)

// Info describes one catalog entry.
type Info struct {
	ID       uint32
	Name     string
	MinLen   int  // fixed width of the base (non-extension) fields
	CRCExtra byte // seed for checksum validation
	Decode   func(payload []byte) (any, bool)
}

var catalog = map[uint32]Info{}

func register[T any](id uint32, name string, minLen int, crcExtra byte, decode func([]byte) (T, bool)) {
	catalog[id] = Info{
		ID:       id,
		Name:     name,
		MinLen:   minLen,
		CRCExtra: crcExtra,
		Decode: func(p []byte) (any, bool) {
			v, ok := decode(p)
			if !ok {
				return nil, false
			}
			return v, true
		},
	}
}

func init() {
	register(IDHeartbeat, "HEARTBEAT", LenHeartbeat, 50, DecodeHeartbeat)
	register(IDSysStatus, "SYS_STATUS", LenSysStatus, 124, DecodeSysStatus)
	register(IDSystemTime, "SYSTEM_TIME", LenSystemTime, 137, DecodeSystemTime)
	register(IDParamValue, "PARAM_VALUE", LenParamValue, 220, DecodeParamValue)
	register(IDGPSRawInt, "GPS_RAW_INT", LenGPSRawInt, 24, DecodeGPSRawInt)
	register(IDGPSStatus, "GPS_STATUS", LenGPSStatus, 23, DecodeGPSStatus)
	register(IDScaledIMU, "SCALED_IMU", LenScaledIMU, 170, DecodeScaledIMU)
	register(IDRawIMU, "RAW_IMU", LenRawIMU, 144, DecodeRawIMU)
	register(IDRawPressure, "RAW_PRESSURE", LenRawPressure, 67, DecodeRawPressure)
	register(IDScaledPressure, "SCALED_PRESSURE", LenScaledPressure, 115, DecodeScaledPressure)
	register(IDAttitude, "ATTITUDE", LenAttitude, 39, DecodeAttitude)
	register(IDAttitudeQuaternion, "ATTITUDE_QUATERNION", LenAttitudeQuaternion, 246, DecodeAttitudeQuaternion)
	register(IDLocalPositionNED, "LOCAL_POSITION_NED", LenLocalPositionNED, 185, DecodeLocalPositionNED)
	register(IDGlobalPositionInt, "GLOBAL_POSITION_INT", LenGlobalPositionInt, 104, DecodeGlobalPositionInt)
	register(IDRCChannelsRaw, "RC_CHANNELS_RAW", LenRCChannelsRaw, 244, DecodeRCChannelsRaw)
	register(IDServoOutputRaw, "SERVO_OUTPUT_RAW", LenServoOutputRaw, 222, DecodeServoOutputRaw)
	register(IDMissionCurrent, "MISSION_CURRENT", LenMissionSeq, 28, DecodeMissionCurrent)
	register(IDMissionItemReached, "MISSION_ITEM_REACHED", LenMissionSeq, 11, DecodeMissionItemReached)
	register(IDNavControllerOutput, "NAV_CONTROLLER_OUTPUT", LenNavControllerOutput, 183, DecodeNavControllerOutput)
	register(IDRCChannels, "RC_CHANNELS", LenRCChannels, 118, DecodeRCChannels)
	register(IDVFRHUD, "VFR_HUD", LenVFRHUD, 20, DecodeVFRHUD)
	register(IDCommandAck, "COMMAND_ACK", LenCommandAck, 143, DecodeCommandAck)
	register(IDTimesync, "TIMESYNC", LenTimesync, 34, DecodeTimesync)
	register(IDScaledIMU2, "SCALED_IMU2", LenScaledIMU, 76, DecodeScaledIMU)
	register(IDGPS2Raw, "GPS2_RAW", LenGPS2Raw, 87, DecodeGPS2Raw)
	register(IDPowerStatus, "POWER_STATUS", LenPowerStatus, 203, DecodePowerStatus)
	register(IDScaledIMU3, "SCALED_IMU3", LenScaledIMU, 46, DecodeScaledIMU)
	register(IDTerrainReport, "TERRAIN_REPORT", LenTerrainReport, 1, DecodeTerrainReport)
	register(IDAltitude, "ALTITUDE", LenAltitude, 47, DecodeAltitude)
	register(IDBatteryStatus, "BATTERY_STATUS", LenBatteryStatus, 154, DecodeBatteryStatus)
	register(IDAutopilotVersion, "AUTOPILOT_VERSION", LenAutopilotVersion, 178, DecodeAutopilotVersion)
	register(IDMeminfo, "MEMINFO", LenMeminfo, 208, DecodeMeminfo)
	register(IDAHRS, "AHRS", LenAHRS, 127, DecodeAHRS)
	register(IDHWStatus, "HWSTATUS", LenHWStatus, 21, DecodeHWStatus)
	register(IDWind, "WIND", LenWind, 1, DecodeWind)
	register(IDRangefinder, "RANGEFINDER", LenRangefinder, 83, DecodeRangefinder)
	register(IDAirspeedAutocal, "AIRSPEED_AUTOCAL", LenAirspeedAutocal, 167, DecodeAirspeedAutocal)
	register(IDAHRS2, "AHRS2", LenAHRS2, 47, DecodeAHRS2)
	register(IDAHRS3, "AHRS3", LenAHRS3, 229, DecodeAHRS3)
	register(IDEKFStatusReport, "EKF_STATUS_REPORT", LenEKFStatusReport, 71, DecodeEKFStatusReport)
	register(IDVibration, "VIBRATION", LenVibration, 90, DecodeVibration)
	register(IDHomePosition, "HOME_POSITION", LenHomePosition, 104, DecodeHomePosition)
	register(IDStatusText, "STATUSTEXT", LenStatusText, 83, DecodeStatusText)
	register(IDAirspeed, "AIRSPEED", LenAirspeed, 234, DecodeAirspeed)
	register(IDAOASSA, "AOA_SSA", LenAOASSA, 205, DecodeAOASSA)
}

// Lookup returns the catalog entry for id.
func Lookup(id uint32) (Info, bool) {
	info, ok := catalog[id]
	return info, ok
}

// Name returns the message name for id, or "MSG_<id>" when it is not in
// the catalog.
func Name(id uint32) string {
	if info, ok := catalog[id]; ok {
		return info.Name
	}
	return fmt.Sprintf("MSG_%d", id)
}

// IDs returns every catalog id in no particular order.
func IDs() []uint32 {
	out := make([]uint32, 0, len(catalog))
	for id := range catalog {
		out = append(out, id)
	}
	return out
}
