package message

// Fixed payload widths of the base fields, in bytes.
const (
	LenHeartbeat           = 9
	LenSysStatus           = 31
	LenSystemTime          = 12
	LenParamValue          = 25
	LenGPSRawInt           = 30
	LenGPSStatus           = 101
	LenScaledIMU           = 22
	LenRawIMU              = 26
	LenRawPressure         = 16
	LenScaledPressure      = 14
	LenAttitude            = 28
	LenAttitudeQuaternion  = 32
	LenLocalPositionNED    = 28
	LenGlobalPositionInt   = 28
	LenRCChannelsRaw       = 22
	LenServoOutputRaw      = 21
	LenMissionSeq          = 2
	LenNavControllerOutput = 26
	LenRCChannels          = 42
	LenVFRHUD              = 20
	LenCommandAck          = 3
	LenTimesync            = 16
	LenGPS2Raw             = 35
	LenPowerStatus         = 6
	LenTerrainReport       = 22
	LenAltitude            = 32
	LenBatteryStatus       = 36
	LenAutopilotVersion    = 60
	LenMeminfo             = 4
	LenAHRS                = 28
	LenHWStatus            = 3
	LenWind                = 12
	LenRangefinder         = 8
	LenAirspeedAutocal     = 48
	LenAHRS2               = 24
	LenAHRS3               = 40
	LenEKFStatusReport     = 22
	LenVibration           = 32
	LenHomePosition        = 52
	LenStatusText          = 51
	LenAirspeed            = 12
	LenAOASSA              = 16
)

// BaseModeSafetyArmed is the MAV_MODE_FLAG bit set while motors are armed.
const BaseModeSafetyArmed = 128

type Heartbeat struct {
	CustomMode     uint32 // autopilot-specific flight mode
	Type           uint8  // MAV_TYPE
	Autopilot      uint8  // MAV_AUTOPILOT
	BaseMode       uint8  // MAV_MODE_FLAG bitmap
	SystemStatus   uint8  // MAV_STATE
	MAVLinkVersion uint8
}

// Armed reports whether the safety-armed flag is set.
func (h Heartbeat) Armed() bool { return h.BaseMode&BaseModeSafetyArmed != 0 }

type SysStatus struct {
	SensorsPresent   uint32
	SensorsEnabled   uint32
	SensorsHealth    uint32
	Load             uint16 // d%
	VoltageBattery   uint16 // mV
	CurrentBattery   int16  // cA, -1 unknown
	DropRateComm     uint16 // c%
	ErrorsComm       uint16
	ErrorsCount      [4]uint16
	BatteryRemaining int8 // %, -1 unknown
}

type SystemTime struct {
	TimeUnixUsec uint64
	TimeBootMs   uint32
}

type ParamValue struct {
	Value float32
	Count uint16
	Index uint16
	ID    string
	Type  uint8
}

type GPSRawInt struct {
	TimeUsec          uint64
	Lat               int32  // degE7
	Lon               int32  // degE7
	Alt               int32  // mm MSL
	EPH               uint16 // HDOP * 100, UINT16_MAX unknown
	EPV               uint16 // VDOP * 100
	Vel               uint16 // cm/s
	COG               uint16 // cdeg
	FixType           uint8  // GPS_FIX_TYPE
	SatellitesVisible uint8

	// Extension fields, zero when the sender omitted them.
	AltEllipsoid int32 // mm
	HAcc         uint32
	VAcc         uint32
	VelAcc       uint32
	HdgAcc       uint32
	Yaw          uint16 // cdeg
}

type GPSStatus struct {
	SatellitesVisible uint8
	PRN               [20]uint8
	Used              [20]uint8
	Elevation         [20]uint8 // deg
	Azimuth           [20]uint8 // deg * 360/255
	SNR               [20]uint8 // dB
}

// ScaledIMU is shared by SCALED_IMU, SCALED_IMU2 and SCALED_IMU3.
type ScaledIMU struct {
	TimeBootMs          uint32
	XAcc, YAcc, ZAcc    int16 // mG
	XGyro, YGyro, ZGyro int16 // mrad/s
	XMag, YMag, ZMag    int16 // mgauss
	Temperature         int16 // cdegC, extension
}

type RawIMU struct {
	TimeUsec            uint64
	XAcc, YAcc, ZAcc    int16
	XGyro, YGyro, ZGyro int16
	XMag, YMag, ZMag    int16
}

type RawPressure struct {
	TimeUsec    uint64
	PressAbs    int16
	PressDiff1  int16
	PressDiff2  int16
	Temperature int16 // cdegC
}

type ScaledPressure struct {
	TimeBootMs  uint32
	PressAbs    float32 // hPa
	PressDiff   float32 // hPa
	Temperature int16   // cdegC
}

type Attitude struct {
	TimeBootMs       uint32
	Roll, Pitch, Yaw float32 // rad
	RollSpeed        float32 // rad/s
	PitchSpeed       float32
	YawSpeed         float32
}

type AttitudeQuaternion struct {
	TimeBootMs     uint32
	Q1, Q2, Q3, Q4 float32
	RollSpeed      float32
	PitchSpeed     float32
	YawSpeed       float32
}

type LocalPositionNED struct {
	TimeBootMs uint32
	X, Y, Z    float32 // m
	VX, VY, VZ float32 // m/s
}

type GlobalPositionInt struct {
	TimeBootMs  uint32
	Lat         int32  // degE7
	Lon         int32  // degE7
	Alt         int32  // mm MSL
	RelativeAlt int32  // mm above home
	VX, VY, VZ  int16  // cm/s, NED
	Hdg         uint16 // cdeg, UINT16_MAX unknown
}

type RCChannelsRaw struct {
	TimeBootMs uint32
	Chan       [8]uint16 // us
	Port       uint8
	RSSI       uint8
}

type ServoOutputRaw struct {
	TimeUsec uint32
	Servo    [16]uint16 // us; 9..16 only when the extension is present
	Port     uint8
}

type MissionSeq struct {
	Seq uint16
}

type NavControllerOutput struct {
	NavRoll       float32 // deg
	NavPitch      float32 // deg
	AltError      float32 // m
	AspdError     float32 // m/s
	XTrackError   float32 // m
	NavBearing    int16   // deg
	TargetBearing int16   // deg
	WPDist        uint16  // m
}

type RCChannels struct {
	TimeBootMs uint32
	Chan       [18]uint16 // us
	ChanCount  uint8
	RSSI       uint8
}

type VFRHUD struct {
	Airspeed    float32 // m/s
	Groundspeed float32 // m/s
	Alt         float32 // m MSL
	Climb       float32 // m/s
	Heading     int16   // deg
	Throttle    uint16  // %
}

type CommandAck struct {
	Command uint16
	Result  uint8

	// Extension fields.
	Progress        uint8
	ResultParam2    int32
	TargetSystem    uint8
	TargetComponent uint8
}

type Timesync struct {
	TC1 int64
	TS1 int64
}

type GPS2Raw struct {
	TimeUsec          uint64
	Lat, Lon          int32 // degE7
	Alt               int32 // mm
	DGPSAge           uint32
	EPH, EPV          uint16
	Vel, COG          uint16
	FixType           uint8
	SatellitesVisible uint8
	DGPSNumCh         uint8
}

type PowerStatus struct {
	Vcc    uint16 // mV
	Vservo uint16 // mV
	Flags  uint16
}

type TerrainReport struct {
	Lat, Lon      int32   // degE7
	TerrainHeight float32 // m AMSL
	CurrentHeight float32 // m above terrain
	Spacing       uint16
	Pending       uint16
	Loaded        uint16
}

type Altitude struct {
	TimeUsec          uint64
	AltitudeMonotonic float32 // m
	AltitudeAMSL      float32
	AltitudeLocal     float32
	AltitudeRelative  float32
	AltitudeTerrain   float32
	BottomClearance   float32
}

type BatteryStatus struct {
	CurrentConsumed  int32      // mAh
	EnergyConsumed   int32      // hJ
	Temperature      int16      // cdegC
	Voltages         [10]uint16 // mV, UINT16_MAX unused
	CurrentBattery   int16      // cA
	ID               uint8
	Function         uint8
	Type             uint8
	BatteryRemaining int8 // %

	TimeRemaining int32 // s, extension
	ChargeState   uint8 // extension
}

type AutopilotVersion struct {
	Capabilities            uint64
	UID                     uint64
	FlightSWVersion         uint32
	MiddlewareSWVersion     uint32
	OSSWVersion             uint32
	BoardVersion            uint32
	VendorID                uint16
	ProductID               uint16
	FlightCustomVersion     [8]byte
	MiddlewareCustomVersion [8]byte
	OSCustomVersion         [8]byte
}

type Meminfo struct {
	Brkval    uint16
	Freemem   uint16
	Freemem32 uint32 // extension
}

// FreeBytes prefers the 32-bit extension when the sender provided it.
func (m Meminfo) FreeBytes() uint32 {
	if m.Freemem32 != 0 {
		return m.Freemem32
	}
	return uint32(m.Freemem)
}

type AHRS struct {
	OmegaIx, OmegaIy, OmegaIz float32 // rad/s
	AccelWeight               float32
	RenormVal                 float32
	ErrorRP                   float32
	ErrorYaw                  float32
}

type HWStatus struct {
	Vcc    uint16 // mV
	I2CErr uint8
}

type Wind struct {
	Direction float32 // deg
	Speed     float32 // m/s
	SpeedZ    float32 // m/s
}

type Rangefinder struct {
	Distance float32 // m
	Voltage  float32 // V
}

type AirspeedAutocal struct {
	VX, VY, VZ             float32 // m/s
	DiffPressure           float32 // Pa
	EAS2TAS                float32
	Ratio                  float32
	StateX, StateY, StateZ float32
	Pax, Pby, Pcz          float32
}

type AHRS2 struct {
	Roll, Pitch, Yaw float32 // rad
	Altitude         float32 // m
	Lat, Lng         int32   // degE7
}

type AHRS3 struct {
	Roll, Pitch, Yaw float32
	Altitude         float32
	Lat, Lng         int32
	V1, V2, V3, V4   float32
}

type EKFStatusReport struct {
	VelocityVariance   float32
	PosHorizVariance   float32
	PosVertVariance    float32
	CompassVariance    float32
	TerrainAltVariance float32
	Flags              uint16
	AirspeedVariance   float32 // extension
}

type Vibration struct {
	TimeUsec uint64
	X, Y, Z  float32 // m/s/s
	Clipping [3]uint32
}

type HomePosition struct {
	Latitude  int32 // degE7
	Longitude int32 // degE7
	Altitude  int32 // mm
	X, Y, Z   float32
	Q         [4]float32
	ApproachX float32
	ApproachY float32
	ApproachZ float32
	TimeUsec  uint64 // extension
}

type StatusText struct {
	Severity uint8 // MAV_SEVERITY
	Text     string
	ID       uint16 // extension
	ChunkSeq uint8  // extension
}

// Airspeed is the common AIRSPEED message. Temperature is converted to degC.
type Airspeed struct {
	Airspeed    float32 // m/s
	RawPress    float32 // hPa
	Temperature float32 // degC
	ID          uint8
	Flags       uint8
}

type AOASSA struct {
	TimeUsec uint64
	AOA      float32 // deg
	SSA      float32 // deg
}
