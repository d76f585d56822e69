package telemetry

import "time"

// Snapshot is the merged view of everything received from the vehicle.
// Each group stays nil until the first message that owns it arrives.
// Values are in display units: degrees, metres, m/s, volts, amperes.
type Snapshot struct {
	Connected     bool      `json:"connected"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitzero"`

	Status        *Status        `json:"status,omitempty"`
	Time          *SystemTime    `json:"time,omitempty"`
	Position      *Position      `json:"position,omitempty"`
	Attitude      *Attitude      `json:"attitude,omitempty"`
	Velocity      *Velocity      `json:"velocity,omitempty"`
	Battery       *Battery       `json:"battery,omitempty"`
	GPS           *GPS           `json:"gps,omitempty"`
	GPS2          *GPS           `json:"gps2,omitempty"`
	Navigation    *Navigation    `json:"navigation,omitempty"`
	Mission       *Mission       `json:"mission,omitempty"`
	Servos        *Servos        `json:"servos,omitempty"`
	RC            *RC            `json:"rc,omitempty"`
	IMU           *IMU           `json:"imu,omitempty"`
	Pressure      *Pressure      `json:"pressure,omitempty"`
	Wind          *Wind          `json:"wind,omitempty"`
	Rangefinder   *Rangefinder   `json:"rangefinder,omitempty"`
	AHRS          *AHRS          `json:"ahrs,omitempty"`
	Vibration     *Vibration     `json:"vibration,omitempty"`
	EKF           *EKF           `json:"ekf,omitempty"`
	Home          *Home          `json:"home,omitempty"`
	Hardware      *Hardware      `json:"hardware,omitempty"`
	Terrain       *Terrain       `json:"terrain,omitempty"`
	Airspeed      *Airspeed      `json:"airspeed,omitempty"`
	LocalPosition *LocalPosition `json:"localPosition,omitempty"`
	Altitude      *Altitude      `json:"altitude,omitempty"`
}

type Status struct {
	Armed          bool    `json:"armed"`
	FlightMode     string  `json:"flightMode"`
	CustomMode     uint32  `json:"customMode"`
	SystemStatus   uint8   `json:"systemStatus"`
	State          string  `json:"state"`
	Load           float64 `json:"load"` // %
	SensorsPresent uint32  `json:"sensorsPresent"`
	SensorsEnabled uint32  `json:"sensorsEnabled"`
	SensorsHealth  uint32  `json:"sensorsHealth"`
}

type SystemTime struct {
	UnixUsec uint64 `json:"unixUsec"`
	BootMs   uint32 `json:"bootMs"`
}

type Position struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Alt         float64 `json:"alt"`         // m MSL
	RelativeAlt float64 `json:"relativeAlt"` // m above home
	Heading     float64 `json:"heading"`     // deg
}

type Attitude struct {
	Roll       float64    `json:"roll"` // deg
	Pitch      float64    `json:"pitch"`
	Yaw        float64    `json:"yaw"`
	RollSpeed  float64    `json:"rollSpeed"` // rad/s
	PitchSpeed float64    `json:"pitchSpeed"`
	YawSpeed   float64    `json:"yawSpeed"`
	Q          [4]float64 `json:"q"`
}

type Velocity struct {
	GroundSpeed   float64 `json:"groundSpeed"`
	AirSpeed      float64 `json:"airSpeed"`
	VerticalSpeed float64 `json:"verticalSpeed"` // positive up
	Throttle      float64 `json:"throttle"`      // %
}

type Battery struct {
	Voltage   float64 `json:"voltage"`
	Current   float64 `json:"current"`
	Remaining int8    `json:"remaining"` // %, -1 unknown
	Consumed  int32   `json:"consumed"`  // mAh
}

type GPS struct {
	FixType    uint8   `json:"fixType"`
	Fix        string  `json:"fix"`
	Satellites uint8   `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	VDOP       float64 `json:"vdop"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Alt        float64 `json:"alt"`
}

type Navigation struct {
	NavRoll       float64 `json:"navRoll"`
	NavPitch      float64 `json:"navPitch"`
	NavBearing    float64 `json:"navBearing"`
	TargetBearing float64 `json:"targetBearing"`
	WPDistance    float64 `json:"wpDistance"`
	AltError      float64 `json:"altError"`
	AspdError     float64 `json:"aspdError"`
	XTrackError   float64 `json:"xtrackError"`
}

type Mission struct {
	Current uint16 `json:"current"`
	Reached uint16 `json:"reached"`
}

type Servos struct {
	Outputs [16]uint16 `json:"outputs"`
}

type RC struct {
	Channels [18]uint16 `json:"channels"`
	Count    uint8      `json:"count"`
	RSSI     uint8      `json:"rssi"`
}

type IMU struct {
	Acc  [3]float64 `json:"acc"`  // g
	Gyro [3]float64 `json:"gyro"` // rad/s
	Mag  [3]float64 `json:"mag"`  // gauss
}

type Pressure struct {
	Abs         float64 `json:"abs"`  // hPa
	Diff        float64 `json:"diff"` // hPa
	Temperature float64 `json:"temperature"`
}

type Wind struct {
	Direction float64 `json:"direction"`
	Speed     float64 `json:"speed"`
	SpeedZ    float64 `json:"speedZ"`
}

type Rangefinder struct {
	Distance float64 `json:"distance"`
	Voltage  float64 `json:"voltage"`
}

type AHRS struct {
	OmegaI      [3]float64 `json:"omegaI"`
	AccelWeight float64    `json:"accelWeight"`
	RenormVal   float64    `json:"renormVal"`
	ErrorRP     float64    `json:"errorRP"`
	ErrorYaw    float64    `json:"errorYaw"`
}

type Vibration struct {
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Z        float64   `json:"z"`
	Clipping [3]uint32 `json:"clipping"`
}

type EKF struct {
	Flags              uint16  `json:"flags"`
	VelocityVariance   float64 `json:"velocityVariance"`
	PosHorizVariance   float64 `json:"posHorizVariance"`
	PosVertVariance    float64 `json:"posVertVariance"`
	CompassVariance    float64 `json:"compassVariance"`
	TerrainAltVariance float64 `json:"terrainAltVariance"`
}

type Home struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Hardware groups POWER_STATUS, HWSTATUS and MEMINFO.
type Hardware struct {
	PowerVcc    uint16 `json:"powerVcc"`    // mV
	PowerVservo uint16 `json:"powerVservo"` // mV
	PowerFlags  uint16 `json:"powerFlags"`
	BoardVcc    uint16 `json:"boardVcc"` // mV
	I2CErrors   uint8  `json:"i2cErrors"`
	FreeMemory  uint32 `json:"freeMemory"`
}

type Terrain struct {
	Height        float64 `json:"height"`
	CurrentHeight float64 `json:"currentHeight"`
}

// Airspeed collects sensor detail from AIRSPEED, AIRSPEED_AUTOCAL and
// AOA_SSA. The headline airspeed lives in Velocity.
type Airspeed struct {
	DiffPressure float64 `json:"diffPressure"`
	EAS2TAS      float64 `json:"eas2tas"`
	Ratio        float64 `json:"ratio"`
	AOA          float64 `json:"aoa"`
	SSA          float64 `json:"ssa"`
	Temperature  float64 `json:"temperature"`
	RawPress     float64 `json:"rawPress"`
	Flags        uint8   `json:"flags"`
}

type LocalPosition struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
}

type Altitude struct {
	Monotonic       float64 `json:"monotonic"`
	AMSL            float64 `json:"amsl"`
	Local           float64 `json:"local"`
	Relative        float64 `json:"relative"`
	Terrain         float64 `json:"terrain"`
	BottomClearance float64 `json:"bottomClearance"`
}

// Clone returns a deep copy that shares nothing with s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Status = clonePtr(s.Status)
	c.Time = clonePtr(s.Time)
	c.Position = clonePtr(s.Position)
	c.Attitude = clonePtr(s.Attitude)
	c.Velocity = clonePtr(s.Velocity)
	c.Battery = clonePtr(s.Battery)
	c.GPS = clonePtr(s.GPS)
	c.GPS2 = clonePtr(s.GPS2)
	c.Navigation = clonePtr(s.Navigation)
	c.Mission = clonePtr(s.Mission)
	c.Servos = clonePtr(s.Servos)
	c.RC = clonePtr(s.RC)
	c.IMU = clonePtr(s.IMU)
	c.Pressure = clonePtr(s.Pressure)
	c.Wind = clonePtr(s.Wind)
	c.Rangefinder = clonePtr(s.Rangefinder)
	c.AHRS = clonePtr(s.AHRS)
	c.Vibration = clonePtr(s.Vibration)
	c.EKF = clonePtr(s.EKF)
	c.Home = clonePtr(s.Home)
	c.Hardware = clonePtr(s.Hardware)
	c.Terrain = clonePtr(s.Terrain)
	c.Airspeed = clonePtr(s.Airspeed)
	c.LocalPosition = clonePtr(s.LocalPosition)
	c.Altitude = clonePtr(s.Altitude)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ensure returns *p, allocating the group on first use.
func ensure[T any](p **T) *T {
	if *p == nil {
		*p = new(T)
	}
	return *p
}
