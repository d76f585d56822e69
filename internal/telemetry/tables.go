package telemetry

import "fmt"

// ArduPlane custom_mode values. 9, 13 and 14 are unassigned.
var flightModes = map[uint32]string{
	0:  "MANUAL",
	1:  "CIRCLE",
	2:  "STABILIZE",
	3:  "TRAINING",
	4:  "ACRO",
	5:  "FBWA",
	6:  "FBWB",
	7:  "CRUISE",
	8:  "AUTOTUNE",
	10: "AUTO",
	11: "RTL",
	12: "LOITER",
	15: "GUIDED",
	16: "INITIALISING",
	17: "QSTABILIZE",
	18: "QHOVER",
	19: "QLOITER",
	20: "QLAND",
	21: "QRTL",
	22: "QAUTOTUNE",
	23: "QACRO",
	24: "THERMAL",
	25: "LOITER_ALT_QLAND",
}

var fixTypes = []string{
	"No GPS", "No Fix", "2D Fix", "3D Fix", "DGPS", "RTK Float", "RTK Fixed", "Static", "PPP",
}

var systemStates = []string{
	"UNINIT", "BOOT", "CALIBRATING", "STANDBY", "ACTIVE", "CRITICAL", "EMERGENCY", "POWEROFF", "FLIGHT_TERMINATION",
}

// FlightMode maps an ArduPlane custom mode to its label, or MODE_<n>.
func FlightMode(code uint32) string {
	if s, ok := flightModes[code]; ok {
		return s
	}
	return fmt.Sprintf("MODE_%d", code)
}

// FixType maps GPS_FIX_TYPE to a label, or UNKNOWN(<n>).
func FixType(code uint8) string { return lookup(fixTypes, code) }

// SystemState maps MAV_STATE to a label, or UNKNOWN(<n>).
func SystemState(code uint8) string { return lookup(systemStates, code) }

func lookup(table []string, code uint8) string {
	if int(code) < len(table) {
		return table[code]
	}
	return fmt.Sprintf("UNKNOWN(%d)", code)
}
