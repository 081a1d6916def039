package model

type RainState string

func (rs RainState) String() string {
	return string(rs)
}

const (
	RainDry     RainState = "DRY"
	RainRain    RainState = "RAIN"
	RainUnknown RainState = "UNKNOWN"
)

type ServoState string

func (ss ServoState) String() string {
	return string(ss)
}

const (
	ServoOpen    ServoState = "OPEN"
	ServoClosed  ServoState = "CLOSED"
	ServoUnknown ServoState = "UNKNOWN"
)

type Mode string

func (m Mode) String() string {
	return string(m)
}

const (
	ModeAuto    Mode = "AUTO"
	ModeManual  Mode = "MANUAL"
	ModeUnknown Mode = "UNKNOWN"
)

// Valid reports whether m can be sent to a device as a mode command.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

// ServoCommand is the actuator command vocabulary. It differs from
// ServoState: devices are told to CLOSE and report CLOSED.
type ServoCommand string

func (sc ServoCommand) String() string {
	return string(sc)
}

const (
	ServoCommandOpen  ServoCommand = "OPEN"
	ServoCommandClose ServoCommand = "CLOSE"
)

func (sc ServoCommand) Valid() bool {
	return sc == ServoCommandOpen || sc == ServoCommandClose
}

// State returns the position the servo is expected to report after the command.
func (sc ServoCommand) State() ServoState {
	switch sc {
	case ServoCommandOpen:
		return ServoOpen
	case ServoCommandClose:
		return ServoClosed
	}
	return ServoUnknown
}

func ParseRainState(v string) RainState {
	switch RainState(v) {
	case RainDry, RainRain:
		return RainState(v)
	}
	return RainUnknown
}

func ParseServoState(v string) ServoState {
	switch ServoState(v) {
	case ServoOpen, ServoClosed:
		return ServoState(v)
	}
	return ServoUnknown
}

func ParseMode(v string) Mode {
	switch Mode(v) {
	case ModeAuto, ModeManual:
		return Mode(v)
	}
	return ModeUnknown
}
