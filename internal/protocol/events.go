package protocol

import "fmt"

// Event is one decoded observation from the bus. Concrete event types are
// plain comparable structs so the state layer detects changes with ==.
type Event interface {
	// Key is the stable identity the observation is recorded under. The same
	// physical sub-device always yields the same key.
	Key() string
	// Family reports the device family, FamilyUnknown for unrecognized ids.
	Family() Family
}

// Thermostat operating modes.
const (
	ThermostatOff  = 0
	ThermostatHeat = 1
)

// Fan air-flow presets as reported on the bus.
const (
	FanPresetBypass = "bypass"
	FanPresetHeat   = "heat"
)

// LightState is the on/off state of one switch in a room group.
type LightState struct {
	Room int  `json:"room"`
	Num  int  `json:"num"`
	On   bool `json:"on"`
}

func (e LightState) Key() string    { return fmt.Sprintf("light_%d_%d", e.Room, e.Num) }
func (e LightState) Family() Family { return FamilyLight }

// PlugState is the relay state and live power draw of one switched outlet.
type PlugState struct {
	Room  int     `json:"room"`
	Num   int     `json:"num"`
	On    bool    `json:"on"`
	Power float64 `json:"power"` // watts, one decimal place
}

func (e PlugState) Key() string    { return fmt.Sprintf("plug_%d_%d", e.Room, e.Num) }
func (e PlugState) Family() Family { return FamilyPlug }

// ThermostatState is one room's heating controller.
type ThermostatState struct {
	Room    int  `json:"room"`
	Mode    int  `json:"mode"` // ThermostatOff or ThermostatHeat
	Away    bool `json:"away"`
	Target  int  `json:"target"`  // °C
	Current int  `json:"current"` // °C
}

func (e ThermostatState) Key() string    { return fmt.Sprintf("thermostat_%d", e.Room) }
func (e ThermostatState) Family() Family { return FamilyThermostat }

// FanState is the whole-house ventilation unit.
type FanState struct {
	On     bool   `json:"on"`
	Speed  int    `json:"speed"`  // 1..3, 0 when unreported
	Preset string `json:"preset"` // FanPresetBypass, FanPresetHeat or "" when unrecognized
}

func (e FanState) Key() string    { return string(FamilyFan) }
func (e FanState) Family() Family { return FamilyFan }

// GasState is the kitchen gas valve. The wallpad only ever commands
// closing; opening needs the physical lever on the valve itself.
type GasState struct {
	Closed bool `json:"closed"`
}

func (e GasState) Key() string    { return string(FamilyGas) }
func (e GasState) Family() Family { return FamilyGas }

// EnergyState is the apartment energy meter. Power and Usage come from
// digit-coded bytes, CurrentPower from the same power bytes read as a plain
// binary value; meters differ in which of the two they fill sensibly.
type EnergyState struct {
	Power        int     `json:"power"`         // W
	Usage        float64 `json:"usage"`         // kWh
	CurrentPower float64 `json:"current_power"` // W
}

func (e EnergyState) Key() string    { return string(FamilyEnergy) }
func (e EnergyState) Family() Family { return FamilyEnergy }

// ElevatorState reflects the hall call panel.
type ElevatorState struct {
	Status int `json:"status"` // 0 idle, 2 called, 4 power cut
	Floor  int `json:"floor"`
}

func (e ElevatorState) Key() string    { return string(FamilyElevator) }
func (e ElevatorState) Family() Family { return FamilyElevator }

// DoorbellState is the entrance doorbell.
type DoorbellState struct {
	Ring    bool `json:"ring"`
	Ringing bool `json:"ringing"`
}

func (e DoorbellState) Key() string    { return string(FamilyDoorbell) }
func (e DoorbellState) Family() Family { return FamilyDoorbell }

// CommandEcho is a command or ACK frame observed on the bus: a point-in-time
// signal, never a steady state. Echoes are recorded transiently and expire on
// their own.
type CommandEcho struct {
	From    Family `json:"from"`
	Room    int    `json:"room,omitempty"`
	Command byte   `json:"command"`
	Raw     string `json:"raw"` // full frame hex
}

func (e CommandEcho) Key() string {
	if MultiInstance(e.From) {
		return fmt.Sprintf("%s_%d_cmd_%02X", e.From, e.Room, e.Command)
	}
	return fmt.Sprintf("%s_cmd_%02X", e.From, e.Command)
}
func (e CommandEcho) Family() Family { return e.From }

// UnknownFrame is a well-formed frame from a device id outside the family
// table, grouped by the leading four bytes.
type UnknownFrame struct {
	Signature string `json:"signature"`
	Raw       string `json:"raw"` // full frame hex
}

func (e UnknownFrame) Key() string    { return "unknown_" + e.Signature }
func (e UnknownFrame) Family() Family { return FamilyUnknown }
