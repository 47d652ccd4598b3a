//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"ezville-go-home/internal/protocol"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/ezville_wallpad/light_1_1/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery. Every entity hangs off the
// one wallpad device; HA groups them on a single device page.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

var wallpadDevice = haDevice{
	Identifiers:  []string{"ezville_wallpad"},
	Manufacturer: "EzVille",
	Model:        "EzVille Wallpad",
	Name:         "EzVille Wallpad",
}

// haDiscovery is a generic HA discovery payload covering the entity types
// the wallpad exposes.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`

	// climate
	Modes                   []string `json:"modes,omitempty"`
	ModeStateTopic          string   `json:"mode_state_topic,omitempty"`
	ModeCommandTopic        string   `json:"mode_command_topic,omitempty"`
	TemperatureStateTopic   string   `json:"temperature_state_topic,omitempty"`
	TemperatureCommandTopic string   `json:"temperature_command_topic,omitempty"`
	CurrentTemperatureTopic string   `json:"current_temperature_topic,omitempty"`
	MinTemp                 int      `json:"min_temp,omitempty"`
	MaxTemp                 int      `json:"max_temp,omitempty"`
	TempStep                float64  `json:"temp_step,omitempty"`

	// climate and fan presets
	PresetModes            []string `json:"preset_modes,omitempty"`
	PresetModeStateTopic   string   `json:"preset_mode_state_topic,omitempty"`
	PresetModeCommandTopic string   `json:"preset_mode_command_topic,omitempty"`

	// fan speed
	PercentageStateTopic   string `json:"percentage_state_topic,omitempty"`
	PercentageCommandTopic string `json:"percentage_command_topic,omitempty"`
	SpeedRangeMin          int    `json:"speed_range_min,omitempty"`
	SpeedRangeMax          int    `json:"speed_range_max,omitempty"`

	Device haDevice `json:"device"`
}

// topicID is the id segment of a device's topic: the record key minus the
// family prefix ("light_1_2" becomes "1_2"). Single-instance families get a
// fixed segment so their topics still have four levels.
func topicID(key string, family protocol.Family) string {
	id := strings.TrimPrefix(key, string(family))
	id = strings.TrimPrefix(id, "_")
	if id != "" {
		return id
	}
	if family == protocol.FamilyEnergy {
		return "0"
	}
	return "1"
}

// deviceKey reverses topicID back to the record key.
func deviceKey(family protocol.Family, id string) string {
	if protocol.MultiInstance(family) || family == protocol.FamilyThermostat {
		return string(family) + "_" + id
	}
	return string(family)
}

// baseTopic is "{prefix}/{family}/{id}", the root of one device's state and
// command topics.
func baseTopic(prefix, key string, family protocol.Family) string {
	return prefix + "/" + string(family) + "/" + topicID(key, family)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// stateAttributes flattens a decoded state into attribute payloads. Each
// entry is published to "{base}/{attr}/state".
func stateAttributes(ev protocol.Event) map[string]string {
	switch s := ev.(type) {
	case protocol.LightState:
		return map[string]string{"power": onOff(s.On)}
	case protocol.PlugState:
		return map[string]string{
			"power":   onOff(s.On),
			"current": strconv.FormatFloat(s.Power, 'f', 1, 64),
		}
	case protocol.ThermostatState:
		mode := "off"
		if s.Mode == protocol.ThermostatHeat {
			mode = "heat"
		}
		preset := "none"
		if s.Away {
			preset = "away"
		}
		return map[string]string{
			"mode":    mode,
			"away":    onOff(s.Away),
			"preset":  preset,
			"target":  strconv.Itoa(s.Target),
			"current": strconv.Itoa(s.Current),
		}
	case protocol.FanState:
		attrs := map[string]string{
			"power": onOff(s.On),
			"speed": strconv.Itoa(s.Speed),
		}
		if s.Preset != "" {
			attrs["mode"] = s.Preset
		}
		return attrs
	case protocol.GasState:
		v := "open"
		if s.Closed {
			v = "closed"
		}
		return map[string]string{"valve": v}
	case protocol.EnergyState:
		return map[string]string{
			"power":         strconv.Itoa(s.Power),
			"usage":         strconv.FormatFloat(s.Usage, 'f', 1, 64),
			"current_power": strconv.FormatFloat(s.CurrentPower, 'f', 2, 64),
		}
	case protocol.ElevatorState:
		var power string
		switch s.Status {
		case 0:
			power = "off"
		case 2:
			power = "on"
		case 4:
			power = "cut"
		default:
			power = strconv.Itoa(s.Status)
		}
		return map[string]string{
			"power": power,
			"floor": strconv.Itoa(s.Floor),
		}
	case protocol.DoorbellState:
		ring := "off"
		if s.Ring {
			ring = "on"
		}
		return map[string]string{
			"ringing": onOff(s.Ringing),
			"ring":    ring,
		}
	default:
		return nil
	}
}

// buildDiscovery generates the HA discovery messages for one device.
func buildDiscovery(key string, ev protocol.Event, prefix, discPrefix string) []discoveryMsg {
	family := ev.Family()
	base := baseTopic(prefix, key, family)
	avail := prefix + "/bridge/state"

	switch s := ev.(type) {
	case protocol.LightState:
		return []discoveryMsg{configMsg(discPrefix, "light", key, haDiscovery{
			Name:              fmt.Sprintf("Light %d %d", s.Room, s.Num),
			StateTopic:        base + "/power/state",
			CommandTopic:      base + "/power/command",
			PayloadOn:         "ON",
			PayloadOff:        "OFF",
			AvailabilityTopic: avail,
		})}

	case protocol.PlugState:
		return []discoveryMsg{
			configMsg(discPrefix, "switch", key, haDiscovery{
				Name:              fmt.Sprintf("Plug %d %d", s.Room, s.Num),
				Icon:              "mdi:power-socket-de",
				DeviceClass:       "outlet",
				StateTopic:        base + "/power/state",
				CommandTopic:      base + "/power/command",
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
				AvailabilityTopic: avail,
			}),
			configMsg(discPrefix, "sensor", key+"_power", haDiscovery{
				Name:              fmt.Sprintf("Plug %d %d Power", s.Room, s.Num),
				StateTopic:        base + "/current/state",
				UnitOfMeasurement: "W",
				DeviceClass:       "power",
				StateClass:        "measurement",
				AvailabilityTopic: avail,
			}),
		}

	case protocol.ThermostatState:
		return []discoveryMsg{configMsg(discPrefix, "climate", key, haDiscovery{
			Name:                    fmt.Sprintf("Thermostat %d", s.Room),
			Modes:                   []string{"off", "heat"},
			ModeStateTopic:          base + "/mode/state",
			ModeCommandTopic:        base + "/mode/command",
			TemperatureStateTopic:   base + "/target/state",
			TemperatureCommandTopic: base + "/target/command",
			CurrentTemperatureTopic: base + "/current/state",
			PresetModes:             []string{"away"},
			PresetModeStateTopic:    base + "/preset/state",
			PresetModeCommandTopic:  base + "/preset/command",
			MinTemp:                 5,
			MaxTemp:                 40,
			TempStep:                1,
			AvailabilityTopic:       avail,
		})}

	case protocol.FanState:
		return []discoveryMsg{configMsg(discPrefix, "fan", key, haDiscovery{
			Name:                   "Ventilation Fan",
			StateTopic:             base + "/power/state",
			CommandTopic:           base + "/power/command",
			PayloadOn:              "ON",
			PayloadOff:             "OFF",
			PresetModes:            []string{protocol.FanPresetBypass, protocol.FanPresetHeat},
			PresetModeStateTopic:   base + "/mode/state",
			PresetModeCommandTopic: base + "/mode/command",
			PercentageStateTopic:   base + "/speed/state",
			PercentageCommandTopic: base + "/speed/command",
			SpeedRangeMin:          1,
			SpeedRangeMax:          3,
			AvailabilityTopic:      avail,
		})}

	case protocol.GasState:
		return []discoveryMsg{configMsg(discPrefix, "valve", key, haDiscovery{
			Name:              "Gas Valve",
			DeviceClass:       "gas",
			StateTopic:        base + "/valve/state",
			CommandTopic:      base + "/valve/command",
			AvailabilityTopic: avail,
		})}

	case protocol.EnergyState:
		return []discoveryMsg{
			configMsg(discPrefix, "sensor", key+"_power", haDiscovery{
				Name:              "Energy Meter Power",
				StateTopic:        base + "/power/state",
				UnitOfMeasurement: "W",
				DeviceClass:       "power",
				StateClass:        "measurement",
				AvailabilityTopic: avail,
			}),
			configMsg(discPrefix, "sensor", key+"_usage", haDiscovery{
				Name:              "Energy Meter Usage",
				StateTopic:        base + "/usage/state",
				UnitOfMeasurement: "kWh",
				DeviceClass:       "energy",
				StateClass:        "total_increasing",
				AvailabilityTopic: avail,
			}),
		}

	case protocol.ElevatorState:
		return []discoveryMsg{
			configMsg(discPrefix, "sensor", key, haDiscovery{
				Name:              "Elevator",
				Icon:              "mdi:elevator",
				StateTopic:        base + "/power/state",
				AvailabilityTopic: avail,
			}),
			configMsg(discPrefix, "button", key+"_call", haDiscovery{
				Name:              "Elevator Call",
				Icon:              "mdi:elevator-up",
				CommandTopic:      base + "/power/command",
				PayloadPress:      "ON",
				AvailabilityTopic: avail,
			}),
		}

	case protocol.DoorbellState:
		return []discoveryMsg{
			configMsg(discPrefix, "binary_sensor", key, haDiscovery{
				Name:              "Doorbell",
				Icon:              "mdi:doorbell",
				DeviceClass:       "sound",
				StateTopic:        base + "/ringing/state",
				PayloadOn:         "ON",
				PayloadOff:        "OFF",
				AvailabilityTopic: avail,
			}),
			configMsg(discPrefix, "button", key+"_talk", haDiscovery{
				Name:              "Doorbell Talk",
				Icon:              "mdi:phone",
				CommandTopic:      base + "/talk/command",
				PayloadPress:      "PRESS",
				AvailabilityTopic: avail,
			}),
			configMsg(discPrefix, "button", key+"_open", haDiscovery{
				Name:              "Doorbell Open Door",
				Icon:              "mdi:door-open",
				CommandTopic:      base + "/open/command",
				PayloadPress:      "PRESS",
				AvailabilityTopic: avail,
			}),
			configMsg(discPrefix, "button", key+"_cancel", haDiscovery{
				Name:              "Doorbell Cancel",
				Icon:              "mdi:phone-hangup",
				CommandTopic:      base + "/cancel/command",
				PayloadPress:      "PRESS",
				AvailabilityTopic: avail,
			}),
		}

	default:
		// command echoes and unrecognized devices never become entities
		return nil
	}
}

func configMsg(discPrefix, component, object string, payload haDiscovery) discoveryMsg {
	payload.UniqueID = "ezville_wallpad_" + object
	payload.Device = wallpadDevice
	return discoveryMsg{
		Topic:   fmt.Sprintf("%s/%s/ezville_wallpad/%s/config", discPrefix, component, object),
		Payload: mustJSON(payload),
	}
}

// buildRemoveDiscovery generates empty retained messages to remove a
// device's entities from HA.
func buildRemoveDiscovery(key string, family protocol.Family, discPrefix string) []discoveryMsg {
	var components []struct{ comp, obj string }
	switch family {
	case protocol.FamilyLight:
		components = []struct{ comp, obj string }{{"light", key}}
	case protocol.FamilyPlug:
		components = []struct{ comp, obj string }{{"switch", key}, {"sensor", key + "_power"}}
	case protocol.FamilyThermostat:
		components = []struct{ comp, obj string }{{"climate", key}}
	case protocol.FamilyFan:
		components = []struct{ comp, obj string }{{"fan", key}}
	case protocol.FamilyGas:
		components = []struct{ comp, obj string }{{"valve", key}}
	case protocol.FamilyEnergy:
		components = []struct{ comp, obj string }{{"sensor", key + "_power"}, {"sensor", key + "_usage"}}
	case protocol.FamilyElevator:
		components = []struct{ comp, obj string }{{"sensor", key}, {"button", key + "_call"}}
	case protocol.FamilyDoorbell:
		components = []struct{ comp, obj string }{
			{"binary_sensor", key},
			{"button", key + "_talk"},
			{"button", key + "_open"},
			{"button", key + "_cancel"},
		}
	default:
		return nil
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("%s/%s/ezville_wallpad/%s/config", discPrefix, c.comp, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
