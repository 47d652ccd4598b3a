package protocol

// Family identifies a wallpad device category.
type Family string

// Known device families.
const (
	FamilyLight      Family = "light"
	FamilyPlug       Family = "plug"
	FamilyThermostat Family = "thermostat"
	FamilyFan        Family = "fan"
	FamilyGas        Family = "gas"
	FamilyEnergy     Family = "energy"
	FamilyElevator   Family = "elevator"
	FamilyDoorbell   Family = "doorbell"

	// FamilyUnknown tags frames whose device id is not in the table.
	FamilyUnknown Family = "unknown"
)

// Bus command bytes. cmdStateRequest asks a device to report itself and is
// shared by every family; the rest are per-family actions acknowledged with
// the ACK codes below.
const (
	cmdStateRequest byte = 0x01

	CmdPower  byte = 0x41 // light/plug/fan on-off, gas close, elevator call-off
	CmdSpeed  byte = 0x42
	CmdMode   byte = 0x43 // thermostat and fan mode, elevator call
	CmdTarget byte = 0x44
	CmdAway   byte = 0x46

	CmdDoorbellCancel byte = 0x11
	CmdDoorbellTalk   byte = 0x12
	CmdDoorbellOpen   byte = 0x22
	CmdDoorbellRing   byte = 0x93
)

// deviceSpec is one family's bus-level identity: its device id, the command
// byte carrying state snapshots, and the ACK code confirming each accepted
// command.
type deviceSpec struct {
	family   Family
	id       byte
	stateCmd byte
	ack      map[byte]byte
}

// deviceTable maps bus device ids to families. Device id 0x60 shows up on
// real installations but its layout is unidentified, so it stays out of the
// table and surfaces as unknown-device traffic.
var deviceTable = map[byte]deviceSpec{
	0x0E: {family: FamilyLight, id: 0x0E, stateCmd: 0x81, ack: map[byte]byte{CmdPower: 0xC1}},
	0x39: {family: FamilyPlug, id: 0x39, stateCmd: 0x81, ack: map[byte]byte{CmdPower: 0xC1}},
	0x36: {family: FamilyThermostat, id: 0x36, stateCmd: 0x81, ack: map[byte]byte{CmdMode: 0xC3, CmdTarget: 0xC4, CmdAway: 0xC6}},
	0x32: {family: FamilyFan, id: 0x32, stateCmd: 0x81, ack: map[byte]byte{CmdPower: 0xC1, CmdSpeed: 0xC2, CmdMode: 0xC3}},
	0x12: {family: FamilyGas, id: 0x12, stateCmd: 0x81, ack: map[byte]byte{CmdPower: 0xC1}},
	0x30: {family: FamilyEnergy, id: 0x30, stateCmd: 0x81},
	0x33: {family: FamilyElevator, id: 0x33, stateCmd: 0x81, ack: map[byte]byte{CmdPower: 0xC1, CmdMode: 0xC3}},
	0x40: {family: FamilyDoorbell, id: 0x40, stateCmd: 0x82, ack: map[byte]byte{CmdDoorbellRing: 0xC3, CmdDoorbellTalk: 0xC2, CmdDoorbellOpen: 0xC2, CmdDoorbellCancel: 0xC1}},
}

var familyTable = map[Family]deviceSpec{}

func init() {
	for _, s := range deviceTable {
		familyTable[s.family] = s
	}
}

// Families lists the known families in a stable order.
func Families() []Family {
	return []Family{
		FamilyLight, FamilyPlug, FamilyThermostat, FamilyFan,
		FamilyGas, FamilyEnergy, FamilyElevator, FamilyDoorbell,
	}
}

// FamilyID returns the bus device id for a family.
func FamilyID(f Family) (byte, bool) {
	s, ok := familyTable[f]
	return s.id, ok
}

// MultiInstance reports whether a family addresses several sub-devices per
// room (and therefore keys records as family_room_num).
func MultiInstance(f Family) bool {
	return f == FamilyLight || f == FamilyPlug
}

// ExpectedAck derives the four-byte header that acknowledges an outgoing
// command frame: the command's own header with the command byte replaced by
// the family's ACK code. ok is false when the bus never acknowledges this
// command and the sender should fire and forget.
func ExpectedAck(f Frame) (hdr [4]byte, ok bool) {
	if len(f) < 4 {
		return hdr, false
	}
	spec, known := deviceTable[f.DeviceID()]
	if !known {
		return hdr, false
	}
	a := spec.ack[f.Command()]
	if a == 0 {
		return hdr, false
	}
	copy(hdr[:], f[:4])
	hdr[3] = a
	return hdr, true
}
