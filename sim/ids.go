package sim

import (
	"fmt"
	"strings"
)

// MacNodeID identifies a base station or a terminal.
type MacNodeID uint16

const (
	// NoNode is the zero id, never assigned to a node.
	NoNode MacNodeID = 0
	// EnbMinID is the first id handed to base stations.
	EnbMinID MacNodeID = 1
	// UeMinID is the first id handed to terminals.
	UeMinID MacNodeID = 1025
)

// IsUe reports whether the id falls in the terminal range.
func (id MacNodeID) IsUe() bool {
	return id >= UeMinID
}

func (id MacNodeID) String() string {
	if id.IsUe() {
		return fmt.Sprintf("ue_%d", uint16(id))
	}
	return fmt.Sprintf("enb_%d", uint16(id))
}

// LogicalCID identifies a logical channel within a node.
type LogicalCID uint16

// MacCID is the connection id: node id in the upper 16 bits, logical channel in the lower.
type MacCID uint32

// NewMacCID packs a node id and a logical channel id.
func NewMacCID(node MacNodeID, lcid LogicalCID) MacCID {
	return MacCID(uint32(node)<<16 | uint32(lcid))
}

// Node returns the node half of the connection id.
func (c MacCID) Node() MacNodeID {
	return MacNodeID(uint32(c) >> 16)
}

// LCID returns the logical channel half of the connection id.
func (c MacCID) LCID() LogicalCID {
	return LogicalCID(uint32(c) & 0xffff)
}

func (c MacCID) String() string {
	return fmt.Sprintf("%d:%d", uint16(c.Node()), uint16(c.LCID()))
}

// Direction is the link direction of a connection or grant.
type Direction int

const (
	DL Direction = iota
	UL
	D2D
)

// NumDirections is the number of Direction values.
const NumDirections = 3

var directionNames = map[Direction]string{
	DL:  "DL",
	UL:  "UL",
	D2D: "D2D",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection maps a case-insensitive name to a Direction.
func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if strings.EqualFold(name, s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q; valid options: DL, UL, D2D", s)
}

// Codeword indexes a transport block within a spatially multiplexed transmission.
type Codeword int

// MaxCodewords is the number of codewords a transmission can carry.
const MaxCodewords = 2

// Band is a logical sub-band of the carrier.
type Band int

// Remote is a distributed-antenna remote unit. MacroRemote is the base station's own antenna.
type Remote int

const MacroRemote Remote = 0

// Plane separates the main resource grid from the MU-MIMO secondary grid.
type Plane int

const (
	MainPlane Plane = iota
	MuMimoPlane
)

// NumPlanes is the number of Plane values.
const NumPlanes = 2

// TxMode is the transmission mode reported by link adaptation.
type TxMode int

const (
	SingleAntennaPort0 TxMode = iota
	TransmitDiversity
	OLSpatialMultiplexing
	CLSpatialMultiplexing
	MultiUser
)

var txModeNames = map[TxMode]string{
	SingleAntennaPort0:    "single",
	TransmitDiversity:     "diversity",
	OLSpatialMultiplexing: "ol-spatial",
	CLSpatialMultiplexing: "cl-spatial",
	MultiUser:             "multi-user",
}

func (m TxMode) String() string {
	if name, ok := txModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("TxMode(%d)", int(m))
}

// SpatialMultiplexing reports whether the mode can carry a second codeword.
func (m TxMode) SpatialMultiplexing() bool {
	return m == OLSpatialMultiplexing || m == CLSpatialMultiplexing || m == MultiUser
}

// ParseTxMode maps a mode name to a TxMode. The empty string selects SingleAntennaPort0.
func ParseTxMode(s string) (TxMode, error) {
	if s == "" {
		return SingleAntennaPort0, nil
	}
	for m, name := range txModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown tx mode %q; valid options: single, diversity, ol-spatial, cl-spatial, multi-user", s)
}

// RlcMode is the RLC mode of a connection, which determines its per-PDU header.
type RlcMode int

const (
	RlcTM RlcMode = iota
	RlcUM
	RlcAM
)

var rlcModeNames = map[RlcMode]string{
	RlcTM: "TM",
	RlcUM: "UM",
	RlcAM: "AM",
}

func (m RlcMode) String() string {
	if name, ok := rlcModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("RlcMode(%d)", int(m))
}

// ParseRlcMode maps a mode name to an RlcMode. The empty string selects UM.
func ParseRlcMode(s string) (RlcMode, error) {
	if s == "" {
		return RlcUM, nil
	}
	for m, name := range rlcModeNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown RLC mode %q; valid options: TM, UM, AM", s)
}
