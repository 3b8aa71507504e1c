// Package trace provides decision-trace recording for MAC scheduling analysis.
// This package has no dependencies on sim/ or its subpackages; it stores pure data types.
package trace

// GrantRecord captures one grant issued by a base-station scheduler.
type GrantRecord struct {
	Clock          int64
	Ue             string
	Direction      string
	Acid           int
	Retransmission bool
	Codewords      int
	Bytes          int
	Blocks         int
}

// HarqRecord captures what a piece of HARQ feedback did to a transmit unit.
type HarqRecord struct {
	Clock     int64
	Owner     string // node holding the transmit buffer
	Peer      string
	Direction string
	Acid      int
	Codeword  int
	Outcome   string // ignored, acked, buffered, dropped
}

// RacRecord captures one step of a random-access procedure.
type RacRecord struct {
	Clock int64
	Ue    string
	Event string
}
