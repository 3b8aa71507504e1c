package sim

import "fmt"

// MessageKind tags what a Message carries across the channel.
type MessageKind int

const (
	KindData MessageKind = iota
	KindGrant
	KindHarqFeedback
	KindRacRequest
	KindRacResponse
	KindCqiReport
	KindMirrorSnapshot
)

var messageKindNames = map[MessageKind]string{
	KindData:           "data",
	KindGrant:          "grant",
	KindHarqFeedback:   "harq-feedback",
	KindRacRequest:     "rac-request",
	KindRacResponse:    "rac-response",
	KindCqiReport:      "cqi-report",
	KindMirrorSnapshot: "mirror-snapshot",
}

func (k MessageKind) String() string {
	if name, ok := messageKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("MessageKind(%d)", int(k))
}

// Message is anything a node hands to the lower layer.
type Message interface {
	Source() MacNodeID
	Destination() MacNodeID
	Kind() MessageKind
}

// Sdu is an opaque upper-layer data unit. Only its size matters to the MAC.
type Sdu struct {
	Cid     MacCID
	Size    int
	Seq     uint64
	Created int64 // TTI the upper layer produced it
	Segment bool  // true when the MAC split it to fit a grant
}

// BsrEntry is one per-connection backlog report piggybacked on an uplink PDU.
type BsrEntry struct {
	Cid   MacCID
	Bytes int
}

// MacPdu is a transport block: SDUs of one or more connections plus headers.
type MacPdu struct {
	Src, Dst  MacNodeID
	Dir       Direction
	Acid      int
	Cw        Codeword
	TxNumber  int
	Sdus      []Sdu
	Bsr       []BsrEntry
	Size      int // bytes including MAC and RLC headers
	Created   int64
	Corrupted bool // set by the channel on delivery
}

func (p *MacPdu) Source() MacNodeID      { return p.Src }
func (p *MacPdu) Destination() MacNodeID { return p.Dst }
func (p *MacPdu) Kind() MessageKind      { return KindData }

// Copy returns a shallow copy safe to hand to the channel while the original stays buffered.
func (p *MacPdu) Copy() *MacPdu {
	c := *p
	c.Sdus = append([]Sdu(nil), p.Sdus...)
	c.Bsr = append([]BsrEntry(nil), p.Bsr...)
	return &c
}

// PayloadBytes is the sum of SDU sizes.
func (p *MacPdu) PayloadBytes() int {
	n := 0
	for _, s := range p.Sdus {
		n += s.Size
	}
	return n
}

// Grant authorizes a terminal to transmit in one direction.
type Grant struct {
	Enb, Ue        MacNodeID
	Dir            Direction // UL or D2D
	Acid           int
	Retransmission bool
	Codewords      int
	Bytes          [MaxCodewords]int
	Blocks         int
	RbMap          map[Remote]map[Band]int
	Issued         int64

	// Periodic grants stay valid every Period TTIs until Expiration more uses are consumed.
	Periodic   bool
	Period     int
	Expiration int
}

func (g *Grant) Source() MacNodeID      { return g.Enb }
func (g *Grant) Destination() MacNodeID { return g.Ue }
func (g *Grant) Kind() MessageKind      { return KindGrant }

// TotalBytes sums the grant over codewords.
func (g *Grant) TotalBytes() int {
	n := 0
	for cw := 0; cw < g.Codewords; cw++ {
		n += g.Bytes[cw]
	}
	return n
}

// HarqFeedback acknowledges or rejects one HARQ unit.
//
// Mirrored feedback is a copy of D2D feedback sent to the serving cell: Src is the D2D
// receiver, Dst the serving cell, and Peer the D2D sender.
type HarqFeedback struct {
	Src, Dst  MacNodeID
	Peer      MacNodeID
	Dir       Direction
	Acid      int
	Cw        Codeword
	Ack       bool
	PduLength int
	Mirrored  bool
}

func (f *HarqFeedback) Source() MacNodeID      { return f.Src }
func (f *HarqFeedback) Destination() MacNodeID { return f.Dst }
func (f *HarqFeedback) Kind() MessageKind      { return KindHarqFeedback }

// RacRequest is a terminal's random-access preamble.
type RacRequest struct {
	Ue, Enb MacNodeID
}

func (r *RacRequest) Source() MacNodeID      { return r.Ue }
func (r *RacRequest) Destination() MacNodeID { return r.Enb }
func (r *RacRequest) Kind() MessageKind      { return KindRacRequest }

// RacResponse answers a RacRequest.
type RacResponse struct {
	Enb, Ue MacNodeID
	Success bool
}

func (r *RacResponse) Source() MacNodeID      { return r.Enb }
func (r *RacResponse) Destination() MacNodeID { return r.Ue }
func (r *RacResponse) Kind() MessageKind      { return KindRacResponse }

// CqiReport carries a link-quality sample from a terminal to its serving cell.
type CqiReport struct {
	Ue, Enb MacNodeID
	Dir     Direction
	Cqi     []int
	Rank    int
}

func (r *CqiReport) Source() MacNodeID      { return r.Ue }
func (r *CqiReport) Destination() MacNodeID { return r.Enb }
func (r *CqiReport) Kind() MessageKind      { return KindCqiReport }
