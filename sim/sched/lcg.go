package sched

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
)

// LcgAllocation is the share of an uplink grant given to one connection on one codeword.
type LcgAllocation struct {
	Cid     sim.MacCID
	Cw      sim.Codeword
	Bytes   int  // headers included
	Sdus    int  // whole SDUs served
	Partial bool // the last SDU served was cut, its residual stays queued
}

type lcgFlow struct {
	cid      sim.MacCID
	mode     sim.RlcMode
	rate     int // bytes added to the bucket per TTI
	maxBurst int
	bucket   int
}

// LcgScheduler splits a terminal's grant over its own connections. Connections with a
// reserved rate are served first within their token bucket, then everyone is served best
// effort in connection order. Headers are charged as the base station charges them.
type LcgScheduler struct {
	headers sim.HeaderSizes
	flows   []*lcgFlow // ascending cid
}

// NewLcgScheduler creates a scheduler charging the given header sizes.
func NewLcgScheduler(headers sim.HeaderSizes) *LcgScheduler {
	return &LcgScheduler{headers: headers}
}

// AddConnection registers a connection. A zero rate makes it best effort only.
// A zero maxBurst caps the bucket at one TTI worth of tokens.
func (l *LcgScheduler) AddConnection(cid sim.MacCID, mode sim.RlcMode, minReservedRate, maxBurst int) {
	if maxBurst <= 0 {
		maxBurst = minReservedRate
	}
	f := &lcgFlow{cid: cid, mode: mode, rate: minReservedRate, maxBurst: maxBurst}
	i, found := slices.BinarySearchFunc(l.flows, cid, func(f *lcgFlow, c sim.MacCID) int {
		return int(f.cid) - int(c)
	})
	if found {
		l.flows[i] = f
		return
	}
	l.flows = slices.Insert(l.flows, i, f)
}

// RemoveConnection forgets a connection and its bucket.
func (l *LcgScheduler) RemoveConnection(cid sim.MacCID) {
	l.flows = slices.DeleteFunc(l.flows, func(f *lcgFlow) bool { return f.cid == cid })
}

// Tick refills every bucket by its reserved rate, up to its burst size.
func (l *LcgScheduler) Tick() {
	for _, f := range l.flows {
		f.bucket = min(f.bucket+f.rate, f.maxBurst)
	}
}

// Bucket returns the tokens a connection holds. It may be negative after an SDU larger
// than the bucket was served.
func (l *LcgScheduler) Bucket(cid sim.MacCID) int {
	for _, f := range l.flows {
		if f.cid == cid {
			return f.bucket
		}
	}
	return 0
}

type lcgPass struct {
	l           *LcgScheduler
	queues      func(sim.MacCID) *sim.VirtualQueue
	out         []LcgAllocation
	index       map[ListKey]int
	pduStarted  [sim.MaxCodewords]bool
	connStarted map[ListKey]bool
}

// Schedule distributes budget (bytes per codeword) over the connections' virtual queues,
// consuming what it serves. Codeword 1 is used only when codewords is 2.
func (l *LcgScheduler) Schedule(queues func(sim.MacCID) *sim.VirtualQueue, budget [sim.MaxCodewords]int, codewords int) []LcgAllocation {
	p := &lcgPass{
		l:           l,
		queues:      queues,
		index:       make(map[ListKey]int),
		connStarted: make(map[ListKey]bool),
	}
	for cw := 0; cw < min(codewords, sim.MaxCodewords); cw++ {
		c := sim.Codeword(cw)
		left := budget[cw]
		for _, f := range l.flows {
			if left == 0 {
				break
			}
			if f.rate == 0 || f.bucket <= 0 {
				continue
			}
			used := p.serve(f, c, left, true)
			f.bucket -= used
			left -= used
		}
		for _, f := range l.flows {
			if left == 0 {
				break
			}
			left -= p.serve(f, c, left, false)
		}
		if left > 0 {
			logrus.Debugf("lcg: %d of %d bytes left unused on codeword %d", left, budget[cw], cw)
		}
	}
	return p.out
}

// serve gives a connection up to limit bytes on cw and returns the bytes used. In the
// guaranteed phase it stops as soon as the connection's bucket is spent.
func (p *lcgPass) serve(f *lcgFlow, cw sim.Codeword, limit int, guaranteed bool) int {
	q := p.queues(f.cid)
	if q == nil {
		return 0
	}
	used := 0
	for {
		if guaranteed && f.bucket-used <= 0 {
			return used
		}
		e, ok := q.Front()
		if !ok {
			return used
		}
		over := p.overhead(f, cw)
		room := limit - used
		switch {
		case e.Size+over <= room:
			q.PopFront()
			a := p.allocation(f.cid, cw)
			a.Sdus++
			a.Bytes += e.Size + over
			used += e.Size + over
		case room > over:
			q.Consume(room - over)
			a := p.allocation(f.cid, cw)
			a.Bytes += room
			a.Partial = true
			used += room
		default:
			return used
		}
		p.pduStarted[cw] = true
		p.connStarted[ListKey{f.cid, cw}] = true
		if used == limit {
			return used
		}
	}
}

func (p *lcgPass) overhead(f *lcgFlow, cw sim.Codeword) int {
	n := 0
	if !p.pduStarted[cw] {
		n += p.l.headers.Mac
	}
	if !p.connStarted[ListKey{f.cid, cw}] {
		n += p.l.headers.Rlc(f.mode)
	}
	return n
}

func (p *lcgPass) allocation(cid sim.MacCID, cw sim.Codeword) *LcgAllocation {
	k := ListKey{cid, cw}
	i, ok := p.index[k]
	if !ok {
		i = len(p.out)
		p.index[k] = i
		p.out = append(p.out, LcgAllocation{Cid: cid, Cw: cw})
	}
	return &p.out[i]
}
