// Package chanplan is the node's single regional channel plan: six uplink
// channels, three downlink channels and the fixed MAC timing constants.
//
// A Configuration is mutated after each join attempt (the subband used is
// recorded as lastJoin) and read by every frequency lookup. It is owned by
// the MAC task and is not safe for concurrent use.
package chanplan

import (
	"time"

	"loranode-go/errcode"
)

// Frequency in Hz.
type Frequency uint32

func (f Frequency) Hz() uint32 { return uint32(f) }

var uplink = [...]Frequency{
	864100000,
	864300000,
	864500000,
	868100000,
	868300000,
	868500000,
}

var downlink = [...]Frequency{
	868100000,
	868300000,
	868500000,
}

const (
	MaxFCntGap  = 16384
	ADRAckLimit = 64
	ADRAckDelay = 32
	AckTimeout  = 2 * time.Second

	joinAcceptDelay1 = 5 * time.Second
	joinAcceptDelay2 = 6 * time.Second
	receiveDelay1    = 1 * time.Second
	receiveDelay2    = 2 * time.Second
)

// Configuration selects a subband and remembers the subband of the last join.
// The zero value has no subband set and lastJoin 0.
type Configuration struct {
	subband    uint8
	hasSubband bool
	lastJoin   uint8
}

// New returns a configuration with no subband selected.
func New() *Configuration { return &Configuration{} }

// SetSubband pins data uplinks to uplink channel s-1.
func (c *Configuration) SetSubband(s uint8) {
	c.subband = s
	c.hasSubband = true
}

// ClearSubband reverts to random channel selection.
func (c *Configuration) ClearSubband() {
	c.subband = 0
	c.hasSubband = false
}

// Subband returns the configured subband, if any.
func (c *Configuration) Subband() (uint8, bool) { return c.subband, c.hasSubband }

// LastJoin returns the subband recorded by the most recent JoinFrequency.
func (c *Configuration) LastJoin() uint8 { return c.lastJoin }

// JoinFrequency picks the uplink frequency for a join request. Joins always
// use subband 0; random is accepted for interface stability and ignored.
func (c *Configuration) JoinFrequency(random uint8) (Frequency, error) {
	_ = random
	const sb = 0
	c.lastJoin = sb
	return lookup(uplink[:], sb, "chanplan.join")
}

// DataFrequency picks the uplink frequency for a data frame. With a subband
// S configured it is uplink[S-1]; otherwise bits 3..5 of random select the
// channel. An index outside the table is a ConfigurationError.
func (c *Configuration) DataFrequency(random uint8) (Frequency, error) {
	var idx int
	if c.hasSubband {
		idx = int(c.subband) - 1
	} else {
		idx = int((random >> 3) & 0x07)
	}
	return lookup(uplink[:], idx, "chanplan.data")
}

// JoinAcceptFrequency1 is the RX1 frequency for the join accept, paired with
// the subband of the last join.
func (c *Configuration) JoinAcceptFrequency1() (Frequency, error) {
	return lookup(downlink[:], int(c.lastJoin), "chanplan.join_accept")
}

func (c *Configuration) JoinAcceptDelay1() time.Duration { return joinAcceptDelay1 }
func (c *Configuration) JoinAcceptDelay2() time.Duration { return joinAcceptDelay2 }
func (c *Configuration) ReceiveDelay1() time.Duration    { return receiveDelay1 }
func (c *Configuration) ReceiveDelay2() time.Duration    { return receiveDelay2 }

func lookup(table []Frequency, idx int, op string) (Frequency, error) {
	if idx < 0 || idx >= len(table) {
		return 0, &errcode.E{C: errcode.ConfigurationError, Op: op, Msg: "channel index out of range"}
	}
	return table[idx], nil
}

// InUplink reports whether f is one of the uplink channels.
func InUplink(f Frequency) bool { return contains(uplink[:], f) }

// InDownlink reports whether f is one of the downlink channels.
func InDownlink(f Frequency) bool { return contains(downlink[:], f) }

// Uplink returns a copy of the uplink table.
func Uplink() []Frequency { return append([]Frequency(nil), uplink[:]...) }

// Downlink returns a copy of the downlink table.
func Downlink() []Frequency { return append([]Frequency(nil), downlink[:]...) }

func contains(table []Frequency, f Frequency) bool {
	for _, t := range table {
		if t == f {
			return true
		}
	}
	return false
}
