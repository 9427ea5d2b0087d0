package mac

import (
	"time"

	"tinygo.org/x/drivers/lora"

	"loranode-go/errcode"
	"loranode-go/services/node/internal/chanplan"
	"loranode-go/x/mathx"
	"loranode-go/x/timex"
)

type State uint8

const (
	Idle State = iota
	JoinTx
	JoinWaitRx1
	JoinRx1
	JoinBackoff
	Joined
	DataTx
	DataWaitRx1
	DataRx1
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case JoinTx:
		return "join_tx"
	case JoinWaitRx1:
		return "join_wait_rx1"
	case JoinRx1:
		return "join_rx1"
	case JoinBackoff:
		return "join_backoff"
	case Joined:
		return "joined"
	case DataTx:
		return "data_tx"
	case DataWaitRx1:
		return "data_wait_rx1"
	case DataRx1:
		return "data_rx1"
	default:
		return "unknown"
	}
}

const maxJoinBackoff = 64 * time.Second

// TxGuard bounds the wait for TxDone after a transmit is started.
const TxGuard = 4 * time.Second

// Config wires a Node.
type Config struct {
	Keys   Keys
	Plan   *chanplan.Configuration
	Radio  Radio
	Random func() uint32
}

// Counters are cumulative MAC statistics.
type Counters struct {
	JoinAttempts uint32
	Uplinks      uint32
	Downlinks    uint32
	Errors       uint32
}

// Node is an OTAA class A sequencer. It is driven from a single task and is
// not safe for concurrent use.
type Node struct {
	keys   Keys
	plan   *chanplan.Configuration
	radio  Radio
	random func() uint32

	state     State
	session   *Session
	devNonce  uint16
	attempts  uint32
	txFreq    chanplan.Frequency
	confirmed bool

	counters Counters
	out      []Response
}

var _ Device = (*Node)(nil)

func NewNode(cfg Config) *Node {
	plan := cfg.Plan
	if plan == nil {
		plan = chanplan.New()
	}
	return &Node{
		keys:   cfg.Keys,
		plan:   plan,
		radio:  cfg.Radio,
		random: cfg.Random,
		out:    make([]Response, 0, 4),
	}
}

func (n *Node) State() State       { return n.state }
func (n *Node) Joined() bool       { return n.session != nil }
func (n *Node) Session() *Session  { return n.session }
func (n *Node) Counters() Counters { return n.counters }

// Plan exposes the channel plan for subband changes.
func (n *Node) Plan() *chanplan.Configuration { return n.plan }

// HandleEvent advances the state machine. The returned slice is reused by
// the next call.
func (n *Node) HandleEvent(ev Event) []Response {
	n.out = n.out[:0]
	switch ev.Kind {
	case StartJoin:
		if n.state == Idle || n.state == JoinBackoff || n.state == Joined {
			n.session = nil
			n.startJoin()
		}
	case TimerFired:
		n.onTimer()
	case RadioIndication:
		n.onRadio(ev.Radio)
	}
	return n.out
}

// Send starts an uplink. It fails with NotJoined before a session exists
// and Busy while a previous exchange is in flight.
func (n *Node) Send(fport uint8, payload []byte, confirmed bool) ([]Response, error) {
	n.out = n.out[:0]
	if n.session == nil {
		return nil, errcode.New(errcode.NotJoined, "mac.send", "")
	}
	if n.state != Joined {
		return nil, errcode.New(errcode.Busy, "mac.send", n.state.String())
	}
	phy, err := EncodeUplink(n.session, fport, payload, confirmed)
	if err != nil {
		return nil, err
	}
	f, err := n.plan.DataFrequency(uint8(n.random()))
	if err != nil {
		return nil, err
	}
	if err := n.transmit(f, phy); err != nil {
		return nil, err
	}
	n.txFreq = f
	n.confirmed = confirmed
	n.state = DataTx
	n.timer(TxGuard)
	return n.out, nil
}

func (n *Node) startJoin() {
	n.devNonce = uint16(n.random())
	n.attempts++
	n.counters.JoinAttempts++
	f, err := n.plan.JoinFrequency(uint8(n.random()))
	if err != nil {
		n.fail(err)
		return
	}
	if err := n.transmit(f, JoinRequest(&n.keys, n.devNonce)); err != nil {
		n.backoff(err)
		return
	}
	n.txFreq = f
	n.state = JoinTx
	n.timer(TxGuard)
}

func (n *Node) transmit(f chanplan.Frequency, phy []byte) error {
	if err := n.radio.SetFrequency(f.Hz()); err != nil {
		return errcode.Wrap(errcode.TransportError, "mac.tx", err)
	}
	if err := n.radio.Transmit(phy); err != nil {
		return errcode.Wrap(errcode.TransportError, "mac.tx", err)
	}
	return nil
}

func (n *Node) listen(f chanplan.Frequency) error {
	if err := n.radio.SetFrequency(f.Hz()); err != nil {
		return errcode.Wrap(errcode.TransportError, "mac.rx", err)
	}
	if err := n.radio.Receive(); err != nil {
		return errcode.Wrap(errcode.TransportError, "mac.rx", err)
	}
	return nil
}

func (n *Node) onTimer() {
	switch n.state {
	case JoinTx:
		_ = n.radio.Sleep()
		n.backoff(errcode.New(errcode.Timeout, "mac.tx", "no tx done"))
	case DataTx:
		_ = n.radio.Sleep()
		n.state = Joined
		n.fail(errcode.New(errcode.Timeout, "mac.tx", "no tx done"))
	case JoinWaitRx1:
		f, err := n.plan.JoinAcceptFrequency1()
		if err != nil {
			n.fail(err)
			return
		}
		if err := n.listen(f); err != nil {
			n.backoff(err)
			return
		}
		n.state = JoinRx1
		n.timer(n.plan.JoinAcceptDelay2() - n.plan.JoinAcceptDelay1())
	case JoinRx1:
		_ = n.radio.Sleep()
		n.emit(Response{Kind: NoJoinAccept})
		n.backoff(nil)
	case JoinBackoff:
		n.startJoin()
	case DataWaitRx1:
		// RX1 for data uses the uplink channel.
		if err := n.listen(n.txFreq); err != nil {
			n.state = Joined
			n.fail(err)
			return
		}
		n.state = DataRx1
		n.timer(n.plan.ReceiveDelay2() - n.plan.ReceiveDelay1())
	case DataRx1:
		_ = n.radio.Sleep()
		n.state = Joined
		if n.confirmed {
			n.emit(Response{Kind: NoAck})
		} else {
			n.emit(Response{Kind: UplinkDone})
		}
	}
}

func (n *Node) onRadio(ev lora.RadioEvent) {
	switch ev.EventType {
	case lora.RadioEventTxDone:
		switch n.state {
		case JoinTx:
			_ = n.radio.Sleep()
			n.state = JoinWaitRx1
			n.timer(n.plan.JoinAcceptDelay1())
		case DataTx:
			_ = n.radio.Sleep()
			n.session.FCntUp++
			n.counters.Uplinks++
			n.state = DataWaitRx1
			n.timer(n.plan.ReceiveDelay1())
		}
	case lora.RadioEventRxDone:
		switch n.state {
		case JoinRx1:
			s, err := DecodeJoinAccept(ev.EventData, n.keys.AppKey, n.devNonce)
			if err != nil {
				n.fail(err)
				return
			}
			_ = n.radio.Sleep()
			n.session = s
			n.attempts = 0
			n.state = Joined
			n.emit(Response{Kind: JoinSuccess})
		case DataRx1:
			dl, err := DecodeDownlink(n.session, ev.EventData)
			if err != nil {
				n.fail(err)
				return
			}
			_ = n.radio.Sleep()
			n.counters.Downlinks++
			n.state = Joined
			n.emit(Response{Kind: DownlinkReceived, Downlink: dl})
			if n.confirmed && !dl.Ack {
				n.emit(Response{Kind: NoAck})
			}
		}
	case lora.RadioEventCrcError:
		if n.state == JoinRx1 || n.state == DataRx1 {
			n.fail(errcode.New(errcode.ProtocolError, "mac.rx", "crc"))
		}
	case lora.RadioEventTimeout:
		switch n.state {
		case JoinRx1, DataRx1:
			// The window timer closes the window.
		case JoinTx:
			n.backoff(errcode.New(errcode.Timeout, "mac.tx", ""))
		case DataTx:
			n.state = Joined
			n.fail(errcode.New(errcode.Timeout, "mac.tx", ""))
		}
	}
}

func (n *Node) backoff(err error) {
	if err != nil {
		n.fail(err)
	}
	n.state = JoinBackoff
	shift := mathx.Min(n.attempts, 6)
	d := mathx.Min(time.Duration(1<<shift)*time.Second, maxJoinBackoff)
	n.timer(d)
}

func (n *Node) timer(d time.Duration) { n.emit(TimerAfter(timex.Millis(d))) }

func (n *Node) fail(err error) {
	n.counters.Errors++
	if errcode.Of(err) == errcode.Error {
		err = errcode.Wrap(errcode.ProtocolError, "mac", err)
	}
	n.emit(Failed(err))
}

func (n *Node) emit(r Response) { n.out = append(n.out, r) }
