package node

import (
	"tinygo.org/x/drivers/lora"

	"loranode-go/errcode"
	"loranode-go/services/console"
	"loranode-go/services/node/internal/dispatch"
	"loranode-go/services/node/internal/mac"
	"loranode-go/services/node/internal/sx127x"
)

var pingHeader = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

// onRadioLine reads the radio IRQ flags after DIO0 rose. The latch is
// cleared first so an edge arriving meanwhile dispatches again.
func (a *App) onRadioLine(c *dispatch.Ctx, _ dispatch.Event) error {
	if !a.line.Clear() {
		return nil // spurious
	}
	var (
		ev lora.RadioEvent
		ok bool
	)
	a.radio.Lock(c, func(d *sx127x.Device) { ev, ok = d.HandleDIO0() })
	if !ok {
		return nil
	}
	return c.Dispatch(dispatch.Indication(ev))
}

// onSerialByte sends a ping, or starts a join when there is no session.
func (a *App) onSerialByte(c *dispatch.Ctx, _ dispatch.Event) error {
	if !a.mac.Joined() {
		a.log(c, func(w *console.Writer) { w.Line("node").S("not joined, joining").End() })
		return c.Dispatch(dispatch.Mac(mac.Event{Kind: mac.StartJoin}))
	}
	payload := append(pingHeader[:], a.pings)
	a.port.ctx = c
	rs, err := a.mac.Send(a.fport, payload, a.cfg.LoRaWAN.Confirmed)
	a.port.ctx = nil
	if err != nil {
		return err // configuration errors are fatal in onTaskError
	}
	a.publish()
	a.log(c, func(w *console.Writer) {
		w.Line("node").S("ping ").U(uint64(a.pings)).S(" fport=").U(uint64(a.fport)).End()
	})
	a.pings++
	return a.forward(c, rs)
}

func (a *App) onTick(c *dispatch.Ctx, _ dispatch.Event) error {
	return a.timer.OnTick(c)
}

func (a *App) onRadioIndication(c *dispatch.Ctx, ev dispatch.Event) error {
	return a.drive(c, mac.Event{Kind: mac.RadioIndication, Radio: ev.Radio})
}

func (a *App) onMacEvent(c *dispatch.Ctx, ev dispatch.Event) error {
	return a.drive(c, ev.Mac)
}

// drive hands one event to the MAC and forwards what it asks for.
func (a *App) drive(c *dispatch.Ctx, ev mac.Event) error {
	a.port.ctx = c
	rs := a.mac.HandleEvent(ev)
	a.port.ctx = nil
	a.publish()
	return a.forward(c, rs)
}

func (a *App) forward(c *dispatch.Ctx, rs []mac.Response) error {
	var first error
	for _, r := range rs {
		if err := c.Dispatch(dispatch.Response(r)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *App) onMacResponse(c *dispatch.Ctx, ev dispatch.Event) error {
	r := ev.Resp
	switch r.Kind {
	case mac.TimerRequest:
		a.timer.ArmMillis(c, r.Ms)
		return nil
	case mac.Error:
		if errcode.Is(r.Err, errcode.ConfigurationError) {
			Fatal(r.Err)
			return nil
		}
		a.log(c, func(w *console.Writer) {
			w.Line("lorawan").S("error: ").S(r.Err.Error()).End()
		})
		return nil
	}

	st := a.State()
	a.log(c, func(w *console.Writer) {
		w.Line("lorawan").S(r.Kind.String())
		switch r.Kind {
		case mac.JoinSuccess:
			w.S(" devaddr=").X32(st.DevAddr)
		case mac.UplinkDone, mac.NoAck:
			w.S(" fcnt=").U(uint64(st.FCntUp))
		case mac.DownlinkReceived:
			w.S(" fcnt=").U(uint64(r.Downlink.FCnt)).S(" port=").U(uint64(r.Downlink.FPort)).S(" ").Hex(r.Downlink.Payload)
		}
		w.End()
	})
	return nil
}
