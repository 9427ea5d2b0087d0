package node

import (
	"loranode-go/services/node/internal/dispatch"
	"loranode-go/services/node/internal/mac"
	"loranode-go/services/node/internal/sx127x"
)

// radioPort lends the shared radio to the MAC for the duration of one
// handler. ctx is set by the priority-2 task that drives the MAC.
type radioPort struct {
	res *dispatch.Resource[sx127x.Device]
	ctx *dispatch.Ctx
}

var _ mac.Radio = (*radioPort)(nil)

func (p *radioPort) do(fn func(d *sx127x.Device) error) error {
	var err error
	p.res.Lock(p.ctx, func(d *sx127x.Device) { err = fn(d) })
	return err
}

func (p *radioPort) SetFrequency(hz uint32) error {
	return p.do(func(d *sx127x.Device) error { return d.SetFrequency(hz) })
}

func (p *radioPort) Transmit(payload []byte) error {
	return p.do(func(d *sx127x.Device) error { return d.Transmit(payload) })
}

func (p *radioPort) Receive() error {
	return p.do(func(d *sx127x.Device) error { return d.Receive() })
}

func (p *radioPort) Sleep() error {
	return p.do(func(d *sx127x.Device) error { return d.Sleep() })
}
