//go:build rp2040

package platform

import (
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"loranode-go/errcode"
	"loranode-go/services/node/internal/binding"
	"loranode-go/types"
)

// Open configures the SPI bus, radio pins and debug UART described by cfg.
func Open(cfg types.NodeConfig) (*Board, error) {
	rc := cfg.Radio

	var spi *machine.SPI
	switch rc.SPI {
	case "spi0", "":
		spi = machine.SPI0
	case "spi1":
		spi = machine.SPI1
	default:
		return nil, errcode.New(errcode.ConfigurationError, "platform.open", "unknown spi "+rc.SPI)
	}
	if err := spi.Configure(machine.SPIConfig{
		Frequency: rc.SPIHz,
		SCK:       machine.Pin(rc.SCK),
		SDO:       machine.Pin(rc.SDO),
		SDI:       machine.Pin(rc.SDI),
		Mode:      0,
	}); err != nil {
		return nil, errcode.Wrap(errcode.ConfigurationError, "platform.spi", err)
	}

	res := binding.Resources{
		SPI:   drivers.SPI(spi),
		NSS:   output(rc.NSS, true),
		Reset: output(rc.Reset, true),
		Delay: func(ms uint32) { time.Sleep(time.Duration(ms) * time.Millisecond) },
	}
	if rc.AntennaTx >= 0 && rc.AntennaRx >= 0 {
		res.Antenna = PinAntenna{Tx: output(rc.AntennaTx, false), Rx: output(rc.AntennaRx, false)}
	}
	if rc.TCXO >= 0 {
		res.TCXO = output(rc.TCXO, false)
		res.TCXOSettleMs = rc.TCXOMs
	}
	if rc.Busy >= 0 {
		p := machine.Pin(rc.Busy)
		p.Configure(machine.PinConfig{Mode: machine.PinInput})
		res.Busy = p
	}
	if rc.MaxPowerDB > 0 {
		res.Power = MaxPower(rc.MaxPowerDB)
	}

	dio0 := machine.Pin(rc.DIO0)
	dio0.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})

	cc := cfg.Console
	var u *uartx.UART
	switch cc.UART {
	case "uart1":
		u = uartx.UART1
	default:
		u = uartx.UART0
	}
	_ = u.Configure(uartx.UARTConfig{
		BaudRate: cc.Baud,
		TX:       machine.Pin(cc.TX),
		RX:       machine.Pin(cc.RX),
	})

	return &Board{
		Radio:  res,
		DIO0:   rp2IRQ{p: dio0},
		Serial: u,
		Random: random,
	}, nil
}

func output(n int, initial bool) machine.Pin {
	p := machine.Pin(n)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(initial)
	return p
}

type rp2IRQ struct{ p machine.Pin }

func (r rp2IRQ) SetIRQ(handler func()) error {
	return r.p.SetInterrupt(machine.PinRising, func(machine.Pin) { handler() })
}

func (r rp2IRQ) ClearIRQ() error {
	var zero machine.PinChange
	return r.p.SetInterrupt(zero, nil)
}

func random() uint32 {
	v, err := machine.GetRNG()
	if err != nil {
		return uint32(time.Now().UnixNano())
	}
	return v
}
