// Command radiotest brings up the radio on a board without LoRaWAN: it
// checks the chip through the binding table, then sends a raw LoRa frame
// on each uplink channel in turn and reports the DIO0 outcome.
package main

import (
	"time"

	"tinygo.org/x/drivers/lora"

	"loranode-go/services/config"
	"loranode-go/services/node/internal/binding"
	"loranode-go/services/node/internal/chanplan"
	"loranode-go/services/node/internal/platform"
	"loranode-go/services/node/internal/sx127x"
	"loranode-go/x/conv"
)

const (
	device   = "feather-rfm95"
	dwell    = 3 * time.Second
	txWindow = 500 * time.Millisecond
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)

	cfg, err := config.Load(device)
	if err != nil {
		halt("config", err)
	}
	board, err := platform.Open(cfg)
	if err != nil {
		halt("board", err)
	}

	table := binding.NewTable(func(err error) { println("[radiotest] spi:", err.Error()) })
	caps, err := table.Register(board.Radio)
	if err != nil {
		halt("register", err)
	}
	bb, err := binding.Install(table)
	if err != nil {
		halt("install", err)
	}

	dio0 := make(chan struct{}, 1)
	line := platform.NewLatchedLine(func() error {
		select {
		case dio0 <- struct{}{}:
		default:
		}
		return nil
	})
	if err := board.DIO0.SetIRQ(line.ISR); err != nil {
		halt("irq", err)
	}

	radio := sx127x.New(bb)
	rcfg := sx127x.DefaultConfig()
	rcfg.LoraTxPowerDBm = cfg.Radio.TxPowerDBm
	if err := radio.Init(rcfg); err != nil {
		halt("radio", err)
	}
	println("[radiotest] radio up, capabilities", uint8(caps))

	var seq uint32
	for {
		for _, f := range chanplan.Uplink() {
			if err := radio.SetFrequency(f.Hz()); err != nil {
				halt("freq", err)
			}
			pkt := conv.AppendHex32([]byte("radiotest "), seq)
			if err := radio.Transmit(pkt); err != nil {
				println("[radiotest] tx:", err.Error())
				continue
			}
			report(radio, line, dio0, f)
			seq++
			time.Sleep(dwell)
		}
	}
}

func report(radio *sx127x.Device, line *platform.LatchedLine, dio0 <-chan struct{}, f chanplan.Frequency) {
	select {
	case <-dio0:
	case <-time.After(txWindow):
		println("[radiotest]", f.Hz(), "Hz: no dio0")
		return
	}
	line.Clear()
	ev, ok := radio.HandleDIO0()
	switch {
	case !ok:
		println("[radiotest]", f.Hz(), "Hz: dio0 without flags")
	case ev.EventType == lora.RadioEventTxDone:
		println("[radiotest]", f.Hz(), "Hz: tx done")
	default:
		println("[radiotest]", f.Hz(), "Hz: unexpected event", ev.EventType)
	}
	_ = radio.Sleep()
}

func halt(what string, err error) {
	println("[radiotest]", what+":", err.Error())
	for {
		time.Sleep(time.Second)
	}
}
