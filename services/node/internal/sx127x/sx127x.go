// Package sx127x drives an SX1276-family LoRa transceiver at register level.
// All hardware access goes through binding.BoardBindings; the driver holds no
// pins or buses of its own.
package sx127x

import (
	"tinygo.org/x/drivers/lora"

	"loranode-go/errcode"
	"loranode-go/services/node/internal/binding"
	"loranode-go/x/mathx"
)

const (
	minFreq = 137000000
	maxFreq = 1020000000

	maxPacket = 255
)

type Device struct {
	bb      binding.BoardBindings
	cfg     lora.Config
	txPower uint8
}

func New(bb binding.BoardBindings) *Device { return &Device{bb: bb} }

// Init resets the chip, checks its version and applies cfg in LoRa mode.
func (d *Device) Init(cfg lora.Config) error {
	if settle := d.bb.SetBoardTCXO(true); settle > 0 {
		d.bb.DelayMs(uint32(settle))
	}
	d.bb.Reset(true)
	d.bb.DelayMs(1)
	d.bb.Reset(false)
	d.bb.DelayMs(6)

	if v := d.read(regVersion); v != expectedVersion {
		return errcode.New(errcode.TransportError, "sx127x.init", "radio not detected")
	}

	// LoRa mode can only be selected from sleep.
	d.write(regOpMode, opSleep)
	d.write(regOpMode, opSleep|opLoRa)

	if err := d.SetFrequency(cfg.Freq); err != nil {
		return err
	}
	d.write(regFIFOTxBaseAddr, 0)
	d.write(regFIFORxBaseAddr, 0)
	d.write(regLNA, d.read(regLNA)|0x03)

	sf := spreadingFactor(cfg.Sf)
	bw := bandwidth(cfg.Bw)
	implicit := uint8(0)
	if cfg.HeaderType == lora.HeaderImplicit {
		implicit = 1
	}
	d.write(regModemConfig1, bw<<4|codingRate(cfg.Cr)<<1|implicit)
	crc := uint8(0)
	if cfg.Crc == lora.CRCOn {
		crc = 1
	}
	d.write(regModemConfig2, sf<<4|crc<<2)
	ldr := uint8(0)
	if sf >= 11 && bw <= 7 {
		ldr = 1
	}
	d.write(regModemConfig3, ldr<<3|0x04) // AGC on

	pre := mathx.Max(cfg.Preamble, 6)
	d.write(regPreambleMSB, uint8(pre>>8))
	d.write(regPreambleLSB, uint8(pre))

	if cfg.SyncWord == lora.SyncPrivate {
		d.write(regSyncWord, syncPrivate)
	} else {
		d.write(regSyncWord, syncPublic)
	}

	d.setTxPower(cfg.LoraTxPowerDBm)
	d.cfg = cfg
	d.setMode(opStandby)
	return nil
}

// Config returns the configuration applied by Init.
func (d *Device) Config() lora.Config { return d.cfg }

func (d *Device) SetFrequency(hz uint32) error {
	if hz < minFreq || hz > maxFreq {
		return errcode.New(errcode.ConfigurationError, "sx127x.freq", "out of band")
	}
	frf := (uint64(hz) << 19) / fxosc
	d.write(regFrfMSB, uint8(frf>>16))
	d.write(regFrfMID, uint8(frf>>8))
	d.write(regFrfLSB, uint8(frf))
	d.cfg.Freq = hz
	return nil
}

// Transmit loads p into the FIFO and starts a single transmission. TxDone
// is signalled on DIO0.
func (d *Device) Transmit(p []byte) error {
	if len(p) == 0 || len(p) > maxPacket {
		return errcode.New(errcode.InvalidPayload, "sx127x.tx", "bad length")
	}
	d.setMode(opStandby)
	d.write(regInvertIQ, invertIQStandard)
	d.write(regInvertIQ2, invertIQ2Standard)
	d.write(regDIOMapping1, dio0TxDone)
	d.write(regIRQFlags, 0xff)
	d.write(regFIFOAddrPtr, 0)
	d.burstWrite(regFIFO, p)
	d.write(regPayloadLength, uint8(len(p)))
	d.bb.SetAntennaPins(binding.AntennaTx, d.txPower)
	d.setMode(opTx)
	return nil
}

// Receive listens continuously with inverted IQ until Sleep. RxDone is
// signalled on DIO0.
func (d *Device) Receive() error {
	d.setMode(opStandby)
	d.write(regInvertIQ, invertIQRx)
	d.write(regInvertIQ2, invertIQ2Rx)
	d.write(regDIOMapping1, dio0RxDone)
	d.write(regIRQFlags, 0xff)
	d.write(regFIFOAddrPtr, 0)
	d.bb.SetAntennaPins(binding.AntennaRx, 0)
	d.setMode(opRxCont)
	return nil
}

func (d *Device) Sleep() error {
	d.bb.SetAntennaPins(binding.AntennaSleep, 0)
	d.setMode(opSleep)
	return nil
}

// HandleDIO0 reads and clears the IRQ flags and translates them into a
// radio event. ok is false when no flag was pending.
func (d *Device) HandleDIO0() (ev lora.RadioEvent, ok bool) {
	flags := d.read(regIRQFlags)
	if flags == 0 {
		return ev, false
	}
	d.write(regIRQFlags, flags)
	st := uint16(flags)
	switch {
	case flags&irqRxDone != 0 && flags&irqCRCError != 0:
		return lora.NewRadioEvent(lora.RadioEventCrcError, st, nil), true
	case flags&irqRxDone != 0:
		n := int(d.read(regRxNbBytes))
		d.write(regFIFOAddrPtr, d.read(regFIFORxCurrentAddr))
		data := make([]byte, n)
		d.burstRead(regFIFO, data)
		return lora.NewRadioEvent(lora.RadioEventRxDone, st, data), true
	case flags&irqTxDone != 0:
		return lora.NewRadioEvent(lora.RadioEventTxDone, st, nil), true
	case flags&irqRxTimeout != 0:
		return lora.NewRadioEvent(lora.RadioEventTimeout, st, nil), true
	}
	return ev, false
}

// PacketRSSI is the RSSI of the last received packet in dBm (HF port).
func (d *Device) PacketRSSI() int16 { return int16(d.read(regPktRSSIValue)) - 157 }

// PacketSNR is the SNR of the last received packet in quarter dB.
func (d *Device) PacketSNR() int8 { return int8(d.read(regPktSNRValue)) }

func (d *Device) setTxPower(dbm int8) {
	p := uint8(mathx.Clamp(dbm, 2, 17))
	p = mathx.Clamp(d.bb.ReducePower(p), 2, 17)
	d.txPower = p
	d.write(regPADac, 0x84)
	d.write(regPAConfig, paBoost|(p-2))
}

func (d *Device) setMode(m uint8) { d.write(regOpMode, opLoRa|m) }

func (d *Device) read(addr uint8) uint8 {
	d.bb.SPINSS(false)
	d.bb.SPIInOut(addr & 0x7f)
	v := d.bb.SPIInOut(0)
	d.bb.SPINSS(true)
	return v
}

func (d *Device) write(addr, v uint8) {
	d.bb.SPINSS(false)
	d.bb.SPIInOut(addr | 0x80)
	d.bb.SPIInOut(v)
	d.bb.SPINSS(true)
}

func (d *Device) burstWrite(addr uint8, p []byte) {
	d.bb.SPINSS(false)
	d.bb.SPIInOut(addr | 0x80)
	for _, b := range p {
		d.bb.SPIInOut(b)
	}
	d.bb.SPINSS(true)
}

func (d *Device) burstRead(addr uint8, p []byte) {
	d.bb.SPINSS(false)
	d.bb.SPIInOut(addr & 0x7f)
	for i := range p {
		p[i] = d.bb.SPIInOut(0)
	}
	d.bb.SPINSS(true)
}

func bandwidth(bw uint8) uint8 {
	switch bw {
	case lora.Bandwidth_7_8:
		return 0
	case lora.Bandwidth_10_4:
		return 1
	case lora.Bandwidth_15_6:
		return 2
	case lora.Bandwidth_20_8:
		return 3
	case lora.Bandwidth_31_25:
		return 4
	case lora.Bandwidth_41_7:
		return 5
	case lora.Bandwidth_62_5:
		return 6
	case lora.Bandwidth_250_0:
		return 8
	case lora.Bandwidth_500_0:
		return 9
	default:
		return 7 // 125 kHz
	}
}

func codingRate(cr uint8) uint8 {
	switch cr {
	case lora.CodingRate4_6:
		return 2
	case lora.CodingRate4_7:
		return 3
	case lora.CodingRate4_8:
		return 4
	default:
		return 1
	}
}

func spreadingFactor(sf uint8) uint8 {
	switch sf {
	case lora.SpreadingFactor7:
		return 7
	case lora.SpreadingFactor8:
		return 8
	case lora.SpreadingFactor9:
		return 9
	case lora.SpreadingFactor10:
		return 10
	case lora.SpreadingFactor11:
		return 11
	case lora.SpreadingFactor12:
		return 12
	default:
		return 7
	}
}

// DefaultConfig is the node's uplink setting: 868.1 MHz, SF9, 125 kHz,
// CR 4/7, explicit header, CRC on, public network.
func DefaultConfig() lora.Config {
	return lora.Config{
		Freq:           lora.MHz_868_1,
		Cr:             lora.CodingRate4_7,
		Sf:             lora.SpreadingFactor9,
		Bw:             lora.Bandwidth_125_0,
		Preamble:       8,
		SyncWord:       lora.SyncPublic,
		HeaderType:     lora.HeaderExplicit,
		Crc:            lora.CRCOn,
		Iq:             lora.IQStandard,
		LoraTxPowerDBm: 14,
	}
}
