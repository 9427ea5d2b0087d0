package sx127x

const (
	regFIFO              = 0x00
	regOpMode            = 0x01
	regFrfMSB            = 0x06
	regFrfMID            = 0x07
	regFrfLSB            = 0x08
	regPAConfig          = 0x09
	regLNA               = 0x0c
	regFIFOAddrPtr       = 0x0d
	regFIFOTxBaseAddr    = 0x0e
	regFIFORxBaseAddr    = 0x0f
	regFIFORxCurrentAddr = 0x10
	regIRQFlags          = 0x12
	regRxNbBytes         = 0x13
	regPktSNRValue       = 0x19
	regPktRSSIValue      = 0x1a
	regModemConfig1      = 0x1d
	regModemConfig2      = 0x1e
	regPreambleMSB       = 0x20
	regPreambleLSB       = 0x21
	regPayloadLength     = 0x22
	regModemConfig3      = 0x26
	regInvertIQ          = 0x33
	regSyncWord          = 0x39
	regInvertIQ2         = 0x3b
	regDIOMapping1       = 0x40
	regVersion           = 0x42
	regPADac             = 0x4d
)

const (
	opSleep   = 0x00
	opStandby = 0x01
	opTx      = 0x03
	opRxCont  = 0x05
	opLoRa    = 0x80
	opMask    = 0x07

	irqRxTimeout = 0x80
	irqRxDone    = 0x40
	irqCRCError  = 0x20
	irqTxDone    = 0x08

	dio0RxDone = 0x00
	dio0TxDone = 0x40

	paBoost = 0x80

	invertIQStandard  = 0x27
	invertIQ2Standard = 0x1d
	invertIQRx        = 0x66
	invertIQ2Rx       = 0x19

	syncPublic  = 0x34
	syncPrivate = 0x12

	expectedVersion = 0x12
	fxosc           = 32000000
)

// Exported register addresses used by board fakes.
const (
	RegFIFO              = regFIFO
	RegOpMode            = regOpMode
	RegFrfMSB            = regFrfMSB
	RegFIFOAddrPtr       = regFIFOAddrPtr
	RegFIFOTxBaseAddr    = regFIFOTxBaseAddr
	RegFIFORxCurrentAddr = regFIFORxCurrentAddr
	RegIRQFlags          = regIRQFlags
	RegRxNbBytes         = regRxNbBytes
	RegPayloadLength     = regPayloadLength
	RegSyncWord          = regSyncWord
	RegVersion           = regVersion

	IRQRxDone   = irqRxDone
	IRQTxDone   = irqTxDone
	IRQCRCError = irqCRCError

	ModeTx     = opTx
	ModeRxCont = opRxCont
	ModeMask   = opMask
	Version    = expectedVersion
)
