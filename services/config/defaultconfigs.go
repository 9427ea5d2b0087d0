package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw YAML for that device
// -----------------------------------------------------------------------------

// Feather RP2040 RFM95: SX1276 on SPI1, debug UART0 on GP0/GP1.
const cfgFeatherRFM95 = `
radio:
  spi: spi1
  spi_hz: 8000000
  sck: 14
  sdo: 15
  sdi: 8
  nss: 16
  reset: 17
  dio0: 21
  tx_power_dbm: 14
lorawan:
  dev_eui: "00AFEE7CF5ED6F1E"
  app_eui: "70B3D57ED00000DC"
  app_key: "B6B53F4A168A7A88BDF7EA135CE9CFCA"
  fport: 1
timer:
  tick_ms: 1
console:
  uart: uart0
  baud: 115200
  tx: 0
  rx: 1
heartbeat:
  interval: 10
`

// Pico with an RFM95 breakout on SPI0, antenna switch on GP6/GP7 and a
// 14 dBm limit for the breakout's PA.
const cfgPicoRFM95 = `
radio:
  spi: spi0
  sck: 18
  sdo: 19
  sdi: 16
  nss: 17
  reset: 20
  dio0: 21
  antenna_tx: 6
  antenna_rx: 7
  tx_power_dbm: 17
  max_power_dbm: 14
lorawan:
  dev_eui: "00AFEE7CF5ED6F1E"
  app_eui: "70B3D57ED00000DC"
  app_key: "B6B53F4A168A7A88BDF7EA135CE9CFCA"
  subband: 4
  confirmed: true
console:
  uart: uart1
  tx: 4
  rx: 5
heartbeat:
  interval: 30
`

var embeddedConfigs = map[string][]byte{
	"feather-rfm95": []byte(cfgFeatherRFM95),
	"pico-rfm95":    []byte(cfgPicoRFM95),
}
