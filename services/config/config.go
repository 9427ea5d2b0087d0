package config

import (
	"context"

	"gopkg.in/yaml.v2"

	"loranode-go/bus"
	"loranode-go/errcode"
	"loranode-go/types"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
)

type ctxKey string

// CtxDeviceKey is the context key holding the device (board) name.
const CtxDeviceKey ctxKey = "device"

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Typed load
// -----------------------------------------------------------------------------

// Defaults returns the configuration every document is layered over.
func Defaults() types.NodeConfig {
	return types.NodeConfig{
		Radio: types.RadioConfig{
			SPI:        "spi1",
			SPIHz:      8000000,
			SCK:        14,
			SDO:        15,
			SDI:        8,
			NSS:        16,
			Reset:      17,
			DIO0:       21,
			AntennaTx:  -1,
			AntennaRx:  -1,
			TCXO:       -1,
			Busy:       -1,
			TxPowerDBm: 14,
		},
		LoRaWAN:   types.LoRaWANConfig{FPort: 1},
		Dispatch:  types.DispatchConfig{QueueCapacity: 4, MaxChainDepth: 8},
		Timer:     types.TimerConfig{TickMs: 1},
		Console:   types.ConsoleConfig{UART: "uart0", Baud: 115200, TX: 0, RX: 1, RingSize: 1024},
		Heartbeat: types.HeartbeatConfig{IntervalS: 10},
	}
}

// Load parses the embedded document for device over Defaults and validates
// the result.
func Load(device string) (types.NodeConfig, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return types.NodeConfig{}, errcode.New(errcode.ConfigurationError, "config.load", "no embedded config for device: "+device)
	}
	return Parse(raw)
}

// Parse decodes one YAML document over Defaults.
func Parse(raw []byte) (types.NodeConfig, error) {
	cfg := Defaults()
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return types.NodeConfig{}, errcode.Wrap(errcode.ConfigurationError, "config.parse", err)
	}
	if err := Validate(&cfg); err != nil {
		return types.NodeConfig{}, err
	}
	return cfg, nil
}

// Validate checks ranges the node relies on.
func Validate(c *types.NodeConfig) error {
	bad := func(msg string) error { return errcode.New(errcode.ConfigurationError, "config.validate", msg) }
	switch {
	case c.Radio.SPI != "spi0" && c.Radio.SPI != "spi1":
		return bad("radio.spi must be spi0 or spi1")
	case c.Radio.NSS < 0 || c.Radio.Reset < 0 || c.Radio.DIO0 < 0:
		return bad("radio.nss, radio.reset and radio.dio0 are required")
	case (c.Radio.AntennaTx < 0) != (c.Radio.AntennaRx < 0):
		return bad("radio.antenna_tx and radio.antenna_rx go together")
	case len(c.LoRaWAN.DevEUI) != 16 || len(c.LoRaWAN.AppEUI) != 16 || len(c.LoRaWAN.AppKey) != 32:
		return bad("lorawan keys: dev_eui and app_eui need 16 hex digits, app_key 32")
	case c.LoRaWAN.Subband > 6:
		return bad("lorawan.subband out of range")
	case c.LoRaWAN.FPort == 0 || c.LoRaWAN.FPort > 223:
		return bad("lorawan.fport out of range")
	case c.Dispatch.QueueCapacity < 1:
		return bad("dispatch.queue_capacity must be positive")
	case c.Timer.TickMs == 0:
		return bad("timer.tick_ms must be positive")
	case c.Console.UART != "uart0" && c.Console.UART != "uart1":
		return bad("console.uart must be uart0 or uart1")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig reads the device config from embedded data and publishes
// each top-level section as a retained message.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errcode.New(errcode.ConfigurationError, "config.publish", "missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errcode.New(errcode.ConfigurationError, "config.publish", "no embedded config for device: "+device)
	}

	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return errcode.Wrap(errcode.ConfigurationError, "config.publish", err)
	}

	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), normalise(v), true))
	}
	return nil
}

// normalise turns yaml.v2's map[interface{}]interface{} into map[string]any
// throughout.
func normalise(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			if ks, ok := k.(string); ok {
				m[ks] = normalise(e)
			}
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalise(x[i])
		}
		return x
	default:
		return v
	}
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config]", err.Error())
		}
	}()
}
