package types

// ------------------------
// Node configuration (embedded YAML, see services/config)
// ------------------------

type NodeConfig struct {
	Radio     RadioConfig     `yaml:"radio"`
	LoRaWAN   LoRaWANConfig   `yaml:"lorawan"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Timer     TimerConfig     `yaml:"timer"`
	Console   ConsoleConfig   `yaml:"console"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// RadioConfig names the SX127x wiring. Optional pins are -1 when absent.
type RadioConfig struct {
	SPI        string `yaml:"spi"` // "spi0" | "spi1"
	SPIHz      uint32 `yaml:"spi_hz"`
	SCK        int    `yaml:"sck"`
	SDO        int    `yaml:"sdo"`
	SDI        int    `yaml:"sdi"`
	NSS        int    `yaml:"nss"`
	Reset      int    `yaml:"reset"`
	DIO0       int    `yaml:"dio0"`
	AntennaTx  int    `yaml:"antenna_tx"`
	AntennaRx  int    `yaml:"antenna_rx"`
	TCXO       int    `yaml:"tcxo"`
	TCXOMs     uint8  `yaml:"tcxo_settle_ms"`
	Busy       int    `yaml:"busy"`
	TxPowerDBm int8   `yaml:"tx_power_dbm"`
	MaxPowerDB uint8  `yaml:"max_power_dbm"` // 0 = no limit
}

type LoRaWANConfig struct {
	DevEUI    string `yaml:"dev_eui"` // 16 hex digits, MSB first
	AppEUI    string `yaml:"app_eui"`
	AppKey    string `yaml:"app_key"` // 32 hex digits
	Subband   uint8  `yaml:"subband"` // 0 = random channel
	FPort     uint8  `yaml:"fport"`
	Confirmed bool   `yaml:"confirmed"`
}

type DispatchConfig struct {
	QueueCapacity int   `yaml:"queue_capacity"`
	MaxChainDepth uint8 `yaml:"max_chain_depth"`
}

type TimerConfig struct {
	TickMs uint32 `yaml:"tick_ms"`
}

type ConsoleConfig struct {
	UART     string `yaml:"uart"` // "uart0" | "uart1"
	Baud     uint32 `yaml:"baud"`
	TX       int    `yaml:"tx"`
	RX       int    `yaml:"rx"`
	RingSize int    `yaml:"ring_size"`
}

type HeartbeatConfig struct {
	IntervalS int `yaml:"interval"`
}

// ------------------------
// Node telemetry (topics node/stats, node/state)
// ------------------------

type TaskStats struct {
	Name     string `yaml:"name"`
	Priority uint8  `yaml:"priority"`
	Runs     uint32 `yaml:"runs"`
	Drops    uint32 `yaml:"drops"`
	Pending  int32  `yaml:"pending"`
}

type NodeStats struct {
	UptimeMs        int64       `yaml:"uptime_ms"`
	DispatchDrops   uint32      `yaml:"dispatch_drops"`
	Tasks           []TaskStats `yaml:"tasks"`
	LineDrops       uint32      `yaml:"line_drops"`
	TransportErrors uint32      `yaml:"transport_errors"`
	TimerFires      uint32      `yaml:"timer_fires"`
	TimerFireDrops  uint32      `yaml:"timer_fire_drops"`
	ConsoleDrops    uint32      `yaml:"console_drops"`
	JoinAttempts    uint32      `yaml:"join_attempts"`
	Uplinks         uint32      `yaml:"uplinks"`
	Downlinks       uint32      `yaml:"downlinks"`
	MacErrors       uint32      `yaml:"mac_errors"`
}

type NodeState struct {
	State   string `yaml:"state"`
	Joined  bool   `yaml:"joined"`
	DevAddr uint32 `yaml:"dev_addr"`
	FCntUp  uint32 `yaml:"fcnt_up"`
	TsMs    int64  `yaml:"ts_ms"`
}
