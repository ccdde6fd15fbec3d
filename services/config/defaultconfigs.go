package config

// Embedded per-device configuration.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device

const cfgSensorNode = `{
  "nodelog": {
      "tick_ms": 1000,
      "log_every": 60,
      "ack_timeout_ms": 2000
  }
}`

const cfgSim = `{
  "nodelog": {
      "tick_ms": 50,
      "log_every": 1,
      "ack_timeout_ms": 500
  }
}`

var embeddedConfigs = map[string][]byte{
	"sensornode": []byte(cfgSensorNode),
	"sim":        []byte(cfgSim),
}
