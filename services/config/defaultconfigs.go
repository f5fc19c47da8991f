package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgSim = `{
  "twi": {
      "hz": 400000,
      "queue_size": 8
  },
  "twimon": {
      "id": "0",
      "queue_len": 32
  },
  "aht20": {
      "address": 56
  }
}`

var embeddedConfigs = map[string][]byte{
	"sim": []byte(cfgSim),
}
