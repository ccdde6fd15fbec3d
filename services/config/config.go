package config

import (
	"context"

	"nodelog/bus"
	"nodelog/errcode"

	"github.com/andreyvit/tinyjson"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Topic returns the retained topic a config section is published on.
func Topic(section string) bus.Topic { return bus.T(configPrefix, section) }

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig parses the device's embedded JSON and publishes each
// top-level section as a retained message on config/<section>.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return &errcode.E{C: errcode.InvalidParams, Op: serviceName, Msg: "missing device ID in context"}
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return &errcode.E{C: errcode.InvalidParams, Op: serviceName, Msg: "no embedded config for device " + device}
	}

	m, err := parseObject(raw)
	if err != nil {
		return err
	}
	for k, v := range m {
		conn.Publish(conn.NewMessage(Topic(k), v, true))
	}
	return nil
}

func parseObject(raw []byte) (m map[string]any, err error) {
	// tinyjson reports malformed input by panicking.
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, &errcode.E{C: errcode.InvalidPayload, Op: serviceName, Msg: "malformed embedded config"}
		}
	}()
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidPayload, Op: serviceName, Msg: "embedded config is not a JSON object"}
	}
	return m, nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config] publish failed:", err.Error())
		}
	}()
}
