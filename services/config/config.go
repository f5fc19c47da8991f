// Package config publishes per-service configuration on the bus.
//
// Each top-level key of the device's JSON document is published as a
// retained message on config/<key>. Services subscribe to their own
// topic and Decode the payload into their typed Config.
package config

import (
	"context"
	"encoding/json"

	"asynctwi/bus"
	"asynctwi/errcode"

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

// Topic returns the config topic of a service.
func Topic(service string) bus.Topic { return bus.T(configPrefix, service) }

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig reads the device config from embedded data and publishes
// it as retained messages, one per key.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.publish", Msg: "missing device ID in context"}
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return &errcode.E{C: errcode.Unsupported, Op: "config.publish", Msg: "no embedded config for device: " + device}
	}

	vals, err := split(raw)
	if err != nil {
		return err
	}
	for k, v := range vals {
		conn.Publish(conn.NewMessage(Topic(k), v, true))
	}
	return nil
}

// split cuts a JSON object into its top-level values without decoding
// them. Each value is returned as its own raw JSON.
func split(doc []byte) (vals map[string]tinyjson.Raw, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, _ := r.(string)
			vals, err = nil, &errcode.E{C: errcode.InvalidParams, Op: "config.publish", Msg: "embedded config is not a JSON object: " + msg}
		}
	}()
	vals = make(map[string]tinyjson.Raw)
	r := tinyjson.Raw(doc)
	for key := r.StartObject(); key != nil; key = r.ContinueObject() {
		before := r
		r.Skip()
		vals[key.Str()] = before[:len(before)-len(r)]
	}
	r.EnsureEOF()
	return vals, nil
}

// Start publishes the config once, logging any failure.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) error {
	if err := s.publishConfig(ctx, conn); err != nil {
		println("Warn: config:", err.Error())
		return err
	}
	println("Info: config published")
	return nil
}

// Decode unpacks a config payload into dst. Payloads published by this
// service are raw JSON; anything else is round-tripped through JSON so
// maps and structs published by other code work too.
func Decode(payload any, dst any) error {
	var raw []byte
	switch p := payload.(type) {
	case tinyjson.Raw:
		raw = p
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return &errcode.E{C: errcode.InvalidParams, Op: "config.decode", Err: err}
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.decode", Err: err}
	}
	return nil
}
