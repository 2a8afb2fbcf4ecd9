package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bt532-go/bus"
)

// -----------------------------------------------------------------------------
// String constants
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxBoardKey  = "board" // context key used for the board ID
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedConfigs[board]
	return b, ok
}

// Boards lists the boards with an embedded config.
func Boards() []string {
	out := make([]string, 0, len(embeddedConfigs))
	for k := range embeddedConfigs {
		out = append(out, k)
	}
	return out
}

// Topic returns the retained topic a config key is published on.
func Topic(key string) bus.Topic { return bus.T(configPrefix, key) }

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name     string
	override []byte
}

// NewConfigService returns a publisher. A non-empty override document
// replaces the embedded config for every key it names.
func NewConfigService(override []byte) *ConfigService {
	return &ConfigService{Name: serviceName, override: override}
}

func parseObject(raw []byte, what string) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%s config is not a JSON object: %w", what, err)
	}
	return m, nil
}

// publishConfig reads the board config and publishes one retained message
// per top-level key. Payloads are the decoded JSON values (map[string]any,
// []any, string, float64, bool).
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	board, _ := ctx.Value(CtxBoardKey).(string)
	if board == "" {
		return errors.New("missing board ID in context")
	}

	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for board: " + board)
	}
	m, err := parseObject(raw, "embedded")
	if err != nil {
		return err
	}
	if len(s.override) > 0 {
		o, err := parseObject(s.override, "override")
		if err != nil {
			return err
		}
		for k, v := range o {
			m[k] = v
		}
	}

	for k, v := range m {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("config key %q: %w", k, err)
		}
		conn.Publish(&bus.Message{
			Topic:    Topic(k),
			Payload:  val,
			Retained: true,
		})
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config] " + err.Error())
		}
	}()
}

// Decode converts a config payload (as published above, or an already
// typed value) into out, which must be a pointer.
func Decode(payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
