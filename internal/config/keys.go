package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetKey returns the value at a dotted path such as polling.fast_ms or
// satellites.0.width.
func (m *Manager) GetKey(key string) (interface{}, error) {
	root, err := encodeNode(m.Get())
	if err != nil {
		return nil, err
	}
	n, err := findNode(root, key)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, nil
}

// SetKey replaces the scalar at a dotted path in the stored configuration
// and saves it. The value must parse as the key's type.
func (m *Manager) SetKey(key, value string) error {
	root, err := encodeNode(m.stored())
	if err != nil {
		return err
	}
	n, err := findNode(root, key)
	if err != nil {
		return err
	}
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("configuration key %s is not a single value", key)
	}

	n.Value = value
	n.Style = 0
	if n.Tag != "!!str" {
		n.Tag = ""
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if key == "log_level" {
		switch value {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
	}
	return m.replace(&cfg)
}

func encodeNode(cfg *Config) (*yaml.Node, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		return root.Content[0], nil
	}
	return &root, nil
}

func findNode(n *yaml.Node, key string) (*yaml.Node, error) {
	for _, part := range strings.Split(key, ".") {
		next, ok := child(n, part)
		if !ok {
			return nil, fmt.Errorf("configuration key not found: %s", key)
		}
		n = next
	}
	return n, nil
}

func child(n *yaml.Node, part string) (*yaml.Node, bool) {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				return n.Content[i+1], true
			}
		}
	case yaml.SequenceNode:
		idx, err := strconv.Atoi(part)
		if err == nil && idx >= 0 && idx < len(n.Content) {
			return n.Content[idx], true
		}
	}
	return nil, false
}
