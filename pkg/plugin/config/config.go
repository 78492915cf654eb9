// Package config holds the key ordered configuration passed to plugins.
// The same parser accepts YAML mount files and the JSON objects crossing
// the plugin boundary, since JSON is a YAML subset. Values are kept in
// their scalar string form and coerced on access; a missing or malformed
// value yields the caller's default instead of an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindBool
	kindNull
	kindRaw // pre-encoded JSON, used for nested mappings and sequences
)

type entry struct {
	key   string
	value string
	kind  valueKind
}

// Config is an ordered set of key/value pairs. Insertion order is preserved
// so the JSON sent to a plugin lists keys the way the user wrote them.
type Config struct {
	entries []entry
	index   map[string]int
}

// New returns an empty Config.
func New() *Config {
	return &Config{index: make(map[string]int)}
}

// Parse reads a YAML or JSON document into a Config. The document root must
// be a mapping; an empty document parses to an empty Config. Nested values
// are flattened to compact JSON strings.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := New()
	if root.Kind == 0 || len(root.Content) == 0 {
		return cfg, nil
	}

	doc := root.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.Tag == "!!null" {
		return cfg, nil
	}
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse config: root must be a mapping, got %s", doc.Tag)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		keyNode := doc.Content[i]
		valNode := doc.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse config: non-scalar key at line %d", keyNode.Line)
		}

		switch valNode.Kind {
		case yaml.ScalarNode:
			cfg.put(keyNode.Value, valNode.Value, scalarKind(valNode.Tag))
		case yaml.MappingNode, yaml.SequenceNode:
			var v interface{}
			if err := valNode.Decode(&v); err != nil {
				return nil, fmt.Errorf("parse config: key %q: %w", keyNode.Value, err)
			}
			blob, err := sonic.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("parse config: key %q: %w", keyNode.Value, err)
			}
			cfg.put(keyNode.Value, string(blob), kindRaw)
		default:
			return nil, fmt.Errorf("parse config: key %q has unsupported node kind", keyNode.Value)
		}
	}
	return cfg, nil
}

// LoadFile reads and parses a config file from disk.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return Parse(data)
}

func scalarKind(tag string) valueKind {
	switch tag {
	case "!!int":
		return kindInt
	case "!!float":
		return kindFloat
	case "!!bool":
		return kindBool
	case "!!null":
		return kindNull
	}
	return kindString
}

// put inserts or overwrites a key. A repeated key keeps its original
// position, matching "last value wins" for duplicate YAML keys.
func (c *Config) put(key, value string, kind valueKind) {
	if i, ok := c.index[key]; ok {
		c.entries[i].value = value
		c.entries[i].kind = kind
		return
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, entry{key: key, value: value, kind: kind})
}

// Set stores a string value.
func (c *Config) Set(key, value string) {
	c.put(key, value, kindString)
}

// SetInt64 stores an integer value.
func (c *Config) SetInt64(key string, value int64) {
	c.put(key, strconv.FormatInt(value, 10), kindInt)
}

// SetBool stores a boolean value.
func (c *Config) SetBool(key string, value bool) {
	c.put(key, strconv.FormatBool(value), kindBool)
}

// Get returns the raw string form of a value and whether the key exists.
func (c *Config) Get(key string) (string, bool) {
	i, ok := c.index[key]
	if !ok {
		return "", false
	}
	return c.entries[i].value, true
}

// Has reports whether the key exists.
func (c *Config) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Keys returns all keys in insertion order.
func (c *Config) Keys() []string {
	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of keys.
func (c *Config) Len() int {
	return len(c.entries)
}

// GetString returns the value for key, or def when the key is missing or
// explicitly null.
func (c *Config) GetString(key, def string) string {
	i, ok := c.index[key]
	if !ok || c.entries[i].kind == kindNull {
		return def
	}
	return c.entries[i].value
}

// GetInt64 returns the value coerced to int64. Missing keys and values that
// do not parse as integers yield def.
func (c *Config) GetInt64(key string, def int64) int64 {
	i, ok := c.index[key]
	if !ok {
		return def
	}
	// Base 0 accepts the 0x/0o forms YAML allows for integers.
	n, err := strconv.ParseInt(strings.TrimSpace(c.entries[i].value), 0, 64)
	if err != nil {
		return def
	}
	return n
}

// GetBool returns the value coerced to bool. YAML's yes/no/on/off spellings
// are accepted; anything unrecognized yields def.
func (c *Config) GetBool(key string, def bool) bool {
	i, ok := c.index[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(c.entries[i].value)) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(c.entries[i].value))
	if err != nil {
		return def
	}
	return b
}

// JSON encodes the config as a single JSON object in key insertion order.
// Scalar values keep their original YAML type where it translates cleanly;
// anything that does not form a valid JSON token is emitted as a string.
func (c *Config) JSON() (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range c.entries {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := sonic.Marshal(e.key)
		if err != nil {
			return "", fmt.Errorf("encode config key %q: %w", e.key, err)
		}
		b.Write(key)
		b.WriteByte(':')
		tok, err := jsonToken(e)
		if err != nil {
			return "", err
		}
		b.WriteString(tok)
	}
	b.WriteByte('}')
	return b.String(), nil
}

func jsonToken(e entry) (string, error) {
	quote := func() (string, error) {
		s, err := sonic.Marshal(e.value)
		if err != nil {
			return "", fmt.Errorf("encode config value for %q: %w", e.key, err)
		}
		return string(s), nil
	}

	switch e.kind {
	case kindInt:
		if n, err := strconv.ParseInt(strings.TrimSpace(e.value), 0, 64); err == nil {
			return strconv.FormatInt(n, 10), nil
		}
		return quote()
	case kindFloat:
		if f, err := strconv.ParseFloat(strings.TrimSpace(e.value), 64); err == nil {
			// .inf and .nan have no JSON representation.
			if s := strconv.FormatFloat(f, 'g', -1, 64); s != "+Inf" && s != "-Inf" && s != "NaN" {
				return s, nil
			}
		}
		return quote()
	case kindBool:
		switch strings.ToLower(strings.TrimSpace(e.value)) {
		case "true", "yes", "on":
			return "true", nil
		case "false", "no", "off":
			return "false", nil
		}
		return quote()
	case kindNull:
		return "null", nil
	case kindRaw:
		return e.value, nil
	}
	return quote()
}

// ValidateOnlyKnownKeys fails when cfg contains a key outside allowed.
// Plugins use it so a typo in a mount file surfaces at validate time.
func ValidateOnlyKnownKeys(cfg *Config, allowed []string) error {
	known := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		known[k] = true
	}
	for _, k := range cfg.Keys() {
		if !known[k] {
			return fmt.Errorf("unknown configuration key: %q", k)
		}
	}
	return nil
}
