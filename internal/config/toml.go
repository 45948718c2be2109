package config

import (
	"bytes"

	"github.com/BurntSushi/toml"
)

// TOMLParser implements koanf.Parser on top of BurntSushi/toml.
type TOMLParser struct{}

// TOML returns a TOML parser for koanf.
func TOML() *TOMLParser {
	return &TOMLParser{}
}

// Unmarshal parses TOML bytes into a nested map.
func (p *TOMLParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal encodes a nested map as TOML.
func (p *TOMLParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
