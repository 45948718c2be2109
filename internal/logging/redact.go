// internal/logging/redact.go
package logging

import (
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/otelboot/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Secret creates a Zap field that records only the length of a secret.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}

type headersMarshaler map[string]config.Secret

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (h headersMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc.AddString(k, "[REDACTED:"+strconv.Itoa(len(h[k].Value()))+"]")
	}
	return nil
}

// Headers logs exporter headers with every value redacted.
func Headers(key string, headers map[string]config.Secret) zap.Field {
	return zap.Object(key, headersMarshaler(headers))
}
