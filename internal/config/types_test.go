package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("5s")))
	assert.Equal(t, 5*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_Marshal(t *testing.T) {
	d := Duration(5000 * time.Millisecond)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "5s", string(text))

	js, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"5s"`, string(js))
}

func TestSecret_Redacts(t *testing.T) {
	s := Secret("Bearer abc")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "Bearer abc", s.Value())
	assert.True(t, s.IsSet())

	js, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(js))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
