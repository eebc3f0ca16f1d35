package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput("debug", "json", &buf)
	require.NoError(t, err)
	l.WithField("session_id", "s1").Debug("state")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "s1", m["session_id"])
	assert.Equal(t, "state", m["msg"])
}

func TestNewWithOutput_Invalid(t *testing.T) {
	_, err := NewWithOutput("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = NewWithOutput("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)

	l, err := NewWithOutput("", "", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "info", l.GetLevel().String())
}
