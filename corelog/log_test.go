package corelog

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDisabledLoggerIsSilent(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	SetLogger(l.Level(zerolog.Disabled))
	defer SetLogger(zerolog.New(&buf).Level(zerolog.Disabled))

	Warn("should not appear")
	Error("should not appear either", "k", "v")
	require.Empty(t, buf.String())
}

func TestWarnAndErrorEmitKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	Warn("pool saturated", "worker", 3, "fd", 42)
	require.Contains(t, buf.String(), "pool saturated")
	require.Contains(t, buf.String(), "\"worker\":3")
	require.Contains(t, buf.String(), "\"fd\":42")

	Error("registration failed", "op", "add")
	require.Contains(t, buf.String(), "registration failed")
	require.Contains(t, buf.String(), "\"op\":\"add\"")
}

func TestEventIgnoresOddTrailingKey(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	Warn("dangling key", "onlykey")
	require.Contains(t, buf.String(), "dangling key")
	require.NotContains(t, buf.String(), "onlykey")
}
