package run

import (
	"context"
	"fmt"
	"testing"

	"github.com/ridge/ddp/tlog"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	config, err := parseConfig(newFlagSet("test"), nil)
	require.NoError(t, err)
	require.Equal(t, tlog.Config{Format: tlog.FormatText, Color: tlog.ColorAuto}, config)
}

func TestParseConfig(t *testing.T) {
	config, err := parseConfig(newFlagSet("test"), []string{"--log-format=json", "--log-color=no", "-v", "--url=ws://unrelated"})
	require.NoError(t, err)
	require.Equal(t, tlog.Config{Format: tlog.FormatJSON, Color: tlog.ColorNo, Verbose: true}, config)
}

func TestParseConfigInvalid(t *testing.T) {
	_, err := parseConfig(newFlagSet("test"), []string{"--log-format=xml"})
	require.Error(t, err)
	_, err = parseConfig(newFlagSet("test"), []string{"--log-color=maybe"})
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, 1, exitCode(context.Canceled))
	require.Equal(t, 3, exitCode(ExitCode(3)))
	require.Equal(t, 4, exitCode(fmt.Errorf("wrapped: %w", ExitCode(4))))
}
