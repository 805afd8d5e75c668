package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()

	f := cmd.Flags().Lookup("config")
	require.NotNil(t, f)
	require.Equal(t, "c", f.Shorthand)

	require.NoError(t, cmd.Flags().Parse([]string{"-c", "/etc/craftrouter.yaml", "--log-level", "debug"}))
	require.Equal(t, "/etc/craftrouter.yaml", configFile)
	require.Equal(t, "debug", logLevel)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
}
