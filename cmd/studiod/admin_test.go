package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.00", formatCents(0))
	assert.Equal(t, "15.00", formatCents(1500))
	assert.Equal(t, "1,234.05", formatCents(123405))
	assert.Equal(t, "-2.50", formatCents(-250))
}

func TestExitCode(t *testing.T) {
	var err error = exitCode(exitRestart)
	code, ok := err.(exitCode)
	require.True(t, ok)
	assert.Equal(t, 75, int(code))
	assert.Equal(t, "exit status 75", err.Error())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	cmd := migrateCmd()
	cmd.SetArgs([]string{"down", "zero"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid step count")
}
