package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/paperfs/internal/tokenfile"
)

func TestWhoami_NotSignedIn(t *testing.T) {
	cfgPath, _ := testEnv(t, "[onedrive]\nclient_id = \"app\"\n")

	_, err := execute(t, "--config", cfgPath, "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}

func TestWhoami_RefusesWhileLocked(t *testing.T) {
	cfgPath, statePath := testEnv(t, "[onedrive]\nclient_id = \"app\"\n")

	unlock, err := tokenfile.Lock(statePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unlock() })

	_, err = execute(t, "--config", cfgPath, "whoami")
	require.ErrorIs(t, err, errServerRunning)
}

func TestPrintWhoami(t *testing.T) {
	t.Cleanup(func() { flagJSON = false })

	out := whoamiOutput{ID: "u1", DisplayName: "Ada", Email: "ada@example.com"}

	var buf bytes.Buffer
	require.NoError(t, printWhoami(&buf, out))
	assert.Equal(t, "User: Ada (ada@example.com)\nID:   u1\n", buf.String())

	flagJSON = true
	buf.Reset()
	require.NoError(t, printWhoami(&buf, out))

	var got whoamiOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, out, got)
}
