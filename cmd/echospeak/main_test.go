package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/hub"
	"github.com/teslashibe/echospeak/pkg/notify"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := "[storage]\nbackend = \"file\"\npath = \"" + filepath.Join(dir, "ledger.json") + "\"\n"
	require.NoError(t, writeFile(path, body))
	return path
}

func TestHistory_Empty(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "--mock", "--user", "Sam", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Conversations:   0")
	assert.Contains(t, out, "Next greeting:   Hello Sam! I'm your AI assistant.")
}

func TestHistory_JSON(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "--mock", "history", "--json")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.EqualValues(t, 0, report["total_conversations"])
	assert.Equal(t, "Hello! I'm your AI assistant. How can I help you today?", report["next_greeting"])
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.toml"), "history")
	assert.Error(t, err)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	con := &console{out: &buf, raw: true}

	con.event(hub.NewEvent(hub.EventTurn, conversation.NewTurn(conversation.RoleUser, "hi there")))
	con.event(hub.NewEvent(hub.EventNotification, notify.Notification{Level: notify.LevelWarning, Message: "No speech detected. Please try again."}))
	con.event(hub.NewEvent(hub.EventLevel, 0.3))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "you       > hi there", lines[0])
	assert.Equal(t, "[warning] No speech detected. Please try again.", lines[1])
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
