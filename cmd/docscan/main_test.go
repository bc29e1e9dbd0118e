package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUser(t *testing.T) {
	id := uuid.New()

	got, err := parseUser(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	t.Setenv("DOCSCAN_USER", id.String())
	got, err = parseUser("")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = parseUser("alice")
	assert.Error(t, err)

	t.Setenv("DOCSCAN_USER", "")
	_, err = parseUser("")
	assert.ErrorContains(t, err, "--user is required")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Quarterly...", truncate("Quarterly report 2024", 12))
	assert.Equal(t, "Счёт-фа...", truncate("Счёт-фактура", 10))
}

func TestRootCommandTree(t *testing.T) {
	for _, name := range []string{"migrate", "ingest", "rerun", "list", "scan", "recover", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("no-color"))
}
