package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MinYear  int    `json:"min_year"`
}

func writeFile(t *testing.T, path, contents string) {
	err := os.WriteFile(path, []byte(contents), 0600)
	require.NoError(t, err)
}

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "invoicefetch.json5")

	_, err := ReadConfig[testConfig](name)
	require.ErrorIs(t, err, os.ErrNotExist)

	writeFile(t, name, `{
		// credentials live in the local override
		username: "alice@example.com",
		min_year: 2020,
	}`)

	cfg, err := ReadConfig[testConfig](name)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", cfg.Username)
	require.Equal(t, 2020, cfg.MinYear)
	require.Equal(t, "", cfg.Password)

	writeFile(t, filepath.Join(dir, "invoicefetch.local.json5"), `{
		password: "hunter2",
		min_year: 2022,
	}`)

	cfg, err = ReadConfig[testConfig](name)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", cfg.Username)
	require.Equal(t, "hunter2", cfg.Password)
	require.Equal(t, 2022, cfg.MinYear)
}

func TestReadConfigLocalOnly(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "invoicefetch.local.json5"), `{
		username: "bob@example.com",
	}`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "invoicefetch.json5"))
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", cfg.Username)
}
