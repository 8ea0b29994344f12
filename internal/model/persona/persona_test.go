package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())
	require.Equal(t, "Advogado", p.UserLabel)
	require.Equal(t, "Maia", p.AssistantLabel)
}

func TestLoadFileEmptyPathReturnsDefault(t *testing.T) {
	p, err := LoadFile("")
	require.NoError(t, err)
	require.Equal(t, Default(), p)
}

func TestLoadFileOverridesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	body := "name: Lia\nassistant_label: Lia\npreamble: |\n  Você é Lia, assistente de direito tributário.\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Lia", p.Name)
	require.Equal(t, "Lia", p.AssistantLabel)
	require.Equal(t, "Advogado", p.UserLabel)
	require.Equal(t, "Você é Lia, assistente de direito tributário.", p.Preamble)
}

func TestLoadFileRejectsBlankLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_label: \"\"\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
