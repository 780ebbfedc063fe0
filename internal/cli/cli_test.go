package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/arguana-embed/internal/embeddings"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func currentModel(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 1 && fields[0] == "*" {
			return fields[1]
		}
	}
	t.Fatalf("no current model in output:\n%s", output)
	return ""
}

func TestModelsCommand(t *testing.T) {
	out, err := runCommand(t, "models")
	require.NoError(t, err)

	for _, name := range embeddings.FamilyNames() {
		assert.Contains(t, out, name)
	}
	assert.Equal(t, "e5", currentModel(t, out))
}

func TestConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  name: simcse\n  devices: cpu\n"), 0o644))

	t.Run("config file", func(t *testing.T) {
		out, err := runCommand(t, "models", "--config", path)
		require.NoError(t, err)
		assert.Equal(t, "simcse", currentModel(t, out))
	})

	t.Run("flag overrides file", func(t *testing.T) {
		out, err := runCommand(t, "models", "--config", path, "--model", "specterv2")
		require.NoError(t, err)
		assert.Equal(t, "specterv2", currentModel(t, out))
	})
}

func TestInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown model", []string{"models", "--model", "word2vec"}},
		{"bad devices", []string{"models", "--devices", "gpu-zero"}},
		{"bad batch size", []string{"models", "--batch-size", "-4"}},
		{"missing config file", []string{"models", "--config", filepath.Join(t.TempDir(), "absent.yaml")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCommand(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestEmbedCommandArgs(t *testing.T) {
	t.Run("needs an input", func(t *testing.T) {
		_, err := runCommand(t, "embed")
		assert.Error(t, err)
	})

	t.Run("needs a destination", func(t *testing.T) {
		_, err := runCommand(t, "embed", "texts.csv")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--output")
	})

	t.Run("input must exist", func(t *testing.T) {
		_, err := runCommand(t, "embed", filepath.Join(t.TempDir(), "missing.csv"), "-o", filepath.Join(t.TempDir(), "out.jsonl"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input file")
	})
}

func TestProbeOnCPU(t *testing.T) {
	out, err := runCommand(t, "probe", "unused.csv", "--devices", "cpu")
	require.NoError(t, err)
	assert.Contains(t, out, "batch size 1")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "arguana-embed "+Version)
}

func TestProgressReporter(t *testing.T) {
	t.Run("draws and finishes", func(t *testing.T) {
		var buf bytes.Buffer
		p := newProgressReporter(&buf, "Embedding", false)
		p.Update(2, 4)
		p.Update(2, 4)
		p.Update(4, 4)
		p.Finish()
		assert.Contains(t, buf.String(), "Embedding")
		assert.Equal(t, 4, p.shown)
	})

	t.Run("quiet draws nothing", func(t *testing.T) {
		var buf bytes.Buffer
		p := newProgressReporter(&buf, "Embedding", true)
		p.Update(1, 2)
		p.Finish()
		assert.Empty(t, buf.String())
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short text", truncate("short \n text", 20))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
