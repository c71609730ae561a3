package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-pinwire/internal/domain"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openai/gpt-4o", cfg.LLM.Default)
	assert.Equal(t, 60*time.Second, cfg.LLM.RequestTimeout())
	assert.Equal(t, 24*time.Hour, cfg.Storage.SessionTTL())
	assert.Equal(t, 15*time.Minute, cfg.Storage.SweepInterval())
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantError    bool
		wantSentinel bool
		check        func(t *testing.T, cfg Config)
	}{
		{
			name: "overrides merge over defaults",
			content: `
server:
  addr: "0.0.0.0:9090"
llm:
  default: anthropic/claude-3-5-sonnet-20241022
  temperature: 0.5
storage:
  path: /tmp/pinwire-test.db
`,
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
				assert.Equal(t, "anthropic/claude-3-5-sonnet-20241022", cfg.LLM.Default)
				assert.Equal(t, 0.5, cfg.LLM.Temperature)
				assert.Equal(t, "/tmp/pinwire-test.db", cfg.Storage.Path)
				// Untouched settings keep their defaults.
				assert.Equal(t, 3, cfg.LLM.MaxRetries)
				assert.Equal(t, 40, cfg.Storage.MaxHistory)
			},
		},
		{
			name: "unknown field rejected",
			content: `
server:
  adddr: "0.0.0.0:9090"
`,
			wantError: true,
		},
		{
			name: "invalid model spec rejected",
			content: `
llm:
  default: just-a-model
`,
			wantError:    true,
			wantSentinel: true,
		},
		{
			name: "invalid log level rejected",
			content: `
logging:
  level: loud
`,
			wantError:    true,
			wantSentinel: true,
		},
		{
			name: "out of range temperature rejected",
			content: `
llm:
  default: openai/gpt-4o
  temperature: 3.5
`,
			wantError:    true,
			wantSentinel: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfigFile(t, tt.content))
			if tt.wantError {
				require.Error(t, err)
				// Parse failures surface as-is; validation failures carry
				// the configuration sentinel.
				if tt.wantSentinel {
					assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
				}
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
