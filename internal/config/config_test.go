package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load()
	req.NoError(err)
	req.Equal(":8080", cfg.Port)
	req.Equal(int64(32768), cfg.MaxMessageSize)
	req.Equal(256, cfg.SendBufferSize)
	req.Equal(20, cfg.RateLimitBurst)
	req.Equal(time.Second, cfg.RateLimitRefill)
	req.False(cfg.AuthRequired)
	req.Equal([]string{"http://localhost:8080"}, cfg.Origins())
}

func TestLoadFromEnvironment(t *testing.T) {
	req := require.New(t)

	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://mundotango.life, https://staging.mundotango.life")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "500ms")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(":9090", cfg.Port)
	req.Equal(int64(1024), cfg.MaxMessageSize)
	req.Equal(500*time.Millisecond, cfg.RateLimitRefill)
	req.Equal([]string{"https://mundotango.life", "https://staging.mundotango.life"}, cfg.Origins())
}

// A maximal valid send-message frame must fit under the default read limit,
// so an oversized-but-valid message gets a validation ack instead of a
// dropped connection.
func TestDefaultReadLimitFitsMaximalMessageFrame(t *testing.T) {
	req := require.New(t)

	cfg, err := Load()
	req.NoError(err)

	// Worst case: every content character requires a six-byte \u00XX escape.
	payload := map[string]any{
		"senderId":    int64(1) << 62,
		"recipientId": int64(1) << 62,
		"content":     strings.Repeat("\x01", 4000),
	}
	frame, err := json.Marshal(map[string]any{"event": "send-message", "data": payload})
	req.NoError(err)
	req.LessOrEqual(int64(len(frame)), cfg.MaxMessageSize)
}

func TestAuthRequiredNeedsSecret(t *testing.T) {
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestSanitizeRejectsBadValues(t *testing.T) {
	req := require.New(t)

	cfg := Config{Port: "8081", MaxMessageSize: -1, RateLimitBurst: 0}
	cfg.sanitize()
	req.Equal(":8081", cfg.Port)
	req.Equal(int64(32768), cfg.MaxMessageSize)
	req.Equal(20, cfg.RateLimitBurst)
	req.Equal(time.Second, cfg.RateLimitRefill)
}
