package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedactionSensitiveFields(t *testing.T) {
	t.Parallel()

	for _, key := range []string{
		"secret", "passphrase", "password", "plaintext", "private_key",
		"key_material", "attr_val", "token", "kek", "dek", "Secret", "new_secret", "gnupg.passphrase",
	} {
		out := logSingleField(t, key, "hunter2")
		require.Equalf(t, "[REDACTED]", out[key], "key %q", key)
	}
}

func TestNonSensitiveFieldsPassThrough(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"target", "recipient", "path", "secrets_count"} {
		out := logSingleField(t, key, "Test4")
		require.Equalf(t, "Test4", out[key], "key %q", key)
	}
}

func TestRedactionInsideGroupsAndWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRedactingHandler(base)).With("passphrase", "p4ss", "vault", "v.gpg")
	logger.Info("rotate", slog.Group("credential", slog.String("secret", "s3cret"), slog.String("user", "alice")))

	line := buf.String()
	require.NotContains(t, line, "p4ss")
	require.NotContains(t, line, "s3cret")
	require.Contains(t, line, "alice")
	require.Contains(t, line, "v.gpg")
}

type leakyValue struct{}

func (leakyValue) LogValue() slog.Value {
	return slog.GroupValue(slog.String("secret", "from-valuer"))
}

func TestRedactionResolvesLogValuers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("entry", "credential", leakyValue{})
	require.NotContains(t, buf.String(), "from-valuer")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"info":  slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestNewWritesRedactedJSONToFile(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "logs", "gpgvault.log")
	logger, closer, err := New(Options{Level: "debug", File: logPath})
	require.NoError(t, err)

	logger.Debug("vault opened", "path", "/tmp/v.gpg", "passphrase", "hunter2")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "hunter2")

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &out))
	require.Equal(t, "vault opened", out["msg"])
	require.Equal(t, "[REDACTED]", out["passphrase"])
}

func TestNewFallbackAndDiscard(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Fallback: &buf})
	require.NoError(t, err)
	logger.Info("quiet")
	logger.Warn("loud", "secret", "x1")
	require.NoError(t, closer.Close())
	require.False(t, strings.Contains(buf.String(), "quiet"))
	require.Contains(t, buf.String(), "loud")
	require.Contains(t, buf.String(), "secret=[REDACTED]")

	logger, closer, err = New(Options{})
	require.NoError(t, err)
	logger.Error("nowhere")
	require.NoError(t, closer.Close())

	_, _, err = New(Options{Level: "chatty"})
	require.Error(t, err)
}

func TestLogRotationCreatesNewFileAfterLimit(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, "gpgvault.log")

	writer, err := NewRotatingWriter(RotationConfig{File: logPath, MaxSizeMB: 1, MaxFiles: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	chunk := bytes.Repeat([]byte("a"), 512*1024)
	for i := 0; i < 5; i++ {
		_, err = writer.Write(chunk)
		require.NoError(t, err)
	}

	files, err := filepath.Glob(filepath.Join(logDir, "gpgvault*"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
}

func TestLogRotationRetainsMaxFiles(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, "gpgvault.log")

	writer, err := NewRotatingWriter(RotationConfig{File: logPath, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	chunk := bytes.Repeat([]byte("b"), 1024*1024)
	for i := 0; i < 8; i++ {
		_, err := writer.Write(chunk)
		require.NoError(t, err)
	}

	// lumberjack prunes old backups on a background goroutine.
	require.Eventually(t, func() bool {
		backups, err := filepath.Glob(filepath.Join(logDir, "gpgvault-*"))
		return err == nil && len(backups) <= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewRotatingWriter(RotationConfig{})
	require.Error(t, err)
}

func logSingleField(t *testing.T, key, value string) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRedactingHandler(base))
	logger.Info("test", key, value)

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	return out
}
