package cmd

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/cmdbook/api"
	"github.com/jmcleod/cmdbook/auth"
	"github.com/jmcleod/cmdbook/client"
	"github.com/jmcleod/cmdbook/crypto"
	"github.com/jmcleod/cmdbook/internal/config"
	"github.com/jmcleod/cmdbook/monitor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenRepository(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendBbolt, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{Backend: backend, DataDir: filepath.Join(t.TempDir(), "data")}
			repo, closer, err := openRepository(t.Context(), cfg)
			require.NoError(t, err)
			defer closer.Close()

			keys, err := auth.DeriveKeys(bytes.Repeat([]byte{7}, 32))
			require.NoError(t, err)
			creds, err := auth.NewCredentialStore(repo, keys.Credential)
			require.NoError(t, err)
			state, err := creds.Load(t.Context())
			require.NoError(t, err)
			assert.False(t, state.Present)
		})
	}
}

func TestStorageKeys(t *testing.T) {
	cfg := &config.Config{ArtifactPassphrase: crypto.DefaultArtifactPassphrase}
	derived1, err := storageKeys(cfg, discardLogger())
	require.NoError(t, err)
	derived2, err := storageKeys(cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, derived1.Credential, derived2.Credential, "derived keys must be stable across restarts")

	cfg.StorageKey = strings.Repeat("01", 32)
	explicit, err := storageKeys(cfg, discardLogger())
	require.NoError(t, err)
	assert.NotEqual(t, derived1.Credential, explicit.Credential)
}

func TestApplyServerFlags(t *testing.T) {
	cfg := &config.Config{ListenAddr: ":8080", Backend: config.BackendBbolt}
	require.NoError(t, serverCmd.Flags().Set("listen", ":9999"))
	t.Cleanup(func() {
		serverCmd.Flags().Set("listen", ":8080")
		serverCmd.Flags().Lookup("listen").Changed = false
	})

	applyServerFlags(serverCmd, cfg)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, config.BackendBbolt, cfg.Backend, "unchanged flags keep the environment value")
}

func TestKeyFiles(t *testing.T) {
	dir := t.TempDir()
	path, err := writeKeyFile(filepath.Join(dir, "backup"), "c2VjcmV0")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup.key"), path)

	path, err = writeKeyFile(filepath.Join(dir, "reset.key"), "c2VjcmV0")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reset.key"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	content, err := readKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "c2VjcmV0", content)
}

func TestReadLine(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("first\r\nlast"))
	line, err := readLine(in)
	require.NoError(t, err)
	assert.Equal(t, "first", line)
	line, err = readLine(in)
	require.NoError(t, err)
	assert.Equal(t, "last", line)
	_, err = readLine(in)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPromptNewPasswordMismatch(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("secret1\nsecret2\n"))
	_, err := promptNewPassword(io.Discard, in)
	assert.Error(t, err)
}

// syncBuffer is written by the monitor's timer goroutines and the loop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLoggedInClient(t *testing.T) (*client.Client, *httptest.Server) {
	t.Helper()
	svc, err := newTestService(t)
	require.NoError(t, err)
	srv := httptest.NewServer(api.New(svc, api.WithLogger(discardLogger())).Router())
	t.Cleanup(srv.Close)

	c := client.New(srv.URL)
	require.NoError(t, c.Setup(t.Context(), "secret1"))
	return c, srv
}

func newTestService(t *testing.T) (*auth.Service, error) {
	t.Helper()
	cfg := &config.Config{Backend: config.BackendMemory, ArtifactPassphrase: crypto.DefaultArtifactPassphrase}
	repo, _, err := openRepository(t.Context(), cfg)
	if err != nil {
		return nil, err
	}
	keys, err := storageKeys(cfg, discardLogger())
	if err != nil {
		return nil, err
	}
	creds, err := auth.NewCredentialStore(repo, keys.Credential)
	if err != nil {
		return nil, err
	}
	codec, err := crypto.NewFileCodec(cfg.ArtifactPassphrase)
	if err != nil {
		return nil, err
	}
	return auth.NewService(creds, auth.NewMemorySessionStore(), codec, auth.WithLogger(discardLogger())), nil
}

func TestInteractiveSessionCommands(t *testing.T) {
	c, srv := newLoggedInClient(t)
	token := c.Token()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "mine")

	script := strings.Join([]string{
		"help",
		"validate",
		"reset-key " + keyPath,
		"secret1",
		"bogus",
		"logout",
	}, "\n") + "\n"
	out := &syncBuffer{}
	s := &interactiveSession{
		client: c,
		in:     bufio.NewReader(strings.NewReader(script)),
		out:    out,
		logger: discardLogger(),
	}
	require.NoError(t, s.run(t.Context()))

	text := out.String()
	assert.Contains(t, text, "Commands:")
	assert.Contains(t, text, "Session is valid.")
	assert.Contains(t, text, "Saved "+keyPath+".key")
	assert.Contains(t, text, `Unknown command "bogus"`)
	assert.Contains(t, text, "Logged out.")

	// The reset key works and the session was revoked server-side.
	content, err := readKeyFile(keyPath + ".key")
	require.NoError(t, err)
	other := client.New(srv.URL, client.WithToken(token))
	v, err := other.ValidateSession(t.Context())
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.NoError(t, other.ResetPasswordWithKey(t.Context(), content, "newpass1"))
}

func TestInteractiveSessionInactivity(t *testing.T) {
	c, srv := newLoggedInClient(t)
	token := c.Token()

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	out := &syncBuffer{}
	s := &interactiveSession{
		client: c,
		in:     bufio.NewReader(pr),
		out:    out,
		logger: discardLogger(),
	}

	done := make(chan error, 1)
	go func() {
		done <- s.run(t.Context(),
			monitor.WithInactivityTimeout(20*time.Millisecond),
			monitor.WithWarningDuration(time.Second))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not time out")
	}

	text := out.String()
	assert.Contains(t, text, "Session Expiring")
	assert.Contains(t, text, "Logged out due to inactivity.")

	v, err := client.New(srv.URL, client.WithToken(token)).ValidateSession(t.Context())
	require.NoError(t, err)
	assert.False(t, v.Valid)
}
