package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"campuslib/internal/config"
	"campuslib/internal/httpapi"
	"campuslib/internal/store/storetest"
)

type harness struct {
	t       *testing.T
	server  string
	session string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	app, err := httpapi.NewApp(config.Default(), storetest.New(t), httpapi.Infra{}, logger)
	require.NoError(t, err)
	_, err = app.Membership.EnsureLibrarian(context.Background(), "acervo@uni.test", "estante-secreta")
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.NewRouter(app, logger))
	t.Cleanup(srv.Close)
	return &harness{t: t, server: srv.URL, session: filepath.Join(t.TempDir(), "session.json")}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", h.server, "--session", h.session}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestLibrarianSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("items", "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")

	t.Setenv("CAMPUSLIB_PASSWORD", "estante-secreta")
	out, err := h.run("login", "--email", "acervo@uni.test")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as Librarian (librarian)")

	s, err := loadSession(h.session)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, h.server, s.Server)

	out, err = h.run("items", "add", "--isbn", "9788572326972", "--title", "Helena",
		"--author", "Machado de Assis", "--genre", "Romance", "--copies", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `Added "Helena"`)

	out, err = h.run("items", "search", "Helena")
	require.NoError(t, err)
	assert.Contains(t, out, "Helena")
	assert.Contains(t, out, "2/2")

	out, err = h.run("loans", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total 0")

	out, err = h.run("admin", "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "invariants hold")

	out, err = h.run("admin", "sweep")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"))

	_, err = h.run("logout")
	require.NoError(t, err)
	_, err = h.run("loans", "list")
	require.Error(t, err)
}

func TestLoadSessionMissingFile(t *testing.T) {
	s, err := loadSession(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Empty(t, s.Token)
}

func TestSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	want := &session{Server: "http://localhost:8080", Token: "abc.def.ghi", UserID: uuid.New(), Role: "student"}
	require.NoError(t, want.save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), want.UserID.String())

	got, err := loadSession(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = loadSession(path)
	assert.ErrorContains(t, err, "corrupt session file")
}
