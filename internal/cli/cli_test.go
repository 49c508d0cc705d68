package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/licrm/internal/drain"
	"github.com/Dicklesworthstone/licrm/internal/steam"
)

type fakeClient struct {
	mu    sync.Mutex
	codes []int
	calls []string
	creds []drain.Credential
	page  string
}

func (f *fakeClient) SubmitRemoval(ctx context.Context, id string, cred drain.Credential) (drain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.creds = append(f.creds, cred)
	code := 1
	if len(f.codes) > 0 {
		code, f.codes = f.codes[0], f.codes[1:]
	}
	return drain.Response{Success: code}, nil
}

func (f *fakeClient) FetchLicensesPage(ctx context.Context, cred drain.Credential) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.page)), nil
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func useClient(t *testing.T, f *fakeClient) {
	t.Helper()
	old := newSteamClient
	newSteamClient = func(steam.Config) steamClient { return f }
	t.Cleanup(func() { newSteamClient = old })
}

func noPrompt(t *testing.T) {
	t.Helper()
	old := sessionPrompt
	sessionPrompt = func(io.Writer) promptFunc { return nil }
	t.Cleanup(func() { sessionPrompt = old })
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"LICRM_SESSION_ID", "LICRM_LOGIN_SECURE", "LICRM_LOG_LEVEL", "LICRM_LOG_FORMAT", "LICRM_LOG_FILE", "NO_COLOR"} {
		t.Setenv(k, "")
	}

	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	_ = closeLog()
	return stdout.String(), stderr.String(), err
}

const page = `<html><body>
<div class="free_license_remove_link"><a href="javascript:RemoveFreeLicense( 11, 'A' );">Remove</a></div>
<div class="free_license_remove_link"><a href="javascript:RemoveFreeLicense( 22, 'B' );">Remove</a></div>
</body></html>`

func TestRun_DrainsArgs(t *testing.T) {
	f := &fakeClient{}
	useClient(t, f)
	noPrompt(t)

	stdout, _, err := execute(t, "run", "1", "2", "3", "--session-id", "sess", "--retry-delay", "1ms")
	require.NoError(t, err)

	assert.Equal(t, []string{"3", "2", "1"}, f.Calls(), "last id first")
	assert.Equal(t, drain.Credential("sess"), f.creds[0])
	assert.Contains(t, stdout, "Removed 1 of 3 licenses (success code: 1)")
	assert.Contains(t, stdout, "All 3 licenses removed!")
	assert.Contains(t, stdout, "Outcome:    drained")
	assert.Contains(t, stdout, "Removed:    3 of 3")
	assert.NotContains(t, stdout, "\x1b[", "buffers get no color")
}

func TestRun_ThrottleThenResume(t *testing.T) {
	f := &fakeClient{codes: []int{1, 84, 8}}
	useClient(t, f)
	noPrompt(t)

	stdout, _, err := execute(t, "run", "C", "B", "A", "--session-id", "s", "--retry-delay", "1ms", "--cooldown", "20ms")
	require.Error(t, err, "non-numeric ids are rejected")
	assert.Empty(t, f.Calls())
	assert.Empty(t, stdout)

	stdout, _, err = execute(t, "run", "30", "20", "10", "--session-id", "s", "--retry-delay", "1ms", "--cooldown", "20ms")
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20", "20", "30"}, f.Calls())
	assert.Contains(t, stdout, "Cooldown detected on license 20!")
	assert.Contains(t, stdout, "Cooldown period finished")
	assert.Contains(t, stdout, "(1 throttled, 0 failed)")
}

func TestRun_JSONOutput(t *testing.T) {
	f := &fakeClient{}
	useClient(t, f)
	noPrompt(t)

	stdout, _, err := execute(t, "run", "5", "--session-id", "s", "--output", "json", "--retry-delay", "1ms")
	require.NoError(t, err)

	first := strings.SplitN(stdout, "\n", 2)[0]
	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(first), &ev))
	assert.Equal(t, "success", ev["kind"])
	assert.Contains(t, stdout, `"outcome": "drained"`)
}

func TestRun_SourcesMerged(t *testing.T) {
	f := &fakeClient{page: page}
	useClient(t, f)
	noPrompt(t)

	dir := t.TempDir()
	idsFile := filepath.Join(dir, "ids.txt")
	require.NoError(t, os.WriteFile(idsFile, []byte("# mine\n7\n11\n"), 0o600))

	_, _, err := execute(t, "run", "3", "--ids-file", idsFile, "--fetch", "--session-id", "s", "--retry-delay", "1ms")
	require.NoError(t, err)
	assert.Equal(t, []string{"22", "11", "7", "3"}, f.Calls())
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no session", []string{"run", "1"}, "no session id"},
		{"no source", []string{"run", "--session-id", "s"}, "no license source"},
		{"bad output", []string{"run", "1", "--session-id", "s", "--output", "xml"}, "--output must be one of"},
		{"bad cooldown", []string{"run", "1", "--session-id", "s", "--cooldown", "0s"}, "--cooldown must be positive"},
		{"missing file", []string{"run", "--session-id", "s", "--ids-file", "/nonexistent/ids"}, "no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeClient{}
			useClient(t, f)
			noPrompt(t)

			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, f.Calls())
		})
	}
}

func TestRun_SessionFromPrompt(t *testing.T) {
	f := &fakeClient{}
	useClient(t, f)
	old := sessionPrompt
	sessionPrompt = func(io.Writer) promptFunc {
		return func(string) (string, error) { return " typed \n", nil }
	}
	t.Cleanup(func() { sessionPrompt = old })

	_, _, err := execute(t, "run", "1", "--retry-delay", "1ms")
	require.NoError(t, err)
	assert.Equal(t, drain.Credential("typed"), f.creds[0])
}

func TestScan(t *testing.T) {
	f := &fakeClient{page: page}
	useClient(t, f)

	pagePath := filepath.Join(t.TempDir(), "licenses.html")
	require.NoError(t, os.WriteFile(pagePath, []byte(page), 0o600))

	stdout, _, err := execute(t, "scan", "--page", pagePath)
	require.NoError(t, err)
	assert.Equal(t, "11\n22\n", stdout)

	stdout, _, err = execute(t, "scan", "--page", pagePath, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		IDs   []string `json:"ids"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, []string{"11", "22"}, resp.IDs)
	assert.Equal(t, 2, resp.Count)

	stdout, _, err = execute(t, "scan", "--fetch", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "count: 2")

	assert.Empty(t, f.Calls(), "scan never removes")
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)

	stdout, _, err = execute(t, "--json", "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"version": "`+Version+`"`)
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[steam]\nsession_id = \"super-secret\"\n"), 0o600))

	stdout, _, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "super-secret")
	assert.Contains(t, stdout, `session_id = "<redacted>"`)
}

func TestConfigPath(t *testing.T) {
	stdout, _, err := execute(t, "--config", "/etc/licrm.toml", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, "/etc/licrm.toml\n", stdout)
}

func TestInvalidConfigIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[policy]\nthrottle_code = 1\n"), 0o600))

	_, _, err := execute(t, "--config", path, "scan", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "also a success code")
}

func TestResolveSession(t *testing.T) {
	asked := false
	ask := func(string) (string, error) { asked = true; return "", errors.New("no tty") }

	cred, err := resolveSession("", "from-config", ask)
	require.NoError(t, err)
	assert.Equal(t, drain.Credential("from-config"), cred)
	assert.False(t, asked)

	cred, err = resolveSession("flag", "from-config", ask)
	require.NoError(t, err)
	assert.Equal(t, drain.Credential("flag"), cred)

	_, err = resolveSession("", "", ask)
	assert.Error(t, err)
	assert.True(t, asked)
}
