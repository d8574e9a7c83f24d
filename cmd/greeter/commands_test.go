package main

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/greeter/pkg/api"
	"github.com/tcmartin/greeter/pkg/config"
	"github.com/tcmartin/greeter/pkg/logging"
)

func TestMain(m *testing.M) {
	// Keep stray config files in the working directory out of these tests.
	configLocations = nil
	os.Exit(m.Run())
}

// captureStdout redirects os.Stdout to a pipe until the returned function is
// called, which restores it and returns everything written.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w

	done := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(r)
		done <- string(data)
	}()

	return func() string {
		os.Stdout = orig
		w.Close()
		out := <-done
		r.Close()
		return out
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func parseServeFlags(t *testing.T, args ...string) (*cobra.Command, *serveOptions) {
	t.Helper()
	opts := &serveOptions{}
	cmd := &cobra.Command{Use: "serve"}
	addServeFlags(cmd, opts)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, opts
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "greeter version 0.1.0\n", out)
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "greeter.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestProbeCommand(t *testing.T) {
	server := httptest.NewServer(api.NewServer(config.DefaultConfig(), logging.Nop()).Handler())
	defer server.Close()

	out, err := execute(t, "probe", "--server", server.URL)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMessage+"\n", out)
}

func TestProbeCommandVerbose(t *testing.T) {
	server := httptest.NewServer(api.NewServer(config.DefaultConfig(), logging.Nop()).Handler())
	defer server.Close()

	out, err := execute(t, "probe", "--server", server.URL, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "status=200 duration=")
	assert.True(t, strings.HasSuffix(out, config.DefaultMessage+"\n"))
}

func TestProbeCommandUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := execute(t, "probe", "--server", server.URL, "--timeout", "1s")
	assert.Error(t, err)
}

func TestResolveConfigDefaults(t *testing.T) {
	cmd, opts := parseServeFlags(t)

	cfg, err := resolveConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, config.DefaultMessage, cfg.Greeting.Message)
}

func TestResolveConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	fileCfg := config.DefaultConfig()
	fileCfg.Server.Port = 4000
	fileCfg.Server.Host = "filehost"
	fileCfg.Greeting.Message = "from file"
	require.NoError(t, config.SaveConfig(fileCfg, path))

	t.Setenv("GREETER_PORT", "5000")
	t.Setenv("GREETER_MESSAGE", "from env")

	cmd, opts := parseServeFlags(t, "--config", path, "--port", "6000")

	cfg, err := resolveConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "filehost", cfg.Server.Host)
	assert.Equal(t, "from env", cfg.Greeting.Message)
	assert.Equal(t, 6000, cfg.Server.Port)
}

func TestResolveConfigErrors(t *testing.T) {
	cmd, opts := parseServeFlags(t, "--config", filepath.Join(t.TempDir(), "missing.json"))
	_, err := resolveConfig(cmd, opts)
	assert.ErrorContains(t, err, "failed to load config")

	cmd, opts = parseServeFlags(t, "--port", "70000")
	_, err = resolveConfig(cmd, opts)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestServeUntilInterrupt(t *testing.T) {
	port := freePort(t)
	stdout := captureStdout(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := execute(t, "serve", "--host", "127.0.0.1", "--port", strconv.Itoa(port))
		errCh <- err
	}()

	target := fmt.Sprintf("http://127.0.0.1:%d/", port)
	var resp *http.Response
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(target)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		stdout()
		t.Fatalf("server never became reachable: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, config.DefaultMessage, string(body))

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case err = <-errCh:
	case <-time.After(15 * time.Second):
		stdout()
		t.Fatal("serve did not return after SIGINT")
	}
	out := stdout()

	assert.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, fmt.Sprintf("Example app listening on port %d", port)))
	assert.Equal(t, 1, strings.Count(out, api.AccessMessage))
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestServeBindFailure(t *testing.T) {
	busy := httptest.NewServer(http.NotFoundHandler())
	defer busy.Close()
	u, err := url.Parse(busy.URL)
	require.NoError(t, err)

	stdout := captureStdout(t)
	_, err = execute(t, "serve", "--host", "127.0.0.1", "--port", u.Port())
	out := stdout()

	assert.ErrorContains(t, err, "failed to listen")
	assert.Empty(t, out)
}
