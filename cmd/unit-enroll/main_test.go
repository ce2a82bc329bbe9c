package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpApp "github.com/oxygenesis/enrollment/internal/app/http"
	"github.com/oxygenesis/enrollment/internal/config"
	"github.com/oxygenesis/enrollment/internal/service"
	"github.com/oxygenesis/enrollment/internal/testkeys"
)

// stubMain swaps the package stubs and flag state for one test.
func stubMain(t *testing.T, args ...string) (out *bytes.Buffer, exited *bool) {
	t.Helper()
	origStart, origExit, origLoad, origOut := httpStart, osExit, loadConfig, stdout
	origArgs, origCmd := os.Args, flag.CommandLine
	t.Cleanup(func() {
		httpStart, osExit, loadConfig, stdout = origStart, origExit, origLoad, origOut
		os.Args = origArgs
		flag.CommandLine = origCmd
	})

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	os.Args = append([]string{"app"}, args...)

	out = new(bytes.Buffer)
	stdout = out
	exited = new(bool)
	osExit = func(int) { *exited = true }
	httpStart = func(context.Context, service.Service, httpApp.Options, bool) error {
		t.Fatal("httpStart must not be called")
		return nil
	}
	return out, exited
}

func fixtureConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Logs.Level = "none"
	cfg.Enrollment.Endpoint = endpoint

	dir := filepath.Dir(testkeys.WriteFile(t, "id_rsa", testkeys.PrivateKey))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id_rsa.pub"), testkeys.PublicKeySSH, 0o600))
	cfg.Units = []config.Unit{{Name: testkeys.Name, KeysDir: dir}}
	return &cfg
}

func withConfig(cfg *config.Config, err error) func(string) (*config.Config, error) {
	return func(string) (*config.Config, error) { return cfg, err }
}

func enrollEndpoint(t *testing.T, status int) string {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"token":"opaque"}`))
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestMain_Identity(t *testing.T) {
	out, exited := stubMain(t, "-mode=identity", "-config=/x.yml")
	var gotPath string
	cfg := fixtureConfig(t, "http://127.0.0.1:1")
	loadConfig = func(path string) (*config.Config, error) {
		gotPath = path
		return cfg, nil
	}

	main()
	assert.False(t, *exited)
	assert.Equal(t, "/x.yml", gotPath)
	assert.Equal(t, "test-unit@"+testkeys.Fingerprint+"\t"+testkeys.Fingerprint+"\n", out.String())
}

func TestMain_Enroll(t *testing.T) {
	out, exited := stubMain(t, "-mode=enroll")
	loadConfig = withConfig(fixtureConfig(t, enrollEndpoint(t, http.StatusOK)), nil)

	main()
	assert.False(t, *exited)
	assert.Contains(t, out.String(), "enrolled (200)")
}

func TestMain_Token_ReusedAcrossRuns(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"token":"opaque"}`))
	}))
	t.Cleanup(ts.Close)
	cfg := fixtureConfig(t, ts.URL)
	cfg.Enrollment.TokenDir = t.TempDir()

	for run := 0; run < 2; run++ {
		out, exited := stubMain(t, "-mode=token")
		loadConfig = withConfig(cfg, nil)

		main()
		require.False(t, *exited)
		fields := strings.Split(strings.TrimSpace(out.String()), "\t")
		require.Len(t, fields, 3)
		assert.Equal(t, "test-unit@"+testkeys.Fingerprint, fields[0])
		assert.Equal(t, "opaque", fields[1])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.FileExists(t, filepath.Join(cfg.Enrollment.TokenDir, testkeys.Fingerprint+".json"))
}

func TestMain_EnrollRejected_Exits(t *testing.T) {
	_, exited := stubMain(t, "-mode=enroll")
	loadConfig = withConfig(fixtureConfig(t, enrollEndpoint(t, http.StatusForbidden)), nil)

	main()
	assert.True(t, *exited)
}

func TestMain_BrokenUnit_Exits(t *testing.T) {
	_, exited := stubMain(t, "-mode=identity")
	cfg := fixtureConfig(t, "http://127.0.0.1:1")
	cfg.Units = append(cfg.Units, config.Unit{Name: "broken", PrivateKeyPath: testkeys.WriteFile(t, "id_rsa", testkeys.Truncated)})
	loadConfig = withConfig(cfg, nil)

	main()
	assert.True(t, *exited)
}

func TestMain_HTTP(t *testing.T) {
	_, exited := stubMain(t, "-mode=http", "-t")
	cfg := fixtureConfig(t, "http://127.0.0.1:1")
	cfg.Units = append(cfg.Units, config.Unit{Name: "ghost", KeysDir: t.TempDir()})
	loadConfig = withConfig(cfg, nil)

	called := false
	httpStart = func(_ context.Context, svc service.Service, opts httpApp.Options, test bool) error {
		called = true
		assert.True(t, test)
		assert.Equal(t, "127.0.0.1:8666", opts.Addr)
		assert.NotNil(t, opts.Registry)
		units, err := svc.ListUnits()
		require.NoError(t, err)
		assert.Len(t, units, 1)
		return nil
	}

	main()
	assert.True(t, called)
	assert.False(t, *exited)
}

func TestMain_HTTP_Error_Exits(t *testing.T) {
	_, exited := stubMain(t)
	loadConfig = withConfig(fixtureConfig(t, "http://127.0.0.1:1"), nil)
	httpStart = func(context.Context, service.Service, httpApp.Options, bool) error {
		return errors.New("boom")
	}

	main()
	assert.True(t, *exited)
}

func TestMain_ConfigError_Exits(t *testing.T) {
	_, exited := stubMain(t, "-mode=enroll")
	loadConfig = withConfig(nil, errors.New("invalid config"))

	main()
	assert.True(t, *exited)
}

func TestMain_UnsupportedMode_Exits(t *testing.T) {
	_, exited := stubMain(t, "-mode=grpc")
	loadConfig = func(string) (*config.Config, error) {
		t.Fatal("config must not be read for an unsupported mode")
		return nil, nil
	}

	main()
	assert.True(t, *exited)
}
