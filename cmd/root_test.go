package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags(t *testing.T) {
	t.Helper()
	orig := []interface{}{configPath, namespace, localPort, probePath, probeTimeoutSeconds, verbosity, requestLogPath, requestLogVerbosity}
	t.Cleanup(func() {
		configPath = orig[0].(string)
		namespace = orig[1].(string)
		localPort = orig[2].(uint16)
		probePath = orig[3].(string)
		probeTimeoutSeconds = orig[4].(uint64)
		verbosity = orig[5].(int)
		requestLogPath = orig[6].(string)
		requestLogVerbosity = orig[7].(int)
	})
	configPath = ""
	namespace = "default"
	localPort = 0
	probePath = ""
	probeTimeoutSeconds = 0
	verbosity = 0
	requestLogPath = ""
	requestLogVerbosity = 0
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", rootCmd.Version)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "kpfgw [kind/name:port]", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestBuildSessionConfigsSingleResource(t *testing.T) {
	resetFlags(t)
	namespace = "monitoring"
	probePath = "/healthz"
	probeTimeoutSeconds = 2
	verbosity = 3

	configs, err := buildSessionConfigs([]string{"pod/web:8080"}, false)
	require.NoError(t, err)
	require.Len(t, configs, 1)

	cfg := configs[0]
	assert.Equal(t, "pod/web", cfg.Key())
	assert.EqualValues(t, 8080, cfg.LocalPort, "local port defaults to the remote port")
	assert.Equal(t, "monitoring", cfg.Namespace)
	assert.Equal(t, "/healthz", cfg.ProbePath)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 3, cfg.Verbosity)
}

func TestBuildSessionConfigsExplicitLocalPort(t *testing.T) {
	resetFlags(t)
	localPort = 9000

	configs, err := buildSessionConfigs([]string{"service/db:5432"}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 9000, configs[0].LocalPort)
}

func TestBuildSessionConfigsErrors(t *testing.T) {
	t.Run("no input", func(t *testing.T) {
		resetFlags(t)
		_, err := buildSessionConfigs(nil, false)
		assert.Error(t, err)
	})
	t.Run("locator and config together", func(t *testing.T) {
		resetFlags(t)
		configPath = "forwards.json"
		_, err := buildSessionConfigs([]string{"pod/web:8080"}, false)
		assert.Error(t, err)
	})
	t.Run("bad locator", func(t *testing.T) {
		resetFlags(t)
		_, err := buildSessionConfigs([]string{"not-a-locator"}, false)
		assert.Error(t, err)
	})
	t.Run("unsupported kind", func(t *testing.T) {
		resetFlags(t)
		_, err := buildSessionConfigs([]string{"deployment/app:8080"}, false)
		assert.Error(t, err)
	})
}

func TestBuildSessionConfigsFromDocument(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "forwards.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"forwards": [
			{"resource": "pod/web:8080"},
			{"resource": "service/db:5432", "local_port": 15432}
		],
		"verbose": 2
	}`), 0644))
	configPath = path

	configs, err := buildSessionConfigs(nil, false)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, 2, configs[0].Verbosity, "document verbose applies when the flag is absent")
	assert.EqualValues(t, 15432, configs[1].LocalPort)
}

func TestVerboseFlagBeatsDocument(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "forwards.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"forwards": [{"resource": "pod/web:8080"}],
		"verbose": 3
	}`), 0644))
	configPath = path
	verbosity = 1

	configs, err := buildSessionConfigs(nil, true)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, 1, configs[0].Verbosity)
}
