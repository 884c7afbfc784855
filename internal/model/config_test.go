package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
service:
  log: stderr
  listen: "127.0.0.1:9000"
  retention: PT10M
  buffer: 64
  sweep:
    duration: PT15S
  auth:
    type: static_token
    token: ABC123
  nats:
    enabled: true
    url: nats://nats:4222
jobs:
  title-generation:
    path: /usr/bin/python3
    args:
      - generate_titles.py
    dir: /srv/media
    env:
      LANG: C.UTF-8
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.NotNil(t, cfg.Service.Log)
	require.Equal(t, model.LogStderr, *cfg.Service.Log)
	require.Equal(t, "127.0.0.1:9000", cfg.Service.Listen)
	require.Equal(t, 64, cfg.Service.Buffer)

	retention, err := cfg.Service.RetentionDuration()
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, retention)

	interval, err := cfg.Service.Sweep.Interval()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, interval)

	require.Equal(t, "ABC123", cfg.Service.Token())
	require.True(t, cfg.Service.NATSEnabled())
	require.Equal(t, "nats://nats:4222", cfg.Service.NATS.URL)
	require.Equal(t, model.DefaultSubject, cfg.Service.NATS.Subject)

	require.Contains(t, cfg.Jobs, "title-generation")
	cmd := cfg.Jobs["title-generation"].Command()
	require.Equal(t, "/usr/bin/python3", cmd.Path)
	require.Equal(t, []string{"generate_titles.py"}, cmd.Args)
	require.Equal(t, "/srv/media", cmd.Dir)
	require.Equal(t, []string{"LANG=C.UTF-8"}, cmd.Env)
}

func TestLoadConfig_Defaults(t *testing.T) {
	yml := `
version: 0
service: {}
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, model.DefaultListen, cfg.Service.Listen)
	require.Equal(t, model.DefaultBuffer, cfg.Service.Buffer)
	retention, err := cfg.Service.RetentionDuration()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, retention)
	interval, err := cfg.Service.Sweep.Interval()
	require.NoError(t, err)
	require.Equal(t, model.DefaultSweep, interval)
	require.Empty(t, cfg.Service.Token())
	require.False(t, cfg.Service.NATSEnabled())
	require.Empty(t, cfg.Jobs)
}

func TestLoadConfig_Fail(t *testing.T) {
	var testCases = []struct {
		scenario string
		yml      string
	}{
		{
			"missing token",
			`
version: 0
service:
  auth:
    type: static_token
`,
		},
		{
			"empty job path",
			`
version: 0
service: {}
jobs:
  broken:
    path: ""
`,
		},
		{
			"zero buffer",
			`
version: 0
service:
  buffer: 0
`,
		},
		{
			"unsupported version",
			`
version: 1
service: {}
`,
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tt.yml))
			require.Error(t, err)
		})
	}
}

func TestJobSpecCommandExpandsEnv(t *testing.T) {
	t.Setenv("JOBCAST_TEST_HOME", "/home/media")
	spec := model.JobSpec{
		Path: "worker",
		Env: map[string]string{
			"HOME":  "$JOBCAST_TEST_HOME",
			"CACHE": "${JOBCAST_TEST_HOME}/cache",
			"LIB":   "dir/$JOBCAST_TEST_HOME",
			"PLAIN": "plain",
		},
	}
	require.ElementsMatch(t, []string{
		"HOME=/home/media",
		"CACHE=/home/media/cache",
		"LIB=dir//home/media",
		"PLAIN=plain",
	}, spec.Command().Env)
}

func TestDefaultConfig(t *testing.T) {
	cfg := model.DefaultConfig(t.Context())
	require.Equal(t, model.DefaultListen, cfg.Service.Listen)
	require.NotEmpty(t, cfg.Jobs)
}
