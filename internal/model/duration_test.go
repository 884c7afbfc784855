package model_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/jobcast/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		given string
		then  time.Duration
	}{
		{"PT5M", 5 * time.Minute},
		{"P1D", 24 * time.Hour},
		{"P1DT2H", 26 * time.Hour},
		{"PT1H30M", 90 * time.Minute},
		{"PT0.5S", 500 * time.Millisecond},
		{"PT1,5S", 1500 * time.Millisecond},
		{"PT0S", 0},
	}
	for _, tt := range testCases {
		t.Run(tt.given, func(t *testing.T) {
			t.Parallel()
			d, err := model.ParseISODuration(tt.given)
			require.NoError(t, err)
			require.Equal(t, tt.then, d)
		})
	}
}

func TestParseISODuration_Fail(t *testing.T) {
	t.Parallel()
	for _, given := range []string{"", "P", "PT", "P1DT", "5m", "P2M", "PT-5S", "PT5.S"} {
		t.Run(given, func(t *testing.T) {
			t.Parallel()
			_, err := model.ParseISODuration(given)
			require.ErrorIs(t, err, model.ErrISOFormat)
		})
	}
}

func TestParseCron(t *testing.T) {
	t.Parallel()
	d, err := model.ParseCron("*/5 * * * *")
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, d)

	d, err = model.ParseCron("@every 30s")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, d)

	_, err = model.ParseCron("")
	require.Error(t, err)
	_, err = model.ParseCron("* * *")
	require.Error(t, err)
}
