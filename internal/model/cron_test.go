package model_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		interval time.Duration
		fails    bool
	}{
		{"every 15 minutes", "*/15 * * * *", 15 * time.Minute, false},
		{"hourly macro", "@hourly", time.Hour, false},
		{"every macro", "@every 5m", 5 * time.Minute, false},
		{"six fields", "0 */2 * * * *", 0, true},
		{"out of range", "* * 32 * *", 0, true},
		{"empty", "  ", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			got, err := model.ParseCron(tc.given)
			if tc.fails {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.interval, got)
		})
	}
}

func TestParseISODuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		given string
		then  time.Duration
		err   error
	}{
		{"P1D", 24 * time.Hour, nil},
		{"PT10M", 10 * time.Minute, nil},
		{"PT1H30M", 90 * time.Minute, nil},
		{"PT1.5S", 1500 * time.Millisecond, nil},
		{"PT0,5S", 500 * time.Millisecond, nil},
		{"P1DT2H", 26 * time.Hour, nil},
		{"", 0, model.ErrISOFormat},
		{"P", 0, model.ErrISOFormat},
		{"PT", 0, model.ErrISOFormat},
		{"P1DT", 0, model.ErrISOFormat},
		{"P2M", 0, model.ErrISOFormat},
		{"10m", 0, model.ErrISOFormat},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			got, err := model.ParseISODuration(tc.given)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then, got)
		})
	}
}
