package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSweepFresh(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		last    time.Time
		started time.Time
		wantErr string
	}{
		{name: "recent sweep", last: now.Add(-30 * time.Minute), started: now.Add(-24 * time.Hour)},
		{name: "late sweep", last: now.Add(-2 * time.Hour), started: now.Add(-24 * time.Hour), wantErr: "last sweep was 2h0m0s ago"},
		{name: "starting up", started: now.Add(-time.Minute)},
		{name: "never swept", started: now.Add(-3 * time.Hour), wantErr: "no sweep since start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sweepFresh(tt.last, tt.started, time.Hour, now)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
