package geofence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeofence_LocationResolvedOnce(t *testing.T) {
	g := Geofence{Timezone: "Asia/Jakarta"}

	first := g.Location()
	require.Equal(t, "Asia/Jakarta", first.String())
	assert.Same(t, first, g.Location())
	assert.Same(t, first, Geofence{Timezone: "Asia/Jakarta"}.Location())

	cached, ok := zones.Load("Asia/Jakarta")
	require.True(t, ok)
	assert.Same(t, first, cached.(*time.Location))
}

func TestGeofence_LocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Geofence{}.Location())
	assert.Equal(t, time.UTC, Geofence{Timezone: "Mars/Olympus_Mons"}.Location())
}

func TestTimeWindow_Contains(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		window TimeWindow
		local  time.Time
		want   bool
	}{
		{"inside day window", TimeWindow{Start: "08:00", End: "17:00"}, at(12, 0), true},
		{"end is exclusive", TimeWindow{Start: "08:00", End: "17:00"}, at(17, 0), false},
		{"wraps past midnight", TimeWindow{Start: "22:00", End: "06:00"}, at(2, 30), true},
		{"outside wrapped window", TimeWindow{Start: "22:00", End: "06:00"}, at(12, 0), false},
		{"equal bounds cover the day", TimeWindow{Start: "00:00", End: "00:00"}, at(23, 59), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(tt.local))
		})
	}
}
