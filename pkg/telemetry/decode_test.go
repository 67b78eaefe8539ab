package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFullRecord(t *testing.T) {
	raw := "T1712000000,L45.10250,G5.89320,KX-test-pilot,A1520.5,C182.0,S12.5,V-1.2,U25,g1410.0,DABC123,Bteam-a,NAlice"

	s, unknown, err := Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, unknown)

	assert.Equal(t, "X-test-pilot", s.Key)
	assert.Equal(t, time.Unix(1712000000, 0).UTC(), s.Timestamp)
	assert.NotEmpty(t, s.LocalTime)
	assert.Equal(t, 45.1025, s.Lat)
	assert.Equal(t, 5.8932, s.Lon)

	require.NotNil(t, s.AltGPS)
	assert.Equal(t, 1520.5, *s.AltGPS)
	require.NotNil(t, s.Course)
	assert.Equal(t, 182.0, *s.Course)
	require.NotNil(t, s.Speed)
	assert.Equal(t, 12.5, *s.Speed)
	require.NotNil(t, s.VSpeed)
	assert.Equal(t, -1.2, *s.VSpeed)
	require.NotNil(t, s.GroundLevel)
	assert.Equal(t, 1410.0, *s.GroundLevel)

	assert.Equal(t, "flymaster", s.SourceType)
	assert.Equal(t, "ABC123", s.TrackerUID)
	assert.Equal(t, "team-a", s.Label)
	assert.Equal(t, "Alice", s.Name)

	agl, ok := s.AboveGround()
	require.True(t, ok)
	assert.InDelta(t, 110.5, agl, 1e-9)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "bad epoch", raw: "Tnotanumber,L45.0,G5.0"},
		{name: "bad latitude", raw: "T1712000000,Labc,G5.0"},
		{name: "bad longitude", raw: "T1712000000,L45.0,G--"},
		{name: "bad speed", raw: "T1712000000,L45.0,G5.0,Sfast"},
		{name: "bad altitude", raw: "T1712000000,L45.0,G5.0,Ahigh"},
		{name: "bad ground level", raw: "T1712000000,L45.0,G5.0,glow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestDecodeUnknownTagIgnored(t *testing.T) {
	s, unknown, err := Decode("T1712000000,L45.0,G5.0,*mystery")
	require.NoError(t, err)
	assert.Equal(t, UnknownTags{"*"}, unknown)
	assert.Equal(t, 45.0, s.Lat)
}

func TestDecodeUnmappedSourceKeptRaw(t *testing.T) {
	s, _, err := Decode("T1712000000,L45.0,G5.0,U99")
	require.NoError(t, err)
	assert.Equal(t, "99", s.SourceType)
}

func TestDecodePassthroughFields(t *testing.T) {
	s, _, err := Decode("T1712000000,L45.0,G5.0,uflymaster-user,r2.1")
	require.NoError(t, err)
	assert.Equal(t, "flymaster-user", s.Extra["username"])
	assert.Equal(t, "2.1", s.Extra["thermal_climb_rate"])
}

func TestDecodeEmptyElements(t *testing.T) {
	s, unknown, err := Decode("T1712000000,,L45.0,,G5.0,")
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Equal(t, 45.0, s.Lat)
	assert.Equal(t, 5.0, s.Lon)
}

func TestAboveGroundRequiresBothAltitudes(t *testing.T) {
	s, _, err := Decode("T1712000000,L45.0,G5.0,A1500.0")
	require.NoError(t, err)
	_, ok := s.AboveGround()
	assert.False(t, ok)
}
