package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	refTime = time.Date(2024, 3, 10, 8, 15, 30, 500000000, time.UTC)
	refMs   = int64(1710058530500)
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMilli()
	ts := Now()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)
}

func TestConversionRoundTrip(t *testing.T) {
	assert.Equal(t, refMs, ToUnixMs(refTime))
	assert.True(t, refTime.Equal(FromUnixMs(refMs)))

	// Zero means "not set" in both directions
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())

	// Millisecond precision survives; nanoseconds do not
	now := time.Now()
	recovered := FromUnixMs(ToUnixMs(now))
	assert.Less(t, now.Sub(recovered).Abs(), time.Millisecond)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2024-03-10T08:15:30Z", Format(refMs))
	assert.Empty(t, Format(0))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
	}{
		{"int64 milliseconds", int64(1710058530500), 1710058530500},
		{"int64 seconds scaled up", int64(1710058530), 1710058530000},
		{"int64 zero", int64(0), 0},
		{"float64 milliseconds", float64(1710058530500), 1710058530500},
		{"float64 seconds", float64(1710058530), 1710058530000},
		{"int seconds", int(1710058530), 1710058530000},
		{"int32 seconds", int32(946684800), 946684800000},
		{"RFC3339 string", "2024-03-10T08:15:30Z", 1710058530000},
		{"RFC3339 with fraction", "2024-03-10T08:15:30.5Z", 1710058530500},
		{"numeric string seconds", "1710058530", 1710058530000},
		{"numeric string milliseconds", "1710058530500", 1710058530500},
		{"float string", "1710058530.25", 1710058530250},
		{"empty string", "", 0},
		{"garbage string", "next tuesday", 0},
		{"time.Time", refTime, refMs},
		{"zero time.Time", time.Time{}, 0},
		{"time pointer", &refTime, refMs},
		{"nil time pointer", (*time.Time)(nil), 0},
		{"nil", nil, 0},
		{"unsupported type", []int{1, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Parse(tt.input))
		})
	}
}

// Values at or below 1e12 read as seconds, above as milliseconds. 1e12
// seconds is the year 33658, so no plausible seconds value crosses it.
func TestParseSecondsMillisBoundary(t *testing.T) {
	boundary := int64(1e12)
	assert.Equal(t, (boundary-1)*1000, Parse(boundary-1))
	assert.Equal(t, boundary+1, Parse(boundary+1))
}

func TestArithmetic(t *testing.T) {
	hour := int64(time.Hour / time.Millisecond)

	assert.Equal(t, refMs+hour, Add(refMs, time.Hour))
	assert.Equal(t, refMs-hour, Add(refMs, -time.Hour))

	assert.Equal(t, 5*time.Second, Between(refMs, refMs+5000))
	assert.Equal(t, -5*time.Second, Between(refMs+5000, refMs))

	// Unset operands stay unset
	assert.Equal(t, int64(0), Add(0, time.Hour))
	assert.Equal(t, time.Duration(0), Between(0, refMs))
	assert.Equal(t, time.Duration(0), Between(refMs, 0))
}

func TestSince(t *testing.T) {
	oneSecondAgo := time.Now().Add(-time.Second).UnixMilli()
	d := Since(oneSecondAgo)
	assert.Greater(t, d, 900*time.Millisecond)
	assert.Less(t, d, 2*time.Second)

	assert.Equal(t, time.Duration(0), Since(0))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(refMs))
	assert.NoError(t, Validate(0))
	assert.NoError(t, Validate(32503680000000)) // year 3000, the cap

	assert.Error(t, Validate(-1000))
	assert.Error(t, Validate(32503680000001))
}

func TestFormatParseRoundTrip(t *testing.T) {
	// RFC3339 output drops sub-second precision, so the round trip may be
	// off by up to a second but never more.
	parsed := Parse(Format(refMs))
	diff := refMs - parsed
	if diff < 0 {
		diff = -diff
	}
	assert.Less(t, diff, int64(1000))
}

func BenchmarkParseInt64(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Parse(refMs)
	}
}

func BenchmarkParseString(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Parse("2024-03-10T08:15:30Z")
	}
}

func BenchmarkFormat(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Format(refMs)
	}
}
