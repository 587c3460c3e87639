package sensors

import (
	"math"
	"strings"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParseRMC(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		want     RMC
	}{
		{
			name:     "full fix",
			sentence: "$GPRMC,120000,A,3746.494,N,12225.164,W,042.0,084.4,220825,000.0,W*7E",
			want: RMC{
				At:         time.Date(2025, 8, 22, 12, 0, 0, 0, time.UTC),
				Valid:      true,
				HasFix:     true,
				Lat:        37.7749,
				Lon:        -122.4194,
				SpeedKnots: 42,
				CourseDeg:  84.4,
			},
		},
		{
			name:     "GN talker prefix",
			sentence: "$GNRMC,120000,A,3746.494,N,12225.164,W,042.0,084.4,220825,000.0,W*60",
			want: RMC{
				At:         time.Date(2025, 8, 22, 12, 0, 0, 0, time.UTC),
				Valid:      true,
				HasFix:     true,
				Lat:        37.7749,
				Lon:        -122.4194,
				SpeedKnots: 42,
				CourseDeg:  84.4,
			},
		},
		{
			name:     "fractional seconds",
			sentence: "$GPRMC,120000.25,A,3746.494,N,12225.164,W,042.0,084.4,220825,000.0,W*57",
			want: RMC{
				At:         time.Date(2025, 8, 22, 12, 0, 0, 250000000, time.UTC),
				Valid:      true,
				HasFix:     true,
				Lat:        37.7749,
				Lon:        -122.4194,
				SpeedKnots: 42,
				CourseDeg:  84.4,
			},
		},
		{
			name:     "no fix",
			sentence: "$GPRMC,120001,V,,,,,,,220825,,*3C",
			want: RMC{
				At:     time.Date(2025, 8, 22, 12, 0, 1, 0, time.UTC),
				Valid:  false,
				HasFix: false,
			},
		},
		{
			name:     "missing time keeps zero timestamp",
			sentence: "$GPRMC,,A,3746.494,N,12225.164,W,042.0,084.4,,000.0,W*72",
			want: RMC{
				Valid:      true,
				HasFix:     true,
				Lat:        37.7749,
				Lon:        -122.4194,
				SpeedKnots: 42,
				CourseDeg:  84.4,
			},
		},
		{
			name:     "southern and eastern hemispheres",
			sentence: "$GPRMC,120000,A,0330.000,S,15130.000,E,10.0,0.0,220825,,*3B",
			want: RMC{
				At:         time.Date(2025, 8, 22, 12, 0, 0, 0, time.UTC),
				Valid:      true,
				HasFix:     true,
				Lat:        -3.5,
				Lon:        151.5,
				SpeedKnots: 10,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRMC(tt.sentence)
			if err != nil {
				t.Fatalf("ParseRMC(%q) error = %v", tt.sentence, err)
			}
			if !got.At.Equal(tt.want.At) {
				t.Errorf("At = %v, want %v", got.At, tt.want.At)
			}
			if got.Valid != tt.want.Valid {
				t.Errorf("Valid = %v, want %v", got.Valid, tt.want.Valid)
			}
			if got.HasFix != tt.want.HasFix {
				t.Errorf("HasFix = %v, want %v", got.HasFix, tt.want.HasFix)
			}
			if !almostEqual(got.Lat, tt.want.Lat) {
				t.Errorf("Lat = %v, want %v", got.Lat, tt.want.Lat)
			}
			if !almostEqual(got.Lon, tt.want.Lon) {
				t.Errorf("Lon = %v, want %v", got.Lon, tt.want.Lon)
			}
			if !almostEqual(got.SpeedKnots, tt.want.SpeedKnots) {
				t.Errorf("SpeedKnots = %v, want %v", got.SpeedKnots, tt.want.SpeedKnots)
			}
			if !almostEqual(got.CourseDeg, tt.want.CourseDeg) {
				t.Errorf("CourseDeg = %v, want %v", got.CourseDeg, tt.want.CourseDeg)
			}
		})
	}
}

func TestParseRMCRejects(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
	}{
		{"checksum mismatch", "$GPRMC,120000,A,3746.494,N,12225.164,W,042.0,084.4,220825,000.0,W*7A"},
		{"missing checksum", "$GPRMC,120000,A,3746.494,N,12225.164,W,042.0,084.4,220825,000.0,W"},
		{"no dollar prefix", "GPRMC,120000,A,3746.494,N,12225.164,W,042.0,084.4,220825,000.0,W*7E"},
		{"wrong sentence type", "$GPGGA,120000,3746.494,N,12225.164,W,2,12,0.9,,M,,M,,*60"},
		{"minutes out of range", "$GPRMC,120000,A,3761.000,N,12225.164,W,042.0,084.4,220825,000.0,W*72"},
		{"empty", ""},
		{"garbage", "not nmea at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRMC(tt.sentence); err == nil {
				t.Errorf("ParseRMC(%q) succeeded, want error", tt.sentence)
			}
		})
	}
}

func TestParseGGA(t *testing.T) {
	got, err := ParseGGA("$GPGGA,120000.00,3746.49440,N,12225.16440,W,1,08,1.1,18.2,M,-25.0,M,,*6E")
	if err != nil {
		t.Fatalf("ParseGGA() error = %v", err)
	}
	if got.Quality != 1 {
		t.Errorf("Quality = %d, want 1", got.Quality)
	}
	if got.Satellites != 8 {
		t.Errorf("Satellites = %d, want 8", got.Satellites)
	}
	if !got.HasAltitude || !almostEqual(got.AltitudeM, 18.2) {
		t.Errorf("AltitudeM = %v (has=%v), want 18.2", got.AltitudeM, got.HasAltitude)
	}
}

func TestParseGGANoFix(t *testing.T) {
	got, err := ParseGGA("$GPGGA,120001,,,,,0,03,,,M,,M,,*67")
	if err != nil {
		t.Fatalf("ParseGGA() error = %v", err)
	}
	if got.Quality != 0 {
		t.Errorf("Quality = %d, want 0", got.Quality)
	}
	if got.Satellites != 3 {
		t.Errorf("Satellites = %d, want 3", got.Satellites)
	}
	if got.HasAltitude {
		t.Error("HasAltitude = true, want false")
	}
}

func TestParseGGANoAltitude(t *testing.T) {
	got, err := ParseGGA("$GPGGA,120000,3746.494,N,12225.164,W,2,12,0.9,,M,,M,,*60")
	if err != nil {
		t.Fatalf("ParseGGA() error = %v", err)
	}
	if got.Quality != 2 || got.Satellites != 12 {
		t.Errorf("Quality, Satellites = %d, %d, want 2, 12", got.Quality, got.Satellites)
	}
	if got.HasAltitude {
		t.Error("HasAltitude = true, want false")
	}
}

func TestSentenceType(t *testing.T) {
	tests := []struct {
		sentence string
		want     string
	}{
		{"$GPRMC,120000,A*00", "RMC"},
		{"$GNGGA,120000*00", "GGA"},
		{"$GPVTG,084.4,T*00", "VTG"},
		{"$GP", ""},
		{"", ""},
		{"no prefix", ""},
	}

	for _, tt := range tests {
		if got := SentenceType(tt.sentence); got != tt.want {
			t.Errorf("SentenceType(%q) = %q, want %q", tt.sentence, got, tt.want)
		}
	}
}

func TestSentenceTypeOfMockLine(t *testing.T) {
	line := strings.TrimRight("$GPRMC,120000,A,3746.494,N,12225.164,W,042.0,084.4,220825,000.0,W*7E\r\n", "\r\n")
	if got := SentenceType(line); got != "RMC" {
		t.Errorf("SentenceType = %q, want RMC", got)
	}
}
