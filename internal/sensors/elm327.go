package sensors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/units"
)

// PID describes one mode-01 OBD-II parameter: the request code, the
// telemetry channel its decoded value feeds, and the decoder over the
// response data bytes.
type PID struct {
	Code    byte
	Channel string
	Bytes   int
	Decode  func(data []byte) float64
}

// Command returns the mode-01 request string for this PID ("010C").
func (p PID) Command() string {
	return fmt.Sprintf("01%02X", p.Code)
}

// Mode-01 PIDs the acquisition loop polls, with the standard SAE J1979
// decodings. Samples store temperatures in Fahrenheit and speed in mph.
var (
	PIDEngineLoad    = PID{0x04, telemetry.ChanEngineLoad, 1, func(d []byte) float64 { return float64(d[0]) * 100 / 255 }}
	PIDCoolantTemp   = PID{0x05, telemetry.ChanCoolantTempF, 1, func(d []byte) float64 { return units.CToF(float64(d[0]) - 40) }}
	PIDFuelTrimShort = PID{0x06, telemetry.ChanFuelTrimShort, 1, func(d []byte) float64 { return (float64(d[0]) - 128) * 100 / 128 }}
	PIDFuelTrimLong  = PID{0x07, telemetry.ChanFuelTrimLong, 1, func(d []byte) float64 { return (float64(d[0]) - 128) * 100 / 128 }}
	PIDRPM           = PID{0x0C, telemetry.ChanRPM, 2, func(d []byte) float64 { return (float64(d[0])*256 + float64(d[1])) / 4 }}
	PIDSpeed         = PID{0x0D, telemetry.ChanSpeedMPH, 1, func(d []byte) float64 { return float64(d[0]) * units.KPHToMPH }}
	PIDTimingAdvance = PID{0x0E, telemetry.ChanTimingAdvance, 1, func(d []byte) float64 { return float64(d[0])/2 - 64 }}
	PIDIntakeTemp    = PID{0x0F, telemetry.ChanIntakeTempF, 1, func(d []byte) float64 { return units.CToF(float64(d[0]) - 40) }}
	PIDMAF           = PID{0x10, telemetry.ChanMAFGPerS, 2, func(d []byte) float64 { return (float64(d[0])*256 + float64(d[1])) / 100 }}
	PIDThrottle      = PID{0x11, telemetry.ChanThrottlePos, 1, func(d []byte) float64 { return float64(d[0]) * 100 / 255 }}
)

// FastPIDs are requested on every poll cycle. The performance math
// lives on these three channels, so they get the full request budget.
var FastPIDs = []PID{PIDRPM, PIDSpeed, PIDThrottle}

// SlowPIDs rotate one per cycle. Temperatures and trims move on a
// timescale of seconds, so a full rotation every seven cycles is ample.
var SlowPIDs = []PID{PIDEngineLoad, PIDCoolantTemp, PIDFuelTrimShort, PIDFuelTrimLong, PIDTimingAdvance, PIDIntakeTemp, PIDMAF}

// InitCommands is the ELM327 setup sequence: reset, echo off, linefeeds
// off, spaces off, automatic protocol detection.
var InitCommands = []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATSP0"}

// elmPrompt is the token the split function emits when the interpreter
// signals it is ready for the next command.
const elmPrompt = ">"

// Interpreter status strings that mean "no value this time". SEARCHING
// shows up while the protocol handshake is still running; NO DATA when
// the ECU does not answer a PID.
var elmStatuses = []string{"NODATA", "SEARCHING", "STOPPED", "UNABLETOCONNECT", "BUSINIT", "CANERROR", "BUSERROR", "ERROR"}

// ParsePIDResponse decodes one ELM327 response token for the given PID.
// Both spaced ("41 0C 1A F8") and unspaced ("410C1AF8") forms are
// accepted. Interpreter status strings and the "?" unknown-command
// reply return an error.
func ParsePIDResponse(pid PID, token string) (float64, error) {
	s := strings.ToUpper(strings.TrimSpace(token))
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, fmt.Errorf("empty response")
	}
	if s == "?" {
		return 0, fmt.Errorf("interpreter did not recognize command")
	}
	for _, status := range elmStatuses {
		if strings.Contains(s, status) {
			return 0, fmt.Errorf("interpreter reported %q", strings.TrimSpace(token))
		}
	}

	want := fmt.Sprintf("41%02X", pid.Code)
	if !strings.HasPrefix(s, want) {
		return 0, fmt.Errorf("response %q does not match request %s", strings.TrimSpace(token), pid.Command())
	}
	payload := s[len(want):]
	if len(payload) < pid.Bytes*2 {
		return 0, fmt.Errorf("response %q too short for %d data bytes", strings.TrimSpace(token), pid.Bytes)
	}

	data := make([]byte, pid.Bytes)
	for i := range data {
		b, err := strconv.ParseUint(payload[i*2:i*2+2], 16, 8)
		if err != nil {
			return 0, fmt.Errorf("bad hex in response %q: %w", strings.TrimSpace(token), err)
		}
		data[i] = byte(b)
	}
	return pid.Decode(data), nil
}
