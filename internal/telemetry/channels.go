package telemetry

// Channel names. These are the column names used by storage and export,
// so they never change once a database exists.
const (
	ChanRPM           = "rpm"
	ChanSpeedMPH      = "speed_mph"
	ChanThrottlePos   = "throttle_pos"
	ChanCoolantTempF  = "coolant_temp_f"
	ChanIntakeTempF   = "intake_temp_f"
	ChanMAFGPerS      = "maf_gpers"
	ChanEngineLoad    = "engine_load"
	ChanTimingAdvance = "timing_advance"
	ChanFuelTrimShort = "fuel_trim_short"
	ChanFuelTrimLong  = "fuel_trim_long"

	ChanAccelLongG  = "accel_long_g"
	ChanAccelLatG   = "accel_lat_g"
	ChanAccelVertG  = "accel_vert_g"
	ChanAccelTotalG = "accel_total_g"
	ChanPitchDeg    = "pitch_deg"
	ChanRollDeg     = "roll_deg"
	ChanYawRateDPS  = "yaw_rate_dps"

	ChanGPSLat        = "gps_lat"
	ChanGPSLon        = "gps_lon"
	ChanGPSAltM       = "gps_alt_m"
	ChanGPSSpeedMPH   = "gps_speed_mph"
	ChanGPSHeading    = "gps_heading"
	ChanGPSSatellites = "gps_satellites"
	ChanGPSValid      = "gps_valid"

	ChanTempOilF     = "temp_oil_f"
	ChanTempIntakeF  = "temp_intake_f"
	ChanTempBrakeF   = "temp_brake_f"
	ChanTempTransF   = "temp_trans_f"
	ChanTempAmbientF = "temp_ambient_f"
)

// Adapter family names. Each channel is owned by exactly one family.
const (
	SourceOBD   = "obd"
	SourceAccel = "accel"
	SourceGPS   = "gps"
	SourceTemp  = "temp"
)

// Kind distinguishes how a channel value is rendered on export.
type Kind int

const (
	Number Kind = iota
	Boolean
)

// Def describes one channel in the fixed schema.
type Def struct {
	Name   string
	Unit   string
	Kind   Kind
	Source string
}

// Schema is the full channel set in stable column order. Storage and
// export iterate this slice, so the order is part of the on-disk format.
var Schema = []Def{
	{ChanRPM, "rpm", Number, SourceOBD},
	{ChanSpeedMPH, "mph", Number, SourceOBD},
	{ChanThrottlePos, "%", Number, SourceOBD},
	{ChanCoolantTempF, "F", Number, SourceOBD},
	{ChanIntakeTempF, "F", Number, SourceOBD},
	{ChanMAFGPerS, "g/s", Number, SourceOBD},
	{ChanEngineLoad, "%", Number, SourceOBD},
	{ChanTimingAdvance, "deg", Number, SourceOBD},
	{ChanFuelTrimShort, "%", Number, SourceOBD},
	{ChanFuelTrimLong, "%", Number, SourceOBD},

	{ChanAccelLongG, "g", Number, SourceAccel},
	{ChanAccelLatG, "g", Number, SourceAccel},
	{ChanAccelVertG, "g", Number, SourceAccel},
	{ChanAccelTotalG, "g", Number, SourceAccel},
	{ChanPitchDeg, "deg", Number, SourceAccel},
	{ChanRollDeg, "deg", Number, SourceAccel},
	{ChanYawRateDPS, "deg/s", Number, SourceAccel},

	{ChanGPSLat, "deg", Number, SourceGPS},
	{ChanGPSLon, "deg", Number, SourceGPS},
	{ChanGPSAltM, "m", Number, SourceGPS},
	{ChanGPSSpeedMPH, "mph", Number, SourceGPS},
	{ChanGPSHeading, "deg", Number, SourceGPS},
	{ChanGPSSatellites, "", Number, SourceGPS},
	{ChanGPSValid, "", Boolean, SourceGPS},

	{ChanTempOilF, "F", Number, SourceTemp},
	{ChanTempIntakeF, "F", Number, SourceTemp},
	{ChanTempBrakeF, "F", Number, SourceTemp},
	{ChanTempTransF, "F", Number, SourceTemp},
	{ChanTempAmbientF, "F", Number, SourceTemp},
}

// Names returns all channel names in stable column order.
func Names() []string {
	names := make([]string, len(Schema))
	for i, d := range Schema {
		names[i] = d.Name
	}
	return names
}

// BySource returns the channel names owned by one adapter family, in
// schema order.
func BySource(source string) []string {
	var names []string
	for _, d := range Schema {
		if d.Source == source {
			names = append(names, d.Name)
		}
	}
	return names
}

// Lookup returns the schema entry for a channel name.
func Lookup(name string) (Def, bool) {
	for _, d := range Schema {
		if d.Name == name {
			return d, true
		}
	}
	return Def{}, false
}

// IsBool reports whether the named channel is boolean-valued.
func IsBool(name string) bool {
	d, ok := Lookup(name)
	return ok && d.Kind == Boolean
}
