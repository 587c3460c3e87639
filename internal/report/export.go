package report

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/trackday/internal/telemetry"
)

// ErrNoTrack is returned by WriteKML when the session holds no valid
// GPS fixes.
var ErrNoTrack = errors.New("report: session has no valid gps fixes")

// WriteCSV writes the sample series in the stable schema column order.
// The header is timestamp, elapsed_time, then every channel; invalid
// readings are empty cells and boolean channels render as true/false.
func WriteCSV(w io.Writer, samples []telemetry.Sample) error {
	cw := csv.NewWriter(w)

	header := append([]string{"timestamp", "elapsed_time"}, telemetry.Names()...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(header))
	for _, s := range samples {
		row[0] = s.At.UTC().Format(time.RFC3339Nano)
		row[1] = strconv.FormatFloat(s.Elapsed, 'f', 3, 64)
		for i, name := range telemetry.Names() {
			row[2+i] = cellValue(s, name)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func cellValue(s telemetry.Sample, name string) string {
	v, ok := s.Value(name)
	if !ok {
		return ""
	}
	if telemetry.IsBool(name) {
		return strconv.FormatBool(v != 0)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteJSON writes the series as an indented array of flat records,
// one object per sample with null for invalid readings.
func WriteJSON(w io.Writer, samples []telemetry.Sample) error {
	records := make([]map[string]any, len(samples))
	for i, s := range samples {
		rec := map[string]any{
			"timestamp":    s.At.UTC().Format(time.RFC3339Nano),
			"elapsed_time": s.Elapsed,
		}
		for _, name := range telemetry.Names() {
			v, ok := s.Value(name)
			switch {
			case !ok:
				rec[name] = nil
			case telemetry.IsBool(name):
				rec[name] = v != 0
			default:
				rec[name] = v
			}
		}
		records[i] = rec
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// KML document model, just enough for a track line and the start and
// end placemarks that Google Earth renders.
type kmlFile struct {
	XMLName  xml.Name    `xml:"kml"`
	XMLNS    string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name       string         `xml:"name"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name       string         `xml:"name"`
	Style      *kmlStyle      `xml:"Style,omitempty"`
	LineString *kmlLineString `xml:"LineString,omitempty"`
	Point      *kmlPoint      `xml:"Point,omitempty"`
}

type kmlStyle struct {
	LineStyle kmlLineStyle `xml:"LineStyle"`
}

type kmlLineStyle struct {
	// Color is KML aabbggrr hex, not CSS rrggbb.
	Color string `xml:"color"`
	Width int    `xml:"width"`
}

type kmlLineString struct {
	AltitudeMode string `xml:"altitudeMode"`
	Coordinates  string `xml:"coordinates"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

// WriteKML writes the GPS track as a KML line with Start and End
// placemarks. Samples without a valid fix are skipped; a session with
// no fixes at all returns ErrNoTrack.
func WriteKML(w io.Writer, name string, samples []telemetry.Sample) error {
	var coords []string
	for _, s := range samples {
		c, ok := trackCoord(s)
		if !ok {
			continue
		}
		coords = append(coords, c)
	}
	if len(coords) == 0 {
		return ErrNoTrack
	}

	doc := kmlFile{
		XMLNS: "http://www.opengis.net/kml/2.2",
		Document: kmlDocument{
			Name: name,
			Placemarks: []kmlPlacemark{
				{
					Name: "GPS Track",
					Style: &kmlStyle{
						LineStyle: kmlLineStyle{Color: "ff0000ff", Width: 3},
					},
					LineString: &kmlLineString{
						AltitudeMode: "absolute",
						Coordinates:  strings.Join(coords, " "),
					},
				},
				{Name: "Start", Point: &kmlPoint{Coordinates: coords[0]}},
				{Name: "End", Point: &kmlPoint{Coordinates: coords[len(coords)-1]}},
			},
		},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode kml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// trackCoord renders one sample as a KML lon,lat,alt coordinate tuple.
// The gps_valid flag vetoes the fix when it is itself valid; a missing
// altitude renders as zero.
func trackCoord(s telemetry.Sample) (string, bool) {
	lat, latOK := s.Value(telemetry.ChanGPSLat)
	lon, lonOK := s.Value(telemetry.ChanGPSLon)
	if !latOK || !lonOK {
		return "", false
	}
	if fix, ok := s.Bool(telemetry.ChanGPSValid); ok && !fix {
		return "", false
	}
	alt, _ := s.Value(telemetry.ChanGPSAltM)
	return fmt.Sprintf("%.7f,%.7f,%.1f", lon, lat, alt), true
}
