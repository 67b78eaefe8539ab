package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRecord indicates a raw record whose field failed its declared
// type conversion. Callers skip the record and continue.
var ErrMalformedRecord = errors.New("malformed telemetry record")

type fieldKind int

const (
	kindInt fieldKind = iota
	kindFloat
	kindString
)

type fieldSpec struct {
	name string
	kind fieldKind
}

// tagTable maps the single-character wire tag of each PureTrack field to its
// target name and type. Tags absent here are unknown and ignored.
var tagTable = map[byte]fieldSpec{
	'T': {"timestamp", kindInt},
	'L': {"lat", kindFloat},
	'G': {"lon", kindFloat},
	'K': {"key", kindString},
	'A': {"alt_gps", kindFloat},
	'P': {"pressure", kindString},
	'C': {"course", kindFloat},
	'S': {"speed", kindFloat},
	'V': {"v_speed", kindFloat},
	'O': {"object_type", kindString},
	'Z': {"timezone", kindString},
	'D': {"tracker_uid", kindString},
	'H': {"stealth", kindString},
	'Q': {"no_tracking", kindString},
	'I': {"signal_quality", kindString},
	'R': {"receiver_name", kindString},
	'U': {"source_type_id", kindString},
	'J': {"target_id", kindString},
	'B': {"label", kindString},
	'N': {"name", kindString},
	'E': {"rego", kindString},
	'M': {"model", kindString},
	's': {"speed_calc", kindString},
	'd': {"dist_calc", kindString},
	'v': {"v_speed_calc", kindString},
	'f': {"flying", kindString},
	'x': {"ignore", kindString},
	'g': {"ground_level", kindFloat},
	'i': {"tracker_id", kindString},
	'e': {"comp", kindString},
	'c': {"colour", kindString},
	'a': {"aircraft_id", kindString},
	'j': {"target_key", kindString},
	'k': {"inreach_id", kindString},
	'l': {"spot_id", kindString},
	'h': {"accuracy_horizontal", kindString},
	'z': {"accuracy_vertical", kindString},
	'u': {"username", kindString},
	'm': {"callsign", kindString},
	'n': {"comp_name", kindString},
	'b': {"comp_class", kindString},
	'q': {"comp_class_id", kindString},
	't': {"alt_standard", kindString},
	'r': {"thermal_climb_rate", kindString},
	'p': {"phone", kindString},
	'F': {"ffvl_key", kindString},
	'!': {"random", kindString},
	'W': {"w_unknown", kindString},
	'o': {"o_unknown", kindString},
}

// sourceTable maps PureTrack source type IDs to human-readable labels. An
// unmapped code is kept as the raw string rather than failing.
var sourceTable = map[string]string{
	"0":  "flarm",
	"1":  "spot",
	"2":  "particle",
	"3":  "overland",
	"4":  "spotnz",
	"5":  "inreachnz",
	"6":  "btraced",
	"7":  "api",
	"8":  "mt600-l-gnz",
	"9":  "inreach",
	"10": "igc",
	"11": "pi",
	"12": "adsb",
	"13": "igcdroid",
	"14": "navigator",
	"16": "puretrack",
	"17": "teltonika",
	"18": "celltracker",
	"19": "mt600",
	"20": "mt600-l",
	"21": "api",
	"22": "fr24",
	"23": "xcontest",
	"24": "skylines",
	"25": "flymaster",
	"26": "livegliding",
	"27": "ADSBExchange",
	"28": "adsb.lol",
	"29": "adsb.fi",
	"30": "SportsTrackLive",
	"31": "FFVL Tracking",
	"32": "Zoleo",
	"33": "Total Vario",
	"34": "Tracker App",
	"35": "OGN ICAO",
	"36": "XC Guide",
	"37": "Bircom",
}

// UnknownTags collects the tags Decode did not recognize so callers can log
// them. It is returned alongside the sample and is never an error.
type UnknownTags []string

// Decode parses one raw PureTrack record (comma-separated, single-character
// tag prefix per element) into a Sample. A field that fails its declared type
// conversion returns an error wrapping ErrMalformedRecord. Unknown tags are
// collected, not fatal.
func Decode(raw string) (Sample, UnknownTags, error) {
	var (
		s       Sample
		unknown UnknownTags
	)

	for _, element := range strings.Split(raw, ",") {
		if element == "" {
			continue
		}
		tag := element[0]
		value := element[1:]

		spec, ok := tagTable[tag]
		if !ok {
			unknown = append(unknown, string(tag))
			continue
		}

		switch tag {
		case 'T':
			epoch, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Sample{}, unknown, fmt.Errorf("%w: field %q: %q is not an integer epoch", ErrMalformedRecord, spec.name, value)
			}
			s.Timestamp = time.Unix(epoch, 0).UTC()
			s.LocalTime = time.Unix(epoch, 0).Format("02/01/2006 15:04:05")
		case 'L':
			v, err := parseFloat(spec.name, value)
			if err != nil {
				return Sample{}, unknown, err
			}
			s.Lat = v
		case 'G':
			v, err := parseFloat(spec.name, value)
			if err != nil {
				return Sample{}, unknown, err
			}
			s.Lon = v
		case 'K':
			s.Key = value
		case 'A':
			v, err := parseFloat(spec.name, value)
			if err != nil {
				return Sample{}, unknown, err
			}
			s.AltGPS = &v
		case 'C':
			v, err := parseFloat(spec.name, value)
			if err != nil {
				return Sample{}, unknown, err
			}
			s.Course = &v
		case 'S':
			v, err := parseFloat(spec.name, value)
			if err != nil {
				return Sample{}, unknown, err
			}
			s.Speed = &v
		case 'V':
			v, err := parseFloat(spec.name, value)
			if err != nil {
				return Sample{}, unknown, err
			}
			s.VSpeed = &v
		case 'g':
			v, err := parseFloat(spec.name, value)
			if err != nil {
				return Sample{}, unknown, err
			}
			s.GroundLevel = &v
		case 'U':
			if label, ok := sourceTable[value]; ok {
				s.SourceType = label
			} else {
				s.SourceType = value
			}
		case 'D':
			s.TrackerUID = value
		case 'B':
			s.Label = value
		case 'N':
			s.Name = value
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]string)
			}
			s.Extra[spec.name] = value
		}
	}

	return s, unknown, nil
}

func parseFloat(name, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %q: %q is not a float", ErrMalformedRecord, name, value)
	}
	return v, nil
}
