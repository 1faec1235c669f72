package dsnopts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dsnPattern matches spec §6's connection string shape:
// jdbc:mysql://<host>:<port>/<database>[?key=value&...]. This is a thin
// seam over that one shape, not a parser for the full jdbc URI grammar
// (query parameters beyond the three recognized keys are ignored, and
// userinfo-in-URL, IPv6 hosts, and socket-factory params are unsupported)
// — spec.md §1 scopes full URI parsing out entirely.
var dsnPattern = regexp.MustCompile(`^jdbc:mysql://([^:/?]+):(\d+)/([^?]+)(?:\?(.*))?$`)

// Parse extracts an Options from a spec §6 connection string. Username
// and Password are not part of the string and must be set by the caller
// after Parse returns (the grammar has no userinfo component).
func Parse(dsn string) (Options, error) {
	m := dsnPattern.FindStringSubmatch(dsn)
	if m == nil {
		return Options{}, fmt.Errorf("dsnopts: %q does not match jdbc:mysql://host:port/database[?key=value&...]", dsn)
	}

	port, err := strconv.Atoi(m[2])
	if err != nil {
		return Options{}, fmt.Errorf("dsnopts: invalid port %q: %w", m[2], err)
	}

	opts := Options{Host: m[1], Port: port, Database: m[3]}
	pingPeriodSet := false
	if m[4] != "" {
		var err error
		pingPeriodSet, err = applyQuery(&opts, m[4])
		if err != nil {
			return Options{}, err
		}
	}
	// ApplyDefaults treats a zero PingPeriod as "not configured", which
	// would stomp an explicit "pingPeriod=0" (disable the heartbeat).
	// Stash and restore it around the defaulting call.
	if pingPeriodSet {
		explicit := opts.PingPeriod
		opts.ApplyDefaults()
		opts.PingPeriod = explicit
	} else {
		opts.ApplyDefaults()
	}
	return opts, nil
}

// applyQuery parses the recognized "key=value" pairs of spec §6's
// connection string and reports whether pingPeriod was explicitly set
// (so Parse can tell "not configured" apart from "configured as zero").
func applyQuery(opts *Options, query string) (pingPeriodSet bool, err error) {
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return pingPeriodSet, fmt.Errorf("dsnopts: malformed query parameter %q", pair)
		}
		switch key {
		case "characterId":
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return pingPeriodSet, fmt.Errorf("dsnopts: invalid characterId %q: %w", value, err)
			}
			opts.CharacterID = uint8(n)
		case "capabilitiesFlags":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return pingPeriodSet, fmt.Errorf("dsnopts: invalid capabilitiesFlags %q: %w", value, err)
			}
			opts.CapabilitiesFlags = uint32(n)
		case "pingPeriod":
			seconds, err := strconv.Atoi(value)
			if err != nil {
				return pingPeriodSet, fmt.Errorf("dsnopts: invalid pingPeriod %q: %w", value, err)
			}
			opts.PingPeriod = time.Duration(seconds) * time.Second
			pingPeriodSet = true
		default:
			// Unrecognized keys are ignored, per spec §6's "recognized
			// keys" table being exhaustive rather than extensible.
		}
	}
	return pingPeriodSet, nil
}
