package link

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrBadDescriptor indicates a malformed connection descriptor. It is
// returned before any connection attempt is made.
var ErrBadDescriptor = errors.New("link: bad connection descriptor")

// Descriptor is a parsed vehicle connection descriptor. The addressing
// scheme mirrors the familiar autopilot style: "udp:host:port",
// "tcp:host:port", or "sim:lat,lon,alt" for an in-process vehicle.
type Descriptor struct {
	Scheme string
	Target string

	// Sim parameters, populated for the sim scheme only.
	SimStart SimParams

	raw string
}

// SimParams describes the scripted vehicle behind a sim descriptor.
type SimParams struct {
	VehicleID string
	Lat       float64
	Lon       float64
	Alt       float64
}

// String returns the raw descriptor.
func (d Descriptor) String() string { return d.raw }

// ParseDescriptor validates and parses a connection descriptor.
func ParseDescriptor(raw string) (Descriptor, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || scheme == "" {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrBadDescriptor, raw)
	}
	d := Descriptor{Scheme: strings.ToLower(scheme), raw: raw}
	switch d.Scheme {
	case "udp", "tcp":
		host, port, err := net.SplitHostPort(rest)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %q: %v", ErrBadDescriptor, raw, err)
		}
		if host == "" {
			return Descriptor{}, fmt.Errorf("%w: %q: empty host", ErrBadDescriptor, raw)
		}
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			return Descriptor{}, fmt.Errorf("%w: %q: invalid port", ErrBadDescriptor, raw)
		}
		d.Target = rest
		return d, nil
	case "sim":
		params, err := parseSimParams(rest)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %q: %v", ErrBadDescriptor, raw, err)
		}
		d.SimStart = params
		return d, nil
	default:
		return Descriptor{}, fmt.Errorf("%w: unsupported scheme %q", ErrBadDescriptor, scheme)
	}
}

func parseSimParams(rest string) (SimParams, error) {
	params := SimParams{VehicleID: "sim", Lat: 47.3977, Lon: 8.5456, Alt: 100}
	if rest == "" {
		return params, nil
	}
	spec, idPart, hasID := strings.Cut(rest, ";")
	if hasID {
		id, ok := strings.CutPrefix(idPart, "id=")
		if !ok || id == "" {
			return SimParams{}, errors.New("sim id must be ;id=<name>")
		}
		params.VehicleID = id
	}
	if spec != "" {
		fields := strings.Split(spec, ",")
		if len(fields) != 3 {
			return SimParams{}, errors.New("sim position must be lat,lon,alt")
		}
		values := make([]float64, 3)
		for i, field := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return SimParams{}, fmt.Errorf("sim position field %d: %v", i, err)
			}
			values[i] = v
		}
		params.Lat, params.Lon, params.Alt = values[0], values[1], values[2]
	}
	return params, nil
}
