// Package tz is the business-timezone boundary. Every conversion between an
// instant and business wall-clock fields goes through a Converter; no other
// package builds offsets or zone strings.
package tz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultZone is the business zone used when none is configured.
const DefaultZone = "+03:00"

var ErrInvalidZone = errors.New("tz: invalid zone")

// LocalTime is a wall-clock reading in the business zone.
type LocalTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// Converter converts instants to business wall-clock fields and back.
type Converter interface {
	ToBusiness(t time.Time) LocalTime
	FromBusiness(lt LocalTime) time.Time
}

// Zone implements Converter on top of a *time.Location.
type Zone struct {
	name string
	loc  *time.Location
}

var _ Converter = Zone{}

// Load resolves a zone from config. Accepted forms: "" (DefaultZone),
// a fixed offset "+03:00" / "-0530", or an IANA name such as "Europe/Paris".
func Load(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultZone
	}
	if name[0] == '+' || name[0] == '-' {
		secs, err := parseOffset(name)
		if err != nil {
			return Zone{}, err
		}
		return Zone{name: name, loc: time.FixedZone("UTC"+name, secs)}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("%w %q: %v", ErrInvalidZone, name, err)
	}
	return Zone{name: name, loc: loc}, nil
}

// Default returns the DefaultZone.
func Default() Zone {
	z, _ := Load(DefaultZone)
	return z
}

// FromLocation wraps an already resolved location.
func FromLocation(loc *time.Location) Zone {
	return Zone{name: loc.String(), loc: loc}
}

func (z Zone) Name() string { return z.name }

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return Default().loc
	}
	return z.loc
}

func (z Zone) ToBusiness(t time.Time) LocalTime {
	b := t.In(z.Location())
	return LocalTime{Year: b.Year(), Month: b.Month(), Day: b.Day(), Hour: b.Hour(), Minute: b.Minute()}
}

// FromBusiness returns the instant of lt. Out-of-range fields are normalized
// the way time.Date does (Minute 90 is 1h30 past Hour).
func (z Zone) FromBusiness(lt LocalTime) time.Time {
	return time.Date(lt.Year, lt.Month, lt.Day, lt.Hour, lt.Minute, 0, 0, z.Location())
}

// In returns t expressed in the business zone.
func (z Zone) In(t time.Time) time.Time {
	return t.In(z.Location())
}

func parseOffset(s string) (int, error) {
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	body := strings.ReplaceAll(s[1:], ":", "")
	if len(body) != 2 && len(body) != 4 {
		return 0, fmt.Errorf("%w %q", ErrInvalidZone, s)
	}
	hh, err := strconv.Atoi(body[:2])
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidZone, s)
	}
	mm := 0
	if len(body) == 4 {
		if mm, err = strconv.Atoi(body[2:]); err != nil {
			return 0, fmt.Errorf("%w %q", ErrInvalidZone, s)
		}
	}
	if hh > 14 || mm > 59 {
		return 0, fmt.Errorf("%w %q", ErrInvalidZone, s)
	}
	return sign * (hh*3600 + mm*60), nil
}
