package ics

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationRE = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// duration is an RFC 5545 DURATION value. Weeks and days are nominal and
// follow the calendar across offset changes; the clock part is exact.
type duration struct {
	days  int
	clock time.Duration
}

func parseDuration(v string) (duration, error) {
	m := durationRE.FindStringSubmatch(v)
	if m == nil || v == "P" || v == "+P" || v == "-P" || m[0][len(m[0])-1] == 'T' {
		return duration{}, fmt.Errorf("invalid DURATION %q", v)
	}
	n := func(i int) int {
		x, _ := strconv.Atoi(m[i])
		return x
	}
	d := duration{
		days:  7*n(2) + n(3),
		clock: time.Duration(n(4))*time.Hour + time.Duration(n(5))*time.Minute + time.Duration(n(6))*time.Second,
	}
	if m[1] == "-" {
		d.days, d.clock = -d.days, -d.clock
	}
	return d, nil
}

func (d duration) after(t time.Time) time.Time {
	return t.AddDate(0, 0, d.days).Add(d.clock)
}
