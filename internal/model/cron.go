package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a 5 field cron expression or a descriptor such as
// @hourly or @every 30m.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}
	return cronParser.Parse(e)
}

// CronInterval returns the distance between the two activations of s
// following from.
func CronInterval(s cron.Schedule, from time.Time) time.Duration {
	next := s.Next(from)
	return s.Next(next).Sub(next)
}

var ErrISOFormat = errors.New("invalid ISO8601 duration")

// weeks and days only, years and months have no fixed length
var isoDurationRx = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d{1,9})?)S)?)?$`)

// ParseISODuration parses ISO 8601 durations like PT30M, P1D or PT1H0.5S.
func ParseISODuration(dur string) (time.Duration, error) {
	m := isoDurationRx.FindStringSubmatch(dur)
	if m == nil || dur == "P" || strings.HasSuffix(dur, "T") {
		return 0, fmt.Errorf("%w: %q", ErrISOFormat, dur)
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute}
	var ret time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %w", ErrISOFormat, dur, err)
		}
		ret += time.Duration(n) * unit
	}
	if secs := m[5]; secs != "" {
		f, err := strconv.ParseFloat(strings.Replace(secs, ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %w", ErrISOFormat, dur, err)
		}
		ret += time.Duration(f * float64(time.Second))
	}
	return ret, nil
}
