// Package expiry removes broker sessions past their expiry on a cron schedule.
// SmartAPI invalidates all tokens once a day, at midnight of the exchange time zone.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"
)

// DefaultSpec runs shortly after the daily vendor reset
const DefaultSpec = "5 0 * * *"

// DefaultTimeZone of the vendor reset
const DefaultTimeZone = "Asia/Kolkata"

// Store purges expired sessions
type Store interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Notifier reports purges
type Notifier interface {
	Event(format string, args ...any)
}

// Sweeper purges expired sessions on schedule
type Sweeper struct {
	Store    Store
	Notifier Notifier // optional
	Spec     string
	Location *time.Location

	now func() time.Time
}

// Run purges once, then on every cron tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) error {
	if s.Store == nil {
		return errors.New("store is required")
	}
	spec := s.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	if _, err := s.Sweep(ctx); err != nil {
		log.Printf("[WARN] initial sessions sweep failed: %v", err)
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Printf("[WARN] sessions sweep failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	log.Printf("[INFO] sessions sweeper started, schedule %q in %s", spec, loc)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Printf("[DEBUG] sessions sweeper stopped")
	return nil
}

// Sweep purges sessions expired by now and returns how many were removed
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	n, err := s.Store.PurgeExpired(ctx, now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[INFO] purged %d expired session(s)", n)
		if s.Notifier != nil {
			s.Notifier.Event("purged %d expired broker session(s)", n)
		}
	}
	return n, nil
}

// NextReset returns the first midnight in loc strictly after t, this is when the vendor expires tokens
func NextReset(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
}

// LoadLocation loads the time zone by name, empty name means DefaultTimeZone
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}
