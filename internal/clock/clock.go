// Package clock keeps the device's time of day aligned with an NTP server.
//
// Queries run on their own goroutine; their result is applied on the next
// Tick, so a slow or unreachable server never stalls the driving loop.
package clock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
	"github.com/sirupsen/logrus"
)

// Source reports how far the local clock is from the reference time.
type Source interface {
	Offset(ctx context.Context) (time.Duration, error)
}

type NTPSource struct {
	Server  string
	Timeout time.Duration
}

func (s NTPSource) Offset(_ context.Context) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(s.Server, ntp.QueryOptions{Timeout: s.Timeout})
	if err != nil {
		return 0, fmt.Errorf("ntp query %s: %w", s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntp response %s: %w", s.Server, err)
	}
	return resp.ClockOffset, nil
}

type syncResult struct {
	offset time.Duration
	err    error
}

type Clock struct {
	src      Source
	base     func() time.Time
	loc      *time.Location
	interval time.Duration
	retry    time.Duration
	log      *logrus.Entry

	offset   atomic.Int64
	synced   atomic.Bool
	nextSync time.Time
	inflight bool
	results  chan syncResult
}

// New returns a clock that resyncs every interval, or every retry while the
// last query failed. A nil loc means time.Local.
func New(src Source, interval, retry time.Duration, loc *time.Location, log *logrus.Entry) *Clock {
	if interval <= 0 {
		interval = time.Minute
	}
	if retry <= 0 {
		retry = 10 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &Clock{
		src:      src,
		base:     time.Now,
		loc:      loc,
		interval: interval,
		retry:    retry,
		log:      log,
		results:  make(chan syncResult, 1),
	}
}

// Now returns the corrected current time in the device's location.
func (c *Clock) Now() time.Time {
	return c.base().Add(time.Duration(c.offset.Load())).In(c.loc)
}

func (c *Clock) Synced() bool { return c.synced.Load() }

func (c *Clock) Offset() time.Duration { return time.Duration(c.offset.Load()) }

// ForceResync makes the next Tick query the source regardless of the interval.
func (c *Clock) ForceResync() {
	c.nextSync = time.Time{}
}

// Tick applies a finished query and starts a new one when due.
func (c *Clock) Tick(ctx context.Context) {
	select {
	case r := <-c.results:
		c.inflight = false
		c.apply(r)
	default:
	}

	now := c.base()
	if c.inflight || now.Before(c.nextSync) {
		return
	}
	c.inflight = true
	go func() {
		qctx, cancel := context.WithTimeout(ctx, c.retry)
		defer cancel()
		off, err := c.src.Offset(qctx)
		c.results <- syncResult{offset: off, err: err}
	}()
}

func (c *Clock) apply(r syncResult) {
	now := c.base()
	if r.err != nil {
		c.log.Warnf("time sync failed: %v", r.err)
		c.nextSync = now.Add(c.retry)
		return
	}
	prev := time.Duration(c.offset.Swap(int64(r.offset)))
	if !c.synced.Swap(true) || absDuration(r.offset-prev) > time.Second {
		c.log.Infof("time synced, offset %s", r.offset)
	}
	c.nextSync = now.Add(c.interval)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
