// Package scheduler fires registered actions when a six-field calendar
// expression (second minute hour day-of-month month day-of-week) matches the
// current second. A second matches only when all six fields match, including
// both day fields. The engine is driven by Tick and never catches up missed
// seconds.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var ErrInvalidExpression = errors.New("invalid calendar expression")

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type JobID int

// Job is a registered expression and the action it triggers.
type Job struct {
	ID         JobID
	Expression string
	Enabled    bool

	schedule  *cron.SpecSchedule
	action    func(now time.Time)
	lastFired time.Time
}

type Engine struct {
	jobs   map[JobID]*Job
	nextID JobID
	log    *logrus.Entry

	// OnFire, when set, is called after every action.
	OnFire func(id JobID)
}

func New(log *logrus.Entry) *Engine {
	return &Engine{jobs: make(map[JobID]*Job), log: log}
}

func parse(expression string) (*cron.SpecSchedule, error) {
	sched, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expression, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w %q: not a calendar expression", ErrInvalidExpression, expression)
	}
	return spec, nil
}

func bit(v int) uint64 { return 1 << uint(v) }

func dayMatches(s *cron.SpecSchedule, t time.Time) bool {
	return s.Month&bit(int(t.Month())) != 0 &&
		s.Dom&bit(t.Day()) != 0 &&
		s.Dow&bit(int(t.Weekday())) != 0
}

// matches reports whether every field of s matches t in t's own location.
// Unlike cron's Next, a restricted day-of-month and day-of-week must both match.
func matches(s *cron.SpecSchedule, t time.Time) bool {
	return dayMatches(s, t) &&
		s.Hour&bit(t.Hour()) != 0 &&
		s.Minute&bit(t.Minute()) != 0 &&
		s.Second&bit(t.Second()) != 0
}

// maxLookahead bounds next; an expression such as Feb 30 never matches.
const maxLookahead = 5 * 366

// next finds the first matching second strictly after now.
func next(s *cron.SpecSchedule, now time.Time) (time.Time, bool) {
	from := now.Truncate(time.Second).Add(time.Second)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for i := 0; i < maxLookahead; i++ {
		if dayMatches(s, day) {
			for h := 0; h < 24; h++ {
				if s.Hour&bit(h) == 0 || (i == 0 && h < from.Hour()) {
					continue
				}
				for m := 0; m < 60; m++ {
					if s.Minute&bit(m) == 0 || (i == 0 && h == from.Hour() && m < from.Minute()) {
						continue
					}
					for sec := 0; sec < 60; sec++ {
						t := time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, day.Location())
						if s.Second&bit(sec) != 0 && !t.Before(from) && matches(s, t) {
							return t, true
						}
					}
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// Validate reports whether expression can be registered.
func Validate(expression string) error {
	_, err := parse(expression)
	return err
}

// Register adds an enabled job. The returned id stays valid until Cancel.
func (e *Engine) Register(expression string, action func(now time.Time)) (JobID, error) {
	sched, err := parse(expression)
	if err != nil {
		return 0, err
	}
	e.nextID++
	e.jobs[e.nextID] = &Job{
		ID:         e.nextID,
		Expression: expression,
		Enabled:    true,
		schedule:   sched,
		action:     action,
	}
	e.log.Infof("job %d registered with expression '%s'", e.nextID, expression)
	return e.nextID, nil
}

// Cancel removes the job. Unknown ids are ignored.
func (e *Engine) Cancel(id JobID) {
	if _, ok := e.jobs[id]; !ok {
		return
	}
	delete(e.jobs, id)
	e.log.Infof("job %d cancelled", id)
}

// SetEnabled pauses or resumes a job and reports whether it exists.
func (e *Engine) SetEnabled(id JobID, enabled bool) bool {
	j, ok := e.jobs[id]
	if !ok {
		return false
	}
	j.Enabled = enabled
	return true
}

// Next returns the first instant after now at which the job fires.
func (e *Engine) Next(id JobID, now time.Time) (time.Time, bool) {
	j, ok := e.jobs[id]
	if !ok || !j.Enabled {
		return time.Time{}, false
	}
	return next(j.schedule, now)
}

// Tick runs every enabled job whose schedule matches the second containing now.
// A job fires at most once per second however often Tick is called.
func (e *Engine) Tick(now time.Time) {
	sec := now.Truncate(time.Second)

	ids := make([]JobID, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		// an earlier action may have cancelled this job
		j, ok := e.jobs[id]
		if !ok || !j.Enabled || j.lastFired.Equal(sec) {
			continue
		}
		if !matches(j.schedule, sec) {
			continue
		}
		j.lastFired = sec
		j.action(now)
		if e.OnFire != nil {
			e.OnFire(id)
		}
	}
}
