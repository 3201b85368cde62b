package sprinkler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/model"
	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/scheduler"
)

var ErrInvalidDuration = errors.New("invalid watering duration")

// Scheduler is the subset of the schedule engine the config store drives.
type Scheduler interface {
	Register(expression string, action func(now time.Time)) (scheduler.JobID, error)
	Cancel(id scheduler.JobID)
}

// SettingsStore persists the configuration across restarts.
type SettingsStore interface {
	Save(ctx context.Context, cfg model.SprinklerConfig) error
	Load(ctx context.Context) (model.SprinklerConfig, error)
}

// ConfigStore owns the watering configuration and the single watering job
// it installs once the configuration is complete.
type ConfigStore struct {
	cfg      model.SprinklerConfig
	sched    Scheduler
	settings SettingsStore
	log      *logrus.Entry

	jobID  scheduler.JobID
	hasJob bool

	// trigger is bound to the registered job; activated runs after every
	// successful activation.
	trigger   func(now time.Time)
	activated func()
}

func NewConfigStore(sched Scheduler, settings SettingsStore, trigger func(now time.Time), activated func(), log *logrus.Entry) *ConfigStore {
	return &ConfigStore{
		sched:     sched,
		settings:  settings,
		trigger:   trigger,
		activated: activated,
		log:       log,
	}
}

func (s *ConfigStore) Config() model.SprinklerConfig { return s.cfg }

func (s *ConfigStore) Configured() bool { return s.cfg.Configured() }

// Duration implements DurationSource.
func (s *ConfigStore) Duration() (time.Duration, bool) {
	if s.cfg.WateringDurationMs == 0 {
		return 0, false
	}
	return s.cfg.Duration(), true
}

// JobID returns the currently installed watering job.
func (s *ConfigStore) JobID() (scheduler.JobID, bool) { return s.jobID, s.hasJob }

// SetTriggerExpression stores expression if it parses; otherwise the
// configuration is left unchanged.
func (s *ConfigStore) SetTriggerExpression(expression string) error {
	expression = strings.TrimSpace(expression)
	if err := scheduler.Validate(expression); err != nil {
		return err
	}
	s.cfg.TriggerExpression = expression
	s.persist()
	return nil
}

// SetDuration parses payload as a non-negative decimal number of milliseconds.
func (s *ConfigStore) SetDuration(payload string) error {
	ms, err := strconv.ParseUint(strings.TrimSpace(payload), 10, 32)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidDuration, payload, err)
	}
	s.SetDurationMs(uint32(ms))
	return nil
}

func (s *ConfigStore) SetDurationMs(ms uint32) {
	s.cfg.WateringDurationMs = ms
	s.persist()
}

// Restore loads the persisted configuration without saving it back.
func (s *ConfigStore) Restore(ctx context.Context) error {
	if s.settings == nil {
		return nil
	}
	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return err
	}
	if cfg.TriggerExpression != "" {
		if err := scheduler.Validate(cfg.TriggerExpression); err != nil {
			s.log.Warnf("stored expression discarded: %v", err)
			cfg.TriggerExpression = ""
		}
	}
	s.cfg = cfg
	return nil
}

// TryActivate replaces the watering job when the configuration is complete.
// An incomplete configuration is left alone and reported as not activated.
func (s *ConfigStore) TryActivate() (bool, error) {
	if !s.cfg.Configured() {
		s.log.Debug("not configured yet")
		return false, nil
	}
	if s.hasJob {
		s.sched.Cancel(s.jobID)
		s.hasJob = false
	}
	id, err := s.sched.Register(s.cfg.TriggerExpression, s.trigger)
	if err != nil {
		return false, err
	}
	s.jobID, s.hasJob = id, true
	s.log.Infof("watering scheduled '%s' for %s", s.cfg.TriggerExpression, s.cfg.Duration())
	if s.activated != nil {
		s.activated()
	}
	return true, nil
}

func (s *ConfigStore) persist() {
	if s.settings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.settings.Save(ctx, s.cfg); err != nil {
		s.log.Warnf("settings not saved: %v", err)
	}
}
