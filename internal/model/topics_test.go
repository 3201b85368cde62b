package model

import "testing"

func TestTopics(t *testing.T) {
	tp := NewTopics("a1b2c3")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", tp.Status(), "sprinkler/a1b2c3/status"},
		{"trigger", tp.Trigger(), "sprinkler/a1b2c3/trigger"},
		{"cron", tp.ConfigCron(), "sprinkler/a1b2c3/config/cron"},
		{"duration", tp.ConfigDuration(), "sprinkler/a1b2c3/config/duration"},
		{"config wildcard", tp.ConfigWildcard(), "sprinkler/a1b2c3/config/#"},
		{"temperature", tp.SensorTemperature(), "sprinkler/a1b2c3/sensors/temperature"},
		{"humidity", tp.SensorHumidity(), "sprinkler/a1b2c3/sensors/humidity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewDeviceIDOverride(t *testing.T) {
	if got := NewDeviceID("  dev-42 "); got != "dev-42" {
		t.Errorf("NewDeviceID() = %q, want %q", got, "dev-42")
	}
	if got := NewDeviceID(""); got == "" {
		t.Error("NewDeviceID(\"\") returned empty id")
	}
}

func TestStateStatusProjection(t *testing.T) {
	cases := map[Mode]Status{
		ModeIdle:   StatusAlive,
		ModeManual: StatusWateringMan,
		ModeAuto:   StatusWateringAuto,
	}
	for mode, want := range cases {
		if got := (SprinklerState{Mode: mode}).Status(); got != want {
			t.Errorf("%s: Status() = %q, want %q", mode, got, want)
		}
	}
}

func TestConfigured(t *testing.T) {
	tests := []struct {
		cfg  SprinklerConfig
		want bool
	}{
		{SprinklerConfig{}, false},
		{SprinklerConfig{TriggerExpression: "0 0 6 * * *"}, false},
		{SprinklerConfig{WateringDurationMs: 1000}, false},
		{SprinklerConfig{TriggerExpression: "0 0 6 * * *", WateringDurationMs: 0}, false},
		{SprinklerConfig{TriggerExpression: "0 0 6 * * *", WateringDurationMs: 1000}, true},
	}
	for _, tt := range tests {
		if got := tt.cfg.Configured(); got != tt.want {
			t.Errorf("%+v.Configured() = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}
