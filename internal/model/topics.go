package model

import "fmt"

const (
	topicRoot = "sprinkler"

	// DefaultFirmwareTopic is shared by every device.
	DefaultFirmwareTopic = "sprinkler/firmware-update"
)

// Topics builds the per-device topic names.
type Topics struct {
	id DeviceID
}

func NewTopics(id DeviceID) Topics { return Topics{id: id} }

func (t Topics) DeviceID() DeviceID { return t.id }

func (t Topics) base() string { return fmt.Sprintf("%s/%s", topicRoot, t.id) }

func (t Topics) Status() string            { return t.base() + "/status" }
func (t Topics) Trigger() string           { return t.base() + "/trigger" }
func (t Topics) ConfigCron() string        { return t.base() + "/config/cron" }
func (t Topics) ConfigDuration() string    { return t.base() + "/config/duration" }
func (t Topics) ConfigWildcard() string    { return t.base() + "/config/#" }
func (t Topics) SensorTemperature() string { return t.base() + "/sensors/temperature" }
func (t Topics) SensorHumidity() string    { return t.base() + "/sensors/humidity" }
