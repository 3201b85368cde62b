package model

// Status is the retained value published on sprinkler/<id>/status.
type Status string

const (
	StatusDead         Status = "DEAD"
	StatusAlive        Status = "ALIVE"
	StatusWateringMan  Status = "WATERING.MAN"
	StatusWateringAuto Status = "WATERING.AUTO"
	StatusInit         Status = "INIT"
)

// TriggerEvent is published on sprinkler/<id>/trigger on automatic watering edges.
type TriggerEvent string

const (
	TriggerAutoOn  TriggerEvent = "AUTO.ON"
	TriggerAutoOff TriggerEvent = "AUTO.OFF"
)

// Manual commands received on sprinkler/<id>/trigger.
const (
	CommandManualOn  = "MAN.ON"
	CommandManualOff = "MAN.OFF"
)
