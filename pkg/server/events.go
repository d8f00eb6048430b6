package server

import "time"

// Event types carried on the websocket stream.
const (
	EventValue    = "value"
	EventProgress = "progress"
)

// Event is one websocket frame. Value events carry Name, Value and
// Time; progress events carry Name (region), Stage, Addr, Done and
// Total.
type Event struct {
	Type  string    `json:"type"`
	Name  string    `json:"name,omitempty"`
	Value float64   `json:"value,omitempty"`
	Time  time.Time `json:"time"`
	Stage string    `json:"stage,omitempty"`
	Addr  uint32    `json:"addr,omitempty"`
	Done  int       `json:"done,omitempty"`
	Total int       `json:"total,omitempty"`
}

// Status is the session half of the /api/status snapshot, supplied by
// the engine owner.
type Status struct {
	Profile string `json:"profile,omitempty"`
	Adapter string `json:"adapter,omitempty"`
	Session string `json:"session"`
	Driver  string `json:"driver,omitempty"`
}

type statusResponse struct {
	Status
	Progress *Event `json:"progress,omitempty"`
}

type infoResponse struct {
	VIN        string `json:"vin"`
	Hardware   string `json:"hardware"`
	Software   string `json:"software"`
	PartNumber string `json:"part_number"`
}

type signalResponse struct {
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}
