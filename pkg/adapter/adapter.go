// Package adapter provides a uniform CAN transport over heterogeneous
// backends: slcan serial dongles, Linux SocketCAN and J2534 pass-through
// drivers. Backends register themselves at init time; callers select one
// by name and never fall back to another silently.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrAdapterUnknown = errors.New("unknown adapter")
	ErrPortClosed     = errors.New("port closed")
	ErrDroppedFrame   = errors.New("receive buffer full, frame dropped")
)

// Adapter is a single open CAN link. Open must be called before Send or
// Recv; a failed Open leaves the adapter unusable. Recv has a single
// consumer.
type Adapter interface {
	Name() string
	Open(ctx context.Context) error
	Send(frame *Frame) error
	Recv() <-chan *Frame
	Err() <-chan error
	SetFilter(identifiers []uint32) error
	Close() error
}

type NewFunc func(cfg *Config) (Adapter, error)

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                NewFunc
}

var registry = map[string]*AdapterInfo{}

// Register adds a backend to the registry. Called from init() in each
// backend file; duplicate names are a programming error.
func Register(info *AdapterInfo) error {
	if _, ok := registry[info.Name]; ok {
		return fmt.Errorf("adapter %q already registered", info.Name)
	}
	registry[info.Name] = info
	return nil
}

// New creates the named backend without opening it.
func New(name string, cfg *Config) (Adapter, error) {
	info, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrAdapterUnknown, name, List())
	}
	return info.New(cfg)
}

// Get returns registration info for the named backend.
func Get(name string) (*AdapterInfo, error) {
	info, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterUnknown, name)
	}
	return info, nil
}

// List returns the registered backend names sorted alphabetically.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
