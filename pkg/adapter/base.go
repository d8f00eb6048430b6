package adapter

import (
	"sync"
)

// BaseAdapter carries the channel plumbing shared by every backend.
// Concrete adapters embed it and run their own send/recv managers.
type BaseAdapter struct {
	name string
	cfg  *Config

	sendChan  chan *Frame
	recvChan  chan *Frame
	errChan   chan error
	closeChan chan struct{}
	closeOnce sync.Once

	filterMu sync.RWMutex
	filter   map[uint32]struct{}
}

func NewBaseAdapter(name string, cfg *Config) BaseAdapter {
	ba := BaseAdapter{
		name:      name,
		cfg:       cfg,
		sendChan:  make(chan *Frame, 10),
		recvChan:  make(chan *Frame, 20),
		errChan:   make(chan error, 3),
		closeChan: make(chan struct{}),
	}
	ba.setFilter(cfg.Filter)
	return ba
}

func (ba *BaseAdapter) Name() string { return ba.name }

func (ba *BaseAdapter) Recv() <-chan *Frame { return ba.recvChan }

func (ba *BaseAdapter) Err() <-chan error { return ba.errChan }

func (ba *BaseAdapter) Send(frame *Frame) error {
	select {
	case <-ba.closeChan:
		return ErrPortClosed
	case ba.sendChan <- frame:
		return nil
	}
}

func (ba *BaseAdapter) SetFilter(identifiers []uint32) error {
	ba.setFilter(identifiers)
	return nil
}

func (ba *BaseAdapter) setFilter(identifiers []uint32) {
	ba.filterMu.Lock()
	defer ba.filterMu.Unlock()
	if len(identifiers) == 0 {
		ba.filter = nil
		return
	}
	ba.filter = make(map[uint32]struct{}, len(identifiers))
	for _, id := range identifiers {
		ba.filter[id] = struct{}{}
	}
}

// accept reports whether the software filter passes the identifier.
func (ba *BaseAdapter) accept(identifier uint32) bool {
	ba.filterMu.RLock()
	defer ba.filterMu.RUnlock()
	if ba.filter == nil {
		return true
	}
	_, ok := ba.filter[identifier]
	return ok
}

// deliver pushes a received frame to the consumer, dropping when the
// consumer lags instead of stalling the bus reader.
func (ba *BaseAdapter) deliver(frame *Frame) {
	if !ba.accept(frame.Identifier) {
		return
	}
	select {
	case ba.recvChan <- frame:
	default:
		ba.Error(ErrDroppedFrame)
	}
}

func (ba *BaseAdapter) Info(msg string) {
	ba.cfg.message(msg)
}

func (ba *BaseAdapter) Error(err error) {
	select {
	case ba.errChan <- err:
	default:
		ba.cfg.error(err)
	}
}

// Close releases the channel plumbing. Backends wrap it with their own
// device teardown.
func (ba *BaseAdapter) Close() error {
	ba.closeOnce.Do(func() {
		close(ba.closeChan)
	})
	return nil
}
