package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ptcan/msdflash/pkg/ebus"
	"github.com/ptcan/msdflash/pkg/kwp2000"
)

var (
	ErrAlreadyRunning = errors.New("poller already running")
	ErrTooManyErrors  = errors.New("too many read errors")
)

const (
	DefaultRate        = 100 * time.Millisecond
	DefaultErrorBudget = 5
)

// Reader is the slice of the diagnostic session the poller drives.
// Satisfied by *kwp2000.Client.
type Reader interface {
	ReadDataByLocalIdentifier(ctx context.Context, ident byte) ([]byte, error)
	AcquireDriver(role kwp2000.DriverRole) (func(), error)
}

type Config struct {
	Definitions []Definition
	DefaultRate time.Duration // cadence for definitions without their own
	ErrorBudget int           // tolerated read errors per second
	OnMessage   func(string)
	OnValue     func(Value) // called for every sample, in addition to the bus
}

// Poller reads the configured records on their own cadences, decodes
// every signal and publishes the values on the bus. Signals sharing a
// record identifier are read together; the fastest one sets the
// record's cadence.
type Poller struct {
	rd  Reader
	cfg Config

	mu      sync.Mutex
	quit    chan struct{}
	running bool
}

func New(rd Reader, cfg Config) *Poller {
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = DefaultRate
	}
	if cfg.ErrorBudget <= 0 {
		cfg.ErrorBudget = DefaultErrorBudget
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string) {}
	}
	return &Poller{rd: rd, cfg: cfg}
}

type pollGroup struct {
	ident byte
	rate  time.Duration
	defs  []Definition
}

func (p *Poller) groups() []pollGroup {
	byIdent := make(map[byte]*pollGroup)
	for _, def := range p.cfg.Definitions {
		g, ok := byIdent[def.Identifier]
		if !ok {
			g = &pollGroup{ident: def.Identifier, rate: p.cfg.DefaultRate}
			byIdent[def.Identifier] = g
		}
		if def.Rate > 0 && def.Rate < g.rate {
			g.rate = def.Rate
		}
		g.defs = append(g.defs, def)
	}
	out := make([]pollGroup, 0, len(byIdent))
	for _, g := range byIdent {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ident < out[j].ident })
	return out
}

// Start polls until the context is cancelled, Stop is called, or the
// error budget is exhausted. It blocks for the poller's lifetime and
// holds the poller driver role throughout, so the session refuses a
// flash job while polling runs.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	quit := make(chan struct{})
	p.quit = quit
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.quit = nil
		p.mu.Unlock()
	}()

	groups := p.groups()
	if len(groups) == 0 {
		return errors.New("no signal definitions configured")
	}

	release, err := p.rd.AcquireDriver(kwp2000.RolePoller)
	if err != nil {
		return err
	}
	defer release()

	var errCount atomic.Int64
	errg, gctx := errgroup.WithContext(ctx)

	errg.Go(func() error {
		secondTicker := time.NewTicker(time.Second)
		defer secondTicker.Stop()
		for {
			select {
			case <-quit:
				return nil
			case <-gctx.Done():
				return nil
			case <-secondTicker.C:
				if n := errCount.Swap(0); n > int64(p.cfg.ErrorBudget) {
					return fmt.Errorf("%w: %d in the last second", ErrTooManyErrors, n)
				}
			}
		}
	})

	for _, g := range groups {
		g := g
		errg.Go(func() error {
			t := time.NewTicker(g.rate)
			defer t.Stop()
			for {
				select {
				case <-quit:
					return nil
				case <-gctx.Done():
					return nil
				case <-t.C:
					record, err := p.rd.ReadDataByLocalIdentifier(gctx, g.ident)
					if err != nil {
						if gctx.Err() != nil {
							return nil
						}
						errCount.Add(1)
						p.cfg.OnMessage(err.Error())
						continue
					}
					ts := time.Now()
					for _, def := range g.defs {
						raw, err := def.DecodeRaw(record)
						if err != nil {
							errCount.Add(1)
							p.cfg.OnMessage(err.Error())
							continue
						}
						value, err := def.Decode(record)
						if err != nil {
							errCount.Add(1)
							continue
						}
						ebus.Publish(def.Name, value)
						if p.cfg.OnValue != nil {
							p.cfg.OnValue(Value{
								Name:  def.Name,
								Value: value,
								Raw:   raw,
								Unit:  def.Unit,
								Time:  ts,
							})
						}
					}
				}
			}
		})
	}

	p.cfg.OnMessage(fmt.Sprintf("Polling %d signals in %d records", len(p.cfg.Definitions), len(groups)))
	return errg.Wait()
}

// Stop ends the current Start call. Safe to call more than once; the
// poller can be started again afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.quit == nil {
		return
	}
	close(p.quit)
	p.quit = nil
}
