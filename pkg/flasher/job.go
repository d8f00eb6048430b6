package flasher

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/image"
)

var ErrJobTransition = errors.New("illegal job state transition")

// JobState tracks a flash job through its lifecycle. Committed, Failed
// and Aborted are terminal.
type JobState int

const (
	Pending JobState = iota
	InProgress
	Verified
	Committed
	Failed
	Aborted
)

func (s JobState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case InProgress:
		return "InProgress"
	case Verified:
		return "Verified"
	case Committed:
		return "Committed"
	case Failed:
		return "Failed"
	case Aborted:
		return "Aborted"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

var jobTransitions = map[JobState][]JobState{
	Pending:    {InProgress, Failed, Aborted},
	InProgress: {Verified, Failed, Aborted},
	Verified:   {Committed, Failed, Aborted},
}

// Block is one TransferData payload with its flash address.
type Block struct {
	Region string
	Addr   uint32
	Data   []byte
}

// Job is one programming work order: the image and the regions to write.
// The sequencer owns the job for its whole lifetime; other goroutines only
// observe state and progress through the accessors.
type Job struct {
	img     *image.Image
	regions []ecu.Region
	full    bool

	mu        sync.Mutex
	state     JobState
	lastAcked uint32
	acked     bool
}

// NewJob builds a job writing the given regions out of img. With no
// regions the job covers the profile's full flash span, which on global
// erase hardware is the only shape the erase routine allows.
func NewJob(img *image.Image, p *ecu.Profile, regions ...ecu.Region) (*Job, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if p == nil {
		return nil, errors.New("nil profile")
	}
	if uint32(img.Len()) != p.FlashSize {
		return nil, fmt.Errorf("image is %d bytes, %s flash is %d", img.Len(), p.Name, p.FlashSize)
	}
	if len(regions) == 0 {
		regions = []ecu.Region{p.FullSpan()}
	}
	sorted := append([]ecu.Region{}, regions...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Addr < sorted[b].Addr })
	contiguous := true
	for k, r := range sorted {
		if r.Size == 0 {
			return nil, fmt.Errorf("region %s is empty", r.Name)
		}
		if r.End() < r.Addr || r.End() > p.FlashSize {
			return nil, fmt.Errorf("region %s outside %s flash", r, p.Name)
		}
		if k == 0 {
			continue
		}
		switch prev := sorted[k-1]; {
		case r.Addr < prev.End():
			return nil, fmt.Errorf("regions %s and %s overlap", prev.Name, r.Name)
		case r.Addr > prev.End():
			contiguous = false
		}
	}
	full := contiguous && sorted[0].Addr == 0 && sorted[len(sorted)-1].End() == p.FlashSize
	return &Job{img: img, regions: sorted, full: full, state: Pending}, nil
}

// State returns the job's current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Regions returns the spans the job writes, ascending.
func (j *Job) Regions() []ecu.Region {
	return append([]ecu.Region{}, j.regions...)
}

// LastAcked returns the address of the last block the ECU acknowledged,
// and whether any block was acknowledged at all.
func (j *Job) LastAcked() (uint32, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastAcked, j.acked
}

func (j *Job) transition(to JobState) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, allowed := range jobTransitions[j.state] {
		if allowed == to {
			j.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrJobTransition, j.state, to)
}

func (j *Job) ack(addr uint32) {
	j.mu.Lock()
	j.lastAcked = addr
	j.acked = true
	j.mu.Unlock()
}

// size is the job's total byte count across regions.
func (j *Job) size() int {
	var total int
	for _, r := range j.regions {
		total += int(r.Size)
	}
	return total
}

// blocksFor cuts one region into ascending transfer blocks of at most
// chunk bytes.
func (j *Job) blocksFor(region ecu.Region, chunk int) ([]Block, error) {
	if chunk <= 0 {
		return nil, fmt.Errorf("block size %d", chunk)
	}
	data, err := j.img.Slice(region.Addr, region.Size)
	if err != nil {
		return nil, err
	}
	blocks := make([]Block, 0, (len(data)+chunk-1)/chunk)
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		blocks = append(blocks, Block{
			Region: region.Name,
			Addr:   region.Addr + uint32(off),
			Data:   data[off:end],
		})
	}
	return blocks, nil
}

// JobError reports a failed or aborted job with the context an operator
// needs: how far programming got and whether that progress is usable.
// It never is on this hardware; the download protocol has no resume.
type JobError struct {
	State     JobState
	LastAcked uint32
	Acked     bool
	Err       error
}

func (e *JobError) Error() string {
	if !e.Acked {
		return fmt.Sprintf("flash job %s before any block was acknowledged: %v", e.State, e.Err)
	}
	return fmt.Sprintf(
		"flash job %s, last acknowledged block at 0x%06X: %v; already written blocks are not resumable, a new attempt restarts from the start of the span",
		e.State, e.LastAcked, e.Err,
	)
}

func (e *JobError) Unwrap() error { return e.Err }
