// Package flasher drives complete ECU programming jobs: session setup,
// erase, the strictly ordered block download, read-back verification and
// the abort sequence that keeps a failed job from stranding the ECU
// mid-write.
package flasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/image"
	"github.com/ptcan/msdflash/pkg/kwp2000"
)

const (
	DefaultRetries    = 3
	DefaultRetryDelay = 200 * time.Millisecond

	// How long the recovery frames get once the job context is dead.
	abortTimeout = 5 * time.Second
)

var ErrVerify = errors.New("verification mismatch")

// Stage labels what phase of an operation a Progress tick belongs to.
type Stage int

const (
	StageErase Stage = iota
	StageProgram
	StageVerify
	StageBackup
)

func (s Stage) String() string {
	switch s {
	case StageErase:
		return "erase"
	case StageProgram:
		return "program"
	case StageVerify:
		return "verify"
	case StageBackup:
		return "backup"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Progress is one progress tick of a running operation.
type Progress struct {
	Stage  Stage
	Region string
	Addr   uint32
	Done   int
	Total  int
}

type Config struct {
	Retries    uint          // attempts per block, retryable errors only
	RetryDelay time.Duration // fixed delay between attempts
	OnMessage  func(string)
	OnProgress func(Progress)
	// ConfirmVerifyRetry gates the single extra verify pass after a
	// read-back mismatch. Nil declines.
	ConfirmVerifyRetry func() bool
}

// Flasher runs programming, backup and verification against one session.
type Flasher struct {
	client  *kwp2000.Client
	profile *ecu.Profile
	cfg     Config
}

func New(client *kwp2000.Client, profile *ecu.Profile, cfg Config) (*Flasher, error) {
	if client == nil {
		return nil, errors.New("nil client")
	}
	if profile == nil {
		return nil, errors.New("nil profile")
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Flasher{client: client, profile: profile, cfg: cfg}, nil
}

func (f *Flasher) message(str string) {
	if f.cfg.OnMessage != nil {
		f.cfg.OnMessage(str)
		return
	}
	log.Println(str)
}

func (f *Flasher) progress(p Progress) {
	if f.cfg.OnProgress != nil {
		f.cfg.OnProgress(p)
	}
}

// Flash drives job to a terminal state. The image's checksum words are
// validated before any ECU contact; once programming has started, every
// failure path runs the abort sequence before the job surfaces as Failed
// or, when ctx was cancelled, Aborted. The returned error on those paths
// is a *JobError carrying the last acknowledged block address.
func (f *Flasher) Flash(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	if err := f.profile.Layout.VerifyImage(job.img.Bytes()); err != nil {
		_ = job.transition(Failed)
		return f.jobError(job, fmt.Errorf("image check: %w", err))
	}
	release, err := f.client.AcquireDriver(kwp2000.RoleFlash)
	if err != nil {
		_ = job.transition(Failed)
		return f.jobError(job, err)
	}
	defer release()
	if err := job.transition(InProgress); err != nil {
		return err
	}
	if err := f.run(ctx, job); err != nil {
		f.abort()
		to := Failed
		if ctx.Err() != nil {
			to = Aborted
		}
		_ = job.transition(to)
		return f.jobError(job, err)
	}
	if err := job.transition(Verified); err != nil {
		return err
	}
	if err := job.transition(Committed); err != nil {
		return err
	}
	f.message("Flash job committed")
	return nil
}

// run is the wire phase: session, erase, program, verify. The keepalive
// spans all of it and is stopped before the caller's abort sequence.
func (f *Flasher) run(ctx context.Context, job *Job) error {
	stop, err := f.session(ctx)
	if err != nil {
		return err
	}
	defer stop()
	if job.full && f.profile.EraseScope == ecu.EraseGlobal {
		f.message("Erasing flash")
		f.progress(Progress{Stage: StageErase, Total: job.size()})
		if err := f.client.EraseFlash(ctx); err != nil {
			return fmt.Errorf("erase: %w", err)
		}
	}
	if err := f.program(ctx, job); err != nil {
		return err
	}
	return f.verifyJob(ctx, job)
}

// session opens the programming session, unlocks it and starts the
// keepalive. The returned stop ends the keepalive only; the session
// itself stays up for the caller. An unlocked session left open by a
// previous operation, a backup directly before flashing for one, is
// reused as is.
func (f *Flasher) session(ctx context.Context) (func(), error) {
	if f.client.State() == kwp2000.Active && f.client.Session() == f.profile.SessionProgramming {
		return f.client.StartKeepAlive(f.profile.KeepAlive), nil
	}
	if err := f.client.Open(ctx, f.profile.SessionProgramming); err != nil {
		return nil, fmt.Errorf("programming session: %w", err)
	}
	if err := f.client.Unlock(ctx, f.profile.SecurityLevel); err != nil {
		return nil, fmt.Errorf("security access: %w", err)
	}
	return f.client.StartKeepAlive(f.profile.KeepAlive), nil
}

// program downloads every region in ascending order. Blocks advance only
// on acknowledgment; a retryable failure resends the same block with the
// same counter value.
func (f *Flasher) program(ctx context.Context, job *Job) error {
	total := job.size()
	var done int
	for _, region := range job.regions {
		f.message(fmt.Sprintf("Programming %s", region))
		maxBlock, err := f.client.RequestDownload(ctx, region.Addr, region.Size)
		if err != nil {
			return fmt.Errorf("request download %s: %w", region.Name, err)
		}
		chunk := f.profile.TransferChunk
		if maxBlock < chunk {
			chunk = maxBlock
			f.message(fmt.Sprintf("ECU limits transfer blocks to %d bytes", maxBlock))
		}
		blocks, err := job.blocksFor(region, chunk)
		if err != nil {
			return err
		}
		for _, b := range blocks {
			if err := f.send(ctx, b); err != nil {
				return err
			}
			job.ack(b.Addr)
			done += len(b.Data)
			f.progress(Progress{Stage: StageProgram, Region: b.Region, Addr: b.Addr, Done: done, Total: total})
		}
		if err := f.client.RequestTransferExit(ctx); err != nil {
			return fmt.Errorf("transfer exit %s: %w", region.Name, err)
		}
	}
	return nil
}

func (f *Flasher) send(ctx context.Context, b Block) error {
	err := retry.Do(
		func() error {
			return f.client.TransferData(ctx, b.Data)
		},
		retry.Attempts(f.cfg.Retries),
		retry.Delay(f.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(kwp2000.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			f.message(fmt.Sprintf("Block 0x%06X attempt %d: %v", b.Addr, n+1, err))
		}),
	)
	if err != nil {
		return fmt.Errorf("transfer at 0x%06X: %w", b.Addr, err)
	}
	return nil
}

// verifyJob is the mandatory post-programming check: read back what the
// ECU now holds and compare it against the image, then re-validate the
// image's checksum words. A mismatch gets exactly one more pass, and only
// with the caller's explicit confirmation.
func (f *Flasher) verifyJob(ctx context.Context, job *Job) error {
	err := f.VerifyAgainst(ctx, job.img, job.regions...)
	if err == nil {
		return f.profile.Layout.VerifyImage(job.img.Bytes())
	}
	f.message(fmt.Sprintf("Verification failed: %v", err))
	if f.cfg.ConfirmVerifyRetry == nil || !f.cfg.ConfirmVerifyRetry() {
		return err
	}
	f.message("Running one more verification pass")
	if err := f.VerifyAgainst(ctx, job.img, job.regions...); err != nil {
		return fmt.Errorf("second pass: %w", err)
	}
	return f.profile.Layout.VerifyImage(job.img.Bytes())
}

// abort issues the recovery sequence on a fresh context: the job context
// is usually already dead, and skipping these frames is exactly the
// stranded-ECU outcome the sequencer exists to prevent. Best effort; a
// non-answering ECU cannot be helped further from here.
func (f *Flasher) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	f.message("Aborting: transfer exit, then ECU reset")
	if err := f.client.RequestTransferExit(ctx); err != nil && !errors.Is(err, kwp2000.ErrNoTransfer) {
		f.message(fmt.Sprintf("Abort transfer exit: %v", err))
	}
	if err := f.client.EcuReset(ctx); err != nil && !errors.Is(err, kwp2000.ErrInvalidState) {
		f.message(fmt.Sprintf("Abort reset: %v", err))
	}
}

func (f *Flasher) jobError(job *Job, err error) error {
	addr, acked := job.LastAcked()
	return &JobError{State: job.State(), LastAcked: addr, Acked: acked, Err: err}
}

// Verify opens a programming session and compares the ECU contents
// against img. Used by the standalone verify command; the post-flash
// check uses VerifyAgainst inside the already open session.
func (f *Flasher) Verify(ctx context.Context, img *image.Image, regions ...ecu.Region) error {
	release, err := f.client.AcquireDriver(kwp2000.RoleFlash)
	if err != nil {
		return err
	}
	defer release()
	stop, err := f.session(ctx)
	if err != nil {
		return err
	}
	defer stop()
	return f.VerifyAgainst(ctx, img, regions...)
}

// VerifyAgainst reads regions back in read-sized chunks and compares
// them against img. With no regions the whole flash is checked. The
// session must already be open and unlocked.
func (f *Flasher) VerifyAgainst(ctx context.Context, img *image.Image, regions ...ecu.Region) error {
	if img == nil {
		return errors.New("nil image")
	}
	if len(regions) == 0 {
		regions = []ecu.Region{f.profile.FullSpan()}
	}
	chunk := uint32(f.profile.ReadChunk)
	var total, done int
	for _, r := range regions {
		total += int(r.Size)
	}
	for _, r := range regions {
		want, err := img.Slice(r.Addr, r.Size)
		if err != nil {
			return err
		}
		for off := uint32(0); off < r.Size; off += chunk {
			n := min(chunk, r.Size-off)
			got, err := f.client.ReadMemoryByAddress(ctx, r.Addr+off, int(n))
			if err != nil {
				return fmt.Errorf("read back 0x%06X: %w", r.Addr+off, err)
			}
			if !bytes.Equal(got, want[off:off+n]) {
				return fmt.Errorf("%w at 0x%06X", ErrVerify, r.Addr+off)
			}
			done += len(got)
			f.progress(Progress{Stage: StageVerify, Region: r.Name, Addr: r.Addr + off, Done: done, Total: total})
		}
	}
	return nil
}
