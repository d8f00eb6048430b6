// Package kwp2000 implements the KWP2000 diagnostic session used on BMW
// powertrain CAN: session control, seed/key security access, data and
// memory reads, the erase routine and the block download sub-protocol.
// The protocol is half-duplex; the client keeps at most one request
// outstanding and owns all session state.
package kwp2000

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ptcan/msdflash/pkg/seedkey"
)

const (
	maxDenials       = 3
	defaultBlockSize = 0x800
)

// Messenger moves whole diagnostic messages between tester and ECU.
// Satisfied by *isotp.Codec.
type Messenger interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Flush()
}

type Config struct {
	Variant         string          // seed/key algorithm name, e.g. "MSD80"
	ZeroSeed        ZeroSeedMeaning // how to read an all-zero seed
	P2              time.Duration   // response deadline for plain services
	P2Extended      time.Duration   // deadline for programming services, also after responsePending
	LockoutCooldown time.Duration   // back-off after the third consecutive denial
	OnMessage       func(string)
}

type Client struct {
	tp  Messenger
	cfg Config

	mu           sync.Mutex
	state        State
	sessionByte  byte
	driver       DriverRole
	level        byte   // granted security level, 0 while locked
	seed         []byte // exact bytes of the outstanding seed
	pendingLevel byte
	denials      int
	lockoutUntil time.Time

	transferActive bool
	blockCounter   byte
}

func New(tp Messenger, cfg Config) *Client {
	if cfg.P2 <= 0 {
		cfg.P2 = 250 * time.Millisecond
	}
	if cfg.P2Extended <= 0 {
		cfg.P2Extended = 5 * time.Second
	}
	if cfg.LockoutCooldown <= 0 {
		cfg.LockoutCooldown = 10 * time.Second
	}
	return &Client{tp: tp, cfg: cfg}
}

func (c *Client) message(str string) {
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(str)
		return
	}
	log.Println(str)
}

// Session returns the session byte of the open session, 0 when closed.
func (c *Client) Session() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionByte
}

// State returns the session's current protocol state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SecurityLevel returns the granted level, 0 while locked.
func (c *Client) SecurityLevel() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Driver returns which component currently owns the session.
func (c *Client) Driver() DriverRole {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driver
}

// AcquireDriver claims the session for one component. The returned
// release must be called when done; a second claim while another role
// holds the session fails with ErrSessionBusy.
func (c *Client) AcquireDriver(role DriverRole) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver != RoleNone && c.driver != role {
		return nil, fmt.Errorf("%w: %s owns the session", ErrSessionBusy, c.driver)
	}
	c.driver = role
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.driver = RoleNone
			c.mu.Unlock()
		})
	}, nil
}

// advance walks edges that are statically legal at the call site. An
// illegal edge is a programming error; it is logged and the walk stops.
func (c *Client) advance(states ...State) {
	for _, s := range states {
		next, err := transition(c.state, s)
		if err != nil {
			log.Println(err)
			return
		}
		c.state = next
	}
}

func (c *Client) reset() {
	c.state = Closed
	c.sessionByte = 0
	c.level = 0
	c.seed = nil
	c.pendingLevel = 0
	c.transferActive = false
	c.blockCounter = 0
}

// request performs one half-duplex exchange: send, then wait for the
// matching positive or negative response. An NRC 0x78 (response pending)
// re-arms the deadline once with P2Extended and is never success.
func (c *Client) request(ctx context.Context, service byte, data []byte, timeout time.Duration) ([]byte, error) {
	msg := make([]byte, 0, 1+len(data))
	msg = append(msg, service)
	msg = append(msg, data...)

	c.tp.Flush()
	if err := c.tp.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("service 0x%02X: %w", service, err)
	}

	extended := false
	deadline := time.Now().Add(timeout)
	for {
		wait, cancel := context.WithDeadline(ctx, deadline)
		resp, err := c.tp.Recv(wait)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("service 0x%02X: %w", service, ErrRequestTimeout)
			}
			return nil, fmt.Errorf("service 0x%02X: %w", service, err)
		}
		switch {
		case len(resp) == 0:
			continue
		case resp[0] == service+POSITIVE_RESPONSE_OFFSET:
			return resp, nil
		case resp[0] == NEGATIVE_RESPONSE && len(resp) >= 3 && resp[1] == service:
			if resp[2] == REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING {
				if extended {
					return nil, fmt.Errorf("service 0x%02X: %w", service, ErrRequestCorrectlyReceivedResponsePending)
				}
				extended = true
				deadline = time.Now().Add(c.cfg.P2Extended)
				continue
			}
			return nil, TranslateErrorCode(resp[2])
		default:
			return nil, fmt.Errorf("%w: service 0x%02X answered % X", ErrUnexpectedResponse, service, resp)
		}
	}
}

// Open starts a diagnostic session. Only link timeouts are retried; a
// negative response means the ECU refused the session type. Default
// sessions are immediately operational, a programming session stays in
// SessionOpen until security access is granted.
func (c *Client) Open(ctx context.Context, session byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		return fmt.Errorf("%w: Open from %s", ErrInvalidState, c.state)
	}
	err := retry.Do(func() error {
		_, err := c.request(ctx, START_DIAGNOSTIC_SESSION, []byte{session}, c.cfg.P2Extended)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrRequestTimeout) }),
	)
	if err != nil {
		return fmt.Errorf("%w (0x%02X): %w", ErrSessionRejected, session, err)
	}
	c.sessionByte = session
	c.advance(SessionOpen)
	if session != SESSION_PROGRAMMING {
		c.advance(Active)
	}
	c.message(fmt.Sprintf("Diagnostic session 0x%02X active", session))
	return nil
}

// RequestSeed asks for the security seed at the given level (odd
// sub-function). A nil seed with nil error means the profile reads an
// all-zero seed as already unlocked; the session is then Active and no
// key must be sent.
func (c *Client) RequestSeed(ctx context.Context, level byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestSeed(ctx, level)
}

func (c *Client) requestSeed(ctx context.Context, level byte) ([]byte, error) {
	switch c.state {
	case SessionOpen, Active, SecurityDenied:
	case SecurityLockout:
		if remaining := time.Until(c.lockoutUntil); remaining > 0 {
			return nil, fmt.Errorf("%w: %s remaining", ErrSecurityLockout, remaining.Round(time.Second))
		}
		c.denials = 0
	default:
		return nil, fmt.Errorf("%w: RequestSeed from %s", ErrInvalidState, c.state)
	}
	resp, err := c.request(ctx, SECURITY_ACCESS, []byte{level}, c.cfg.P2)
	if err != nil {
		return nil, err
	}
	if len(resp) < 3 || resp[1] != level {
		return nil, fmt.Errorf("%w: security access answered % X", ErrUnexpectedResponse, resp)
	}
	seed := append([]byte{}, resp[2:]...)
	if seedkey.IsZero(seed) {
		switch c.cfg.ZeroSeed {
		case ZeroSeedUnlocked:
			c.advance(SecurityPending, SecurityGranted, Active)
			c.level = level
			c.seed = nil
			c.message(fmt.Sprintf("Security level 0x%02X already unlocked", level))
			return nil, nil
		case ZeroSeedUnsupported:
			return nil, fmt.Errorf("%w: level 0x%02X", ErrLevelUnsupported, level)
		default:
			return nil, fmt.Errorf("%w: all-zero seed", ErrUnexpectedResponse)
		}
	}
	c.advance(SecurityPending)
	c.seed = seed
	c.pendingLevel = level
	return seed, nil
}

// SubmitKey sends the computed key (even sub-function). The seed is
// consumed either way. The third consecutive denial locks the session
// out; further submissions are suppressed until the cooldown elapses.
func (c *Client) SubmitKey(ctx context.Context, key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitKey(ctx, key)
}

func (c *Client) submitKey(ctx context.Context, key []byte) error {
	if c.state == SecurityLockout {
		if remaining := time.Until(c.lockoutUntil); remaining > 0 {
			return fmt.Errorf("%w: %s remaining", ErrSecurityLockout, remaining.Round(time.Second))
		}
	}
	if c.state != SecurityPending {
		return fmt.Errorf("%w: SubmitKey from %s", ErrInvalidState, c.state)
	}
	level := c.pendingLevel
	payload := make([]byte, 0, 1+len(key))
	payload = append(payload, level+1)
	payload = append(payload, key...)

	_, err := c.request(ctx, SECURITY_ACCESS, payload, c.cfg.P2)
	c.seed = nil
	if err != nil {
		c.advance(SecurityDenied)
		var kerr *KWP2000Error
		if !errors.As(err, &kerr) {
			// Link error: the seed is stale but nothing was denied, so
			// the attempt counter is untouched.
			return err
		}
		c.denials++
		if c.denials >= maxDenials {
			c.advance(SecurityLockout)
			c.lockoutUntil = time.Now().Add(c.cfg.LockoutCooldown)
			return fmt.Errorf("%w after %d consecutive denials: %w", ErrSecurityLockout, c.denials, kerr)
		}
		return err
	}
	c.advance(SecurityGranted, Active)
	c.level = level
	c.denials = 0
	c.message(fmt.Sprintf("Security access granted at level 0x%02X", level))
	return nil
}

// Unlock runs the full seed/key handshake for one level. An unsupported
// variant fails before any key is sent, so no ECU attempt is consumed.
func (c *Client) Unlock(ctx context.Context, level byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seed, err := c.requestSeed(ctx, level)
	if err != nil {
		return err
	}
	if seed == nil {
		return nil
	}
	key, err := seedkey.Compute(c.cfg.Variant, seed, level)
	if err != nil {
		c.seed = nil
		c.advance(SecurityDenied)
		return err
	}
	return c.submitKey(ctx, key)
}

// Close ends the session. Leaving a programming session reboots the
// unit, so an EcuReset is sent first; default sessions get a best-effort
// StopCommunication instead.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return nil
	}
	var err error
	if c.sessionByte == SESSION_PROGRAMMING {
		_, err = c.request(ctx, ECU_RESET, []byte{0x01}, c.cfg.P2)
	} else {
		err = c.tp.Send(ctx, []byte{STOP_COMMUNICATION})
	}
	c.reset()
	return err
}
