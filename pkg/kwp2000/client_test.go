package kwp2000

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ptcan/msdflash/pkg/seedkey"
)

func init() {
	// Variant used by the handshake tests: seed 12 34 at level 1 keys
	// to AB CD, anything else keys to 00 00.
	if err := seedkey.Register("X", func(seed []byte, level byte) ([]byte, error) {
		if len(seed) == 2 && seed[0] == 0x12 && seed[1] == 0x34 && level == 0x01 {
			return []byte{0xAB, 0xCD}, nil
		}
		return []byte{0x00, 0x00}, nil
	}); err != nil {
		panic(err)
	}
}

// fakeECU scripts the far side of the link. The handler returns the
// messages queued in response to one request; returning none simulates
// an ECU that stays silent.
type fakeECU struct {
	mu      sync.Mutex
	sent    [][]byte
	queue   [][]byte
	handler func(req []byte) [][]byte
}

func (f *fakeECU) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte{}, payload...))
	if f.handler != nil {
		f.queue = append(f.queue, f.handler(payload)...)
	}
	return nil
}

func (f *fakeECU) Recv(ctx context.Context) ([]byte, error) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			resp := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return resp, nil
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeECU) Flush() {
	f.mu.Lock()
	f.queue = nil
	f.mu.Unlock()
}

func (f *fakeECU) requests(service byte) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, msg := range f.sent {
		if len(msg) > 0 && msg[0] == service {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeECU) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// happyECU answers every service the way a cooperative MSD80 would.
func happyECU(req []byte) [][]byte {
	switch req[0] {
	case START_DIAGNOSTIC_SESSION:
		return [][]byte{{0x50, req[1]}}
	case SECURITY_ACCESS:
		if req[1]%2 == 1 {
			return [][]byte{{0x67, req[1], 0x12, 0x34}}
		}
		if bytes.Equal(req[2:], []byte{0xAB, 0xCD}) {
			return [][]byte{{0x67, req[1]}}
		}
		return [][]byte{{0x7F, SECURITY_ACCESS, INVALID_KEY}}
	case TESTER_PRESENT:
		return [][]byte{{0x7E}}
	case REQUEST_DOWNLOAD:
		return [][]byte{{0x74, 0x02, 0x08, 0x00}}
	case TRANSFER_DATA:
		return [][]byte{{0x76}}
	case REQUEST_TRANSFER_EXIT:
		return [][]byte{{0x77}}
	case START_ROUTINE_BY_LOCAL_IDENTIFIER:
		return [][]byte{{0x71, req[1]}}
	case ECU_RESET:
		return [][]byte{{0x51}}
	default:
		return [][]byte{{0x7F, req[0], SERVICE_NOT_SUPPORTED}}
	}
}

func newTestClient(handler func([]byte) [][]byte, cfg Config) (*Client, *fakeECU) {
	ecu := &fakeECU{handler: handler}
	if cfg.Variant == "" {
		cfg.Variant = "X"
	}
	if cfg.P2 == 0 {
		cfg.P2 = 40 * time.Millisecond
	}
	if cfg.P2Extended == 0 {
		cfg.P2Extended = 80 * time.Millisecond
	}
	cfg.OnMessage = func(string) {}
	return New(ecu, cfg), ecu
}

func TestOpenDefaultSession(t *testing.T) {
	c, _ := newTestClient(happyECU, Config{})
	if err := c.Open(context.Background(), SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if c.State() != Active {
		t.Errorf("state = %s, want Active", c.State())
	}
}

func TestOpenProgrammingSession(t *testing.T) {
	c, _ := newTestClient(happyECU, Config{})
	if err := c.Open(context.Background(), SESSION_PROGRAMMING); err != nil {
		t.Fatal(err)
	}
	if c.State() != SessionOpen {
		t.Errorf("state = %s, want SessionOpen", c.State())
	}
}

func TestOpenRejected(t *testing.T) {
	c, _ := newTestClient(func(req []byte) [][]byte {
		return [][]byte{{0x7F, START_DIAGNOSTIC_SESSION, CONDITIONS_NOT_CORRECT_OR_REQUEST_SEQUENCE_ERROR}}
	}, Config{})
	err := c.Open(context.Background(), SESSION_PROGRAMMING)
	if !errors.Is(err, ErrSessionRejected) {
		t.Errorf("error = %v, want ErrSessionRejected", err)
	}
	if c.State() != Closed {
		t.Errorf("state = %s, want Closed", c.State())
	}
}

func TestOpenRetriesTimeout(t *testing.T) {
	var opens int
	c, _ := newTestClient(func(req []byte) [][]byte {
		if req[0] != START_DIAGNOSTIC_SESSION {
			return happyECU(req)
		}
		opens++
		if opens < 3 {
			return nil // silence
		}
		return [][]byte{{0x50, req[1]}}
	}, Config{})
	if err := c.Open(context.Background(), SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if opens != 3 {
		t.Errorf("session control sent %d times, want 3", opens)
	}
}

func TestCloseLeavesSession(t *testing.T) {
	ctx := context.Background()

	t.Run("default", func(t *testing.T) {
		c, ecu := newTestClient(happyECU, Config{})
		if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
			t.Fatal(err)
		}
		if err := c.Close(ctx); err != nil {
			t.Fatal(err)
		}
		if c.State() != Closed {
			t.Errorf("state = %s, want Closed", c.State())
		}
		if n := len(ecu.requests(STOP_COMMUNICATION)); n != 1 {
			t.Errorf("StopCommunication sent %d times, want 1", n)
		}
		if n := len(ecu.requests(ECU_RESET)); n != 0 {
			t.Errorf("default session close sent %d resets", n)
		}
	})

	t.Run("programming", func(t *testing.T) {
		c, ecu := newTestClient(happyECU, Config{})
		if err := c.Open(ctx, SESSION_PROGRAMMING); err != nil {
			t.Fatal(err)
		}
		if err := c.Close(ctx); err != nil {
			t.Fatal(err)
		}
		if c.State() != Closed {
			t.Errorf("state = %s, want Closed", c.State())
		}
		if n := len(ecu.requests(ECU_RESET)); n != 1 {
			t.Errorf("reset sent %d times, want 1", n)
		}
		if n := len(ecu.requests(STOP_COMMUNICATION)); n != 0 {
			t.Errorf("programming session close sent %d StopCommunication", n)
		}
	})
}

func TestStopCommunication(t *testing.T) {
	ctx := context.Background()
	c, ecu := newTestClient(happyECU, Config{})
	if err := c.StopCommunication(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if err := c.StopCommunication(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != Closed {
		t.Errorf("state = %s, want Closed", c.State())
	}
	if n := len(ecu.requests(STOP_COMMUNICATION)); n != 1 {
		t.Errorf("StopCommunication sent %d times, want 1", n)
	}
}

func TestUnlockEndToEnd(t *testing.T) {
	c, ecu := newTestClient(happyECU, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_PROGRAMMING); err != nil {
		t.Fatal(err)
	}
	if err := c.Unlock(ctx, 0x01); err != nil {
		t.Fatal(err)
	}
	if c.State() != Active {
		t.Errorf("state = %s, want Active", c.State())
	}
	if c.SecurityLevel() != 0x01 {
		t.Errorf("level = 0x%02X, want 0x01", c.SecurityLevel())
	}
	reqs := ecu.requests(SECURITY_ACCESS)
	if len(reqs) != 2 {
		t.Fatalf("security access sent %d times, want 2", len(reqs))
	}
	if !bytes.Equal(reqs[0], []byte{SECURITY_ACCESS, 0x01}) {
		t.Errorf("seed request = % X", reqs[0])
	}
	if !bytes.Equal(reqs[1], []byte{SECURITY_ACCESS, 0x02, 0xAB, 0xCD}) {
		t.Errorf("key submission = % X", reqs[1])
	}
}

func TestThreeDenialsLockout(t *testing.T) {
	c, ecu := newTestClient(func(req []byte) [][]byte {
		if req[0] == SECURITY_ACCESS && req[1]%2 == 0 {
			return [][]byte{{0x7F, SECURITY_ACCESS, INVALID_KEY}}
		}
		return happyECU(req)
	}, Config{LockoutCooldown: time.Hour})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_PROGRAMMING); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		if _, err := c.RequestSeed(ctx, 0x01); err != nil {
			t.Fatalf("seed request %d: %v", i, err)
		}
		err := c.SubmitKey(ctx, []byte{0xDE, 0xAD})
		switch {
		case i < 3 && !errors.Is(err, ErrInvalidKey):
			t.Fatalf("denial %d: error = %v, want ErrInvalidKey", i, err)
		case i == 3 && !errors.Is(err, ErrSecurityLockout):
			t.Fatalf("denial %d: error = %v, want ErrSecurityLockout", i, err)
		}
	}
	if c.State() != SecurityLockout {
		t.Fatalf("state = %s, want SecurityLockout", c.State())
	}

	// Suppressed submissions must not reach the wire.
	before := ecu.sentCount()
	if err := c.SubmitKey(ctx, []byte{0xAB, 0xCD}); !errors.Is(err, ErrSecurityLockout) {
		t.Errorf("error = %v, want ErrSecurityLockout", err)
	}
	if _, err := c.RequestSeed(ctx, 0x01); !errors.Is(err, ErrSecurityLockout) {
		t.Errorf("error = %v, want ErrSecurityLockout", err)
	}
	if ecu.sentCount() != before {
		t.Errorf("lockout generated wire traffic: %d frames", ecu.sentCount()-before)
	}
}

func TestLockoutCooldownExpires(t *testing.T) {
	denials := 0
	c, _ := newTestClient(func(req []byte) [][]byte {
		if req[0] == SECURITY_ACCESS && req[1]%2 == 0 {
			denials++
			if denials <= 3 {
				return [][]byte{{0x7F, SECURITY_ACCESS, INVALID_KEY}}
			}
			return [][]byte{{0x67, req[1]}}
		}
		return happyECU(req)
	}, Config{LockoutCooldown: 20 * time.Millisecond})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_PROGRAMMING); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.RequestSeed(ctx, 0x01); err != nil {
			t.Fatal(err)
		}
		c.SubmitKey(ctx, []byte{0xDE, 0xAD})
	}
	if c.State() != SecurityLockout {
		t.Fatalf("state = %s, want SecurityLockout", c.State())
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := c.RequestSeed(ctx, 0x01); err != nil {
		t.Fatalf("seed request after cooldown: %v", err)
	}
	if err := c.SubmitKey(ctx, []byte{0xAB, 0xCD}); err != nil {
		t.Fatalf("key after cooldown: %v", err)
	}
	if c.State() != Active {
		t.Errorf("state = %s, want Active", c.State())
	}
}

func TestZeroSeedUnlocked(t *testing.T) {
	c, ecu := newTestClient(func(req []byte) [][]byte {
		if req[0] == SECURITY_ACCESS {
			return [][]byte{{0x67, req[1], 0x00, 0x00}}
		}
		return happyECU(req)
	}, Config{ZeroSeed: ZeroSeedUnlocked})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_PROGRAMMING); err != nil {
		t.Fatal(err)
	}
	if err := c.Unlock(ctx, 0x01); err != nil {
		t.Fatal(err)
	}
	if c.State() != Active {
		t.Errorf("state = %s, want Active", c.State())
	}
	for _, req := range ecu.requests(SECURITY_ACCESS) {
		if req[1]%2 == 0 {
			t.Errorf("key sent despite zero seed: % X", req)
		}
	}
}

func TestZeroSeedUnsupported(t *testing.T) {
	c, _ := newTestClient(func(req []byte) [][]byte {
		if req[0] == SECURITY_ACCESS {
			return [][]byte{{0x67, req[1], 0x00, 0x00}}
		}
		return happyECU(req)
	}, Config{ZeroSeed: ZeroSeedUnsupported})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_PROGRAMMING); err != nil {
		t.Fatal(err)
	}
	if err := c.Unlock(ctx, 0x01); !errors.Is(err, ErrLevelUnsupported) {
		t.Errorf("error = %v, want ErrLevelUnsupported", err)
	}
}

func TestResponsePendingExtendsOnce(t *testing.T) {
	c, _ := newTestClient(func(req []byte) [][]byte {
		if req[0] == START_ROUTINE_BY_LOCAL_IDENTIFIER {
			return [][]byte{
				{0x7F, START_ROUTINE_BY_LOCAL_IDENTIFIER, REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING},
				{0x71, req[1]},
			}
		}
		return happyECU(req)
	}, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if err := c.EraseFlash(ctx); err != nil {
		t.Fatalf("pending then positive should succeed: %v", err)
	}
}

func TestResponsePendingTwiceFails(t *testing.T) {
	c, _ := newTestClient(func(req []byte) [][]byte {
		if req[0] == START_ROUTINE_BY_LOCAL_IDENTIFIER {
			return [][]byte{
				{0x7F, START_ROUTINE_BY_LOCAL_IDENTIFIER, REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING},
				{0x7F, START_ROUTINE_BY_LOCAL_IDENTIFIER, REQUEST_CORRECTLY_RECEIVED_RESPONSE_PENDING},
				{0x71, req[1]},
			}
		}
		return happyECU(req)
	}, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if err := c.EraseFlash(ctx); !errors.Is(err, ErrRequestCorrectlyReceivedResponsePending) {
		t.Errorf("error = %v, want response pending", err)
	}
}

func TestTransferCounterAdvances(t *testing.T) {
	c, ecu := newTestClient(happyECU, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RequestDownload(ctx, 0, 0x1800); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := c.TransferData(ctx, []byte{0xAA}); err != nil {
			t.Fatal(err)
		}
	}
	blocks := ecu.requests(TRANSFER_DATA)
	if len(blocks) != 3 {
		t.Fatalf("sent %d blocks, want 3", len(blocks))
	}
	for i, b := range blocks {
		if b[1] != byte(i+1) {
			t.Errorf("block %d counter = %d, want %d", i, b[1], i+1)
		}
	}
}

func TestRetryableKeepsTransferOpen(t *testing.T) {
	busyOnce := true
	c, ecu := newTestClient(func(req []byte) [][]byte {
		if req[0] == TRANSFER_DATA && busyOnce {
			busyOnce = false
			return [][]byte{{0x7F, TRANSFER_DATA, BUSY_REPEAT_REQUEST}}
		}
		return happyECU(req)
	}, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RequestDownload(ctx, 0, 0x800); err != nil {
		t.Fatal(err)
	}
	err := c.TransferData(ctx, []byte{0x01})
	if !IsRetryable(err) {
		t.Fatalf("busy response not retryable: %v", err)
	}
	if err := c.TransferData(ctx, []byte{0x01}); err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	blocks := ecu.requests(TRANSFER_DATA)
	if len(blocks) != 2 || blocks[0][1] != 1 || blocks[1][1] != 1 {
		t.Errorf("retried block must reuse its counter, got %v", blocks)
	}
}

func TestNegativeMidDownloadStaysActive(t *testing.T) {
	c, _ := newTestClient(func(req []byte) [][]byte {
		if req[0] == TRANSFER_DATA {
			return [][]byte{{0x7F, TRANSFER_DATA, ILLEGAL_ADDRESS_IN_BLOCK_TRANSFER}}
		}
		return happyECU(req)
	}, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RequestDownload(ctx, 0, 0x800); err != nil {
		t.Fatal(err)
	}
	err := c.TransferData(ctx, []byte{0x01})
	if !errors.Is(err, ErrIllegalAddressInBlockTransfer) {
		t.Fatalf("error = %v", err)
	}
	if c.State() != Active {
		t.Errorf("state after aborted download = %s, want Active", c.State())
	}
	if err := c.TransferData(ctx, []byte{0x02}); !errors.Is(err, ErrNoTransfer) {
		t.Errorf("transfer after abort = %v, want ErrNoTransfer", err)
	}
}

func TestSessionBusyWhilePollerDrives(t *testing.T) {
	c, _ := newTestClient(happyECU, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	release, err := c.AcquireDriver(RolePoller)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.RequestDownload(ctx, 0, 0x800); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("error = %v, want ErrSessionBusy", err)
	}
	if _, err := c.AcquireDriver(RoleFlash); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second driver error = %v, want ErrSessionBusy", err)
	}
	release()
	if _, err := c.RequestDownload(ctx, 0, 0x800); err != nil {
		t.Errorf("download after release: %v", err)
	}
}

func TestReadMemoryByAddressWire(t *testing.T) {
	c, ecu := newTestClient(func(req []byte) [][]byte {
		if req[0] == READ_MEMORY_BY_ADDRESS {
			resp := append([]byte{0x63}, make([]byte, 0x10)...)
			return [][]byte{resp}
		}
		return happyECU(req)
	}, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	data, err := c.ReadMemoryByAddress(ctx, 0x010000, 0x10)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0x10 {
		t.Errorf("read %d bytes, want 16", len(data))
	}
	reqs := ecu.requests(READ_MEMORY_BY_ADDRESS)
	want := []byte{0x23, 0x24, 0x00, 0x01, 0x00, 0x00, 0x24, 0x00, 0x00, 0x00, 0x10}
	if len(reqs) != 1 || !bytes.Equal(reqs[0], want) {
		t.Errorf("request = % X, want % X", reqs[0], want)
	}
}

func TestIdentifySkipsRefusedRecords(t *testing.T) {
	c, _ := newTestClient(func(req []byte) [][]byte {
		if req[0] == READ_ECU_IDENTIFICATION {
			switch req[1] {
			case IDENT_VIN:
				return [][]byte{append([]byte{0x5A, IDENT_VIN}, []byte("WBAPL335X9A406358")...)}
			default:
				return [][]byte{{0x7F, READ_ECU_IDENTIFICATION, REQUEST_OUT_OF_RANGE}}
			}
		}
		return happyECU(req)
	}, Config{})
	ctx := context.Background()
	if err := c.Open(ctx, SESSION_PROGRAMMING); err != nil {
		t.Fatal(err)
	}
	info, err := c.Identify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info["vin"] != "WBAPL335X9A406358" {
		t.Errorf("vin = %q", info["vin"])
	}
	if _, ok := info["hardware"]; ok {
		t.Error("refused record present in identification")
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Closed, SessionOpen, true},
		{Closed, Active, false},
		{SessionOpen, SecurityPending, true},
		{SecurityPending, SecurityGranted, true},
		{SecurityPending, Active, false},
		{SecurityGranted, Active, true},
		{SecurityDenied, SecurityPending, true},
		{SecurityDenied, SecurityLockout, true},
		{SecurityLockout, SecurityPending, true},
		{SecurityLockout, Active, false},
		{Active, SecurityPending, true},
		{Active, Closed, true}, // close is always legal
	}
	for _, tt := range tests {
		got, err := transition(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: %v", tt.from, tt.to, err)
		}
		if !tt.ok {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: error = %v, want ErrInvalidTransition", tt.from, tt.to, err)
			}
			if got != tt.from {
				t.Errorf("%s -> %s: state moved to %s on illegal edge", tt.from, tt.to, got)
			}
		}
	}
}

func TestKeepAlive(t *testing.T) {
	c, ecu := newTestClient(happyECU, Config{})
	if err := c.Open(context.Background(), SESSION_DEFAULT); err != nil {
		t.Fatal(err)
	}
	stop := c.StartKeepAlive(10 * time.Millisecond)
	time.Sleep(45 * time.Millisecond)
	stop()
	stop() // idempotent
	n := len(ecu.requests(TESTER_PRESENT))
	if n < 2 {
		t.Errorf("sent %d TesterPresent, want at least 2", n)
	}
	after := ecu.sentCount()
	time.Sleep(25 * time.Millisecond)
	if ecu.sentCount() != after {
		t.Error("keepalive still running after stop")
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsRetryable(ErrBusyRepeatRequest) {
		t.Error("busy not retryable")
	}
	if !IsRetryable(ErrBlockTransferDataChecksumError) {
		t.Error("block checksum not retryable")
	}
	if IsRetryable(ErrInvalidKey) {
		t.Error("invalid key retryable")
	}
	if !IsSecurity(ErrInvalidKey) || !IsSecurity(ErrRequiredTimeDelayNotExpired) {
		t.Error("security NRC not classified")
	}
	if !IsProtocol(ErrIllegalAddressInBlockTransfer) {
		t.Error("block sequence NRC not protocol")
	}
	wrapped := &KWP2000Error{BUSY_REPEAT_REQUEST, "Busy, repeat request"}
	if !IsRetryable(wrapped) {
		t.Error("classification must work on any KWP2000Error value")
	}
}
