package kwp2000

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ReadEcuIdentification reads one identification record. Valid as soon
// as a session is open; identification needs no security access.
func (c *Client) ReadEcuIdentification(ctx context.Context, ident byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != SessionOpen && c.state != Active {
		return nil, fmt.Errorf("%w: ReadEcuIdentification from %s", ErrInvalidState, c.state)
	}
	resp, err := c.request(ctx, READ_ECU_IDENTIFICATION, []byte{ident}, c.cfg.P2)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 || resp[1] != ident {
		return nil, fmt.Errorf("%w: identification 0x%02X answered % X", ErrUnexpectedResponse, ident, resp)
	}
	return resp[2:], nil
}

// Identification record identifiers read by Identify, in read order.
var identRecords = []struct {
	Ident byte
	Name  string
}{
	{IDENT_VIN, "vin"},
	{IDENT_HARDWARE, "hardware"},
	{IDENT_SOFTWARE, "software"},
	{IDENT_PART_NUMBER, "part-number"},
}

// Identify reads the standard identification block. Printable records
// are decoded to trimmed ASCII, everything else is hex encoded. Records
// the unit refuses are skipped.
func (c *Client) Identify(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(identRecords))
	for _, rec := range identRecords {
		data, err := c.ReadEcuIdentification(ctx, rec.Ident)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		out[rec.Name] = decodeIdent(data)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no identification records", ErrUnexpectedResponse)
	}
	return out, nil
}

func decodeIdent(data []byte) string {
	trimmed := strings.TrimRight(string(data), "\x00")
	for _, r := range trimmed {
		if r < 0x20 || r > 0x7E {
			return fmt.Sprintf("%X", data)
		}
	}
	return strings.TrimSpace(trimmed)
}

// ReadDataByLocalIdentifier reads one record, the telemetry read path.
func (c *Client) ReadDataByLocalIdentifier(ctx context.Context, ident byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, fmt.Errorf("%w: ReadDataByLocalIdentifier from %s", ErrInvalidState, c.state)
	}
	resp, err := c.request(ctx, READ_DATA_BY_LOCAL_IDENTIFIER, []byte{ident}, c.cfg.P2)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 || resp[1] != ident {
		return nil, fmt.Errorf("%w: local identifier 0x%02X answered % X", ErrUnexpectedResponse, ident, resp)
	}
	return resp[2:], nil
}

// WriteDataByLocalIdentifier writes one record.
func (c *Client) WriteDataByLocalIdentifier(ctx context.Context, ident byte, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return fmt.Errorf("%w: WriteDataByLocalIdentifier from %s", ErrInvalidState, c.state)
	}
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, ident)
	payload = append(payload, data...)
	_, err := c.request(ctx, WRITE_DATA_BY_LOCAL_IDENTIFIER, payload, c.cfg.P2)
	return err
}

// ReadMemoryByAddress reads length bytes starting at addr. The wire
// format carries 4-byte address and length fields, each introduced by a
// 0x24 marker.
func (c *Client) ReadMemoryByAddress(ctx context.Context, addr uint32, length int) ([]byte, error) {
	if length <= 0 || length > 0xFFFF {
		return nil, fmt.Errorf("read length must be 1-65535 bytes, got %d", length)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return nil, fmt.Errorf("%w: ReadMemoryByAddress from %s", ErrInvalidState, c.state)
	}
	payload := []byte{
		0x24, byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr),
		0x24, byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
	}
	resp, err := c.request(ctx, READ_MEMORY_BY_ADDRESS, payload, c.cfg.P2Extended)
	if err != nil {
		return nil, err
	}
	if len(resp)-1 != length {
		return nil, fmt.Errorf("%w: asked for %d bytes at 0x%06X, got %d", ErrUnexpectedResponse, length, addr, len(resp)-1)
	}
	return resp[1:], nil
}

// StartRoutine starts a routine by local identifier and returns once the
// unit acknowledges it. Long-running routines answer responsePending
// first; the extended deadline covers that.
func (c *Client) StartRoutine(ctx context.Context, routine uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return fmt.Errorf("%w: StartRoutine from %s", ErrInvalidState, c.state)
	}
	payload := []byte{ROUTINE_ENTRY_LOCAL, byte(routine >> 8), byte(routine)}
	_, err := c.request(ctx, START_ROUTINE_BY_LOCAL_IDENTIFIER, payload, c.cfg.P2Extended)
	return err
}

// EraseFlash runs the flash erase routine. Everything outside the boot
// sector is gone afterwards; there is no way back but programming.
func (c *Client) EraseFlash(ctx context.Context) error {
	if err := c.StartRoutine(ctx, ROUTINE_ERASE_FLASH); err != nil {
		return fmt.Errorf("erase routine: %w", err)
	}
	c.message("Erase routine acknowledged")
	return nil
}

// RequestDownload opens the block download sub-protocol for a span of
// flash and returns the block length the ECU accepts. Refused while the
// telemetry poller owns the session.
func (c *Client) RequestDownload(ctx context.Context, addr, length uint32) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver == RolePoller {
		return 0, fmt.Errorf("%w: %s owns the session", ErrSessionBusy, c.driver)
	}
	if c.state != Active {
		return 0, fmt.Errorf("%w: RequestDownload from %s", ErrInvalidState, c.state)
	}
	payload := []byte{
		0x00, ADDRESS_AND_LENGTH_FORMAT,
		byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr),
		byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
	}
	resp, err := c.request(ctx, REQUEST_DOWNLOAD, payload, c.cfg.P2Extended)
	if err != nil {
		return 0, err
	}
	maxBlock := defaultBlockSize
	if len(resp) >= 2 {
		if n := int(resp[1]); n > 0 && len(resp) >= 2+n {
			maxBlock = 0
			for _, b := range resp[2 : 2+n] {
				maxBlock = maxBlock<<8 | int(b)
			}
		}
	}
	if maxBlock <= 0 {
		maxBlock = defaultBlockSize
	}
	c.transferActive = true
	c.blockCounter = 1
	return maxBlock, nil
}

// TransferData sends one block under the current download. The block
// counter starts at 1 and wraps through 0x00; it only advances on a
// positive response, so a retried block reuses its counter value. A
// non-retryable negative response ends the sub-protocol and leaves the
// session Active for the caller to decide about the job. Transport and
// context errors leave the sub-protocol open: the ECU never answered,
// so a best-effort RequestTransferExit is still worth sending.
func (c *Client) TransferData(ctx context.Context, block []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.transferActive {
		return ErrNoTransfer
	}
	payload := make([]byte, 0, 1+len(block))
	payload = append(payload, c.blockCounter)
	payload = append(payload, block...)
	if _, err := c.request(ctx, TRANSFER_DATA, payload, c.cfg.P2Extended); err != nil {
		var kerr *KWP2000Error
		if errors.As(err, &kerr) && !IsRetryable(err) {
			c.transferActive = false
		}
		return fmt.Errorf("block %d: %w", c.blockCounter, err)
	}
	c.blockCounter++
	return nil
}

// RequestTransferExit closes the download sub-protocol.
func (c *Client) RequestTransferExit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.transferActive {
		return ErrNoTransfer
	}
	c.transferActive = false
	_, err := c.request(ctx, REQUEST_TRANSFER_EXIT, nil, c.cfg.P2Extended)
	return err
}

// TesterPresent keeps the session alive during long gaps.
func (c *Client) TesterPresent(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return fmt.Errorf("%w: TesterPresent from Closed", ErrInvalidState)
	}
	_, err := c.request(ctx, TESTER_PRESENT, []byte{0x00}, c.cfg.P2)
	return err
}

// StopCommunication ends the diagnostic session without rebooting the
// unit. Fire and forget: a unit tearing its session down rarely answers,
// so no response is awaited. Programming sessions are left with EcuReset
// instead.
func (c *Client) StopCommunication(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return fmt.Errorf("%w: StopCommunication from Closed", ErrInvalidState)
	}
	err := c.tp.Send(ctx, []byte{STOP_COMMUNICATION})
	c.reset()
	return err
}

// EcuReset reboots the unit. Whatever session existed is gone afterwards.
func (c *Client) EcuReset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return fmt.Errorf("%w: EcuReset from Closed", ErrInvalidState)
	}
	_, err := c.request(ctx, ECU_RESET, []byte{0x01}, c.cfg.P2)
	c.reset()
	return err
}
