package flasher

import (
	"context"
	"fmt"
	"io"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/kwp2000"
)

// Backup reads regions out of the ECU into w, boot sector included when
// the whole flash is dumped. Regions default to the full span. Bytes are
// written in address order, so a full dump is byte-compatible with the
// profile's image format.
func (f *Flasher) Backup(ctx context.Context, w io.Writer, regions ...ecu.Region) error {
	if w == nil {
		return fmt.Errorf("nil writer")
	}
	if len(regions) == 0 {
		regions = []ecu.Region{f.profile.FullSpan()}
	}
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
	chunk := uint32(f.profile.ReadChunk)
	var total, done int
	for _, r := range regions {
		total += int(r.Size)
	}
	for _, r := range regions {
		f.message(fmt.Sprintf("Reading %s", r))
		for off := uint32(0); off < r.Size; off += chunk {
			n := min(chunk, r.Size-off)
			data, err := f.client.ReadMemoryByAddress(ctx, r.Addr+off, int(n))
			if err != nil {
				return fmt.Errorf("read 0x%06X: %w", r.Addr+off, err)
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
			done += len(data)
			f.progress(Progress{Stage: StageBackup, Region: r.Name, Addr: r.Addr + off, Done: done, Total: total})
		}
	}
	f.message(fmt.Sprintf("Backup complete, %d bytes", done))
	return nil
}
