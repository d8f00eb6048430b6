package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ptcan/msdflash/pkg/adapter"
	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/isotp"
	"github.com/ptcan/msdflash/pkg/kwp2000"
)

// link bundles one open CAN connection with the diagnostic client built
// on top of it.
type link struct {
	profile *ecu.Profile
	dev     adapter.Adapter
	client  *kwp2000.Client
}

// openLink resolves the profile, opens the CAN adapter and stacks the
// transport protocol and diagnostic client on it. No diagnostic session
// is started; commands open the session they need.
func openLink(ctx context.Context) (*link, error) {
	profile, err := ecu.Get(profileName)
	if err != nil {
		return nil, err
	}
	rate := profile.CANRate
	if bitrate > 0 {
		rate = bitrate
	}
	dev, err := adapter.New(adapterName, &adapter.Config{
		Port:         portName,
		PortBaudrate: baudRate,
		CANRate:      rate,
		Filter:       []uint32{profile.ResponseID},
		OnMessage:    func(s string) { log.Println(s) },
		OnError:      func(err error) { log.Println(err) },
		Debug:        traceFrames,
	})
	if err != nil {
		return nil, err
	}
	if err := dev.Open(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", adapterName, err)
	}
	codec := isotp.New(dev, isotp.Config{
		TxID: profile.TesterID,
		RxID: profile.ResponseID,
	})
	client := kwp2000.New(codec, profile.SessionConfig(func(s string) { log.Println(s) }))
	return &link{profile: profile, dev: dev, client: client}, nil
}

// Close tears the stack down: ends the diagnostic session if one is
// still up, then closes the CAN device. Runs on its own deadline so
// teardown works after the command context died.
func (l *link) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.client.Close(ctx); err != nil {
		log.Println("session close:", err)
	}
	if err := l.dev.Close(); err != nil {
		log.Println("link close:", err)
	}
}
