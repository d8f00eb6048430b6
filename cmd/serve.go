package cmd

import (
	"context"
	"log"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/mdns"
	"github.com/ptcan/msdflash/pkg/server"
	"github.com/ptcan/msdflash/pkg/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveListen   string
	serveAnnounce bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll telemetry and expose it over HTTP",
	Long: `Opens the diagnostic session, polls the profile's telemetry signals and
serves them over HTTP: /api/health, /api/status, /api/ecu/info,
/api/signals and a websocket event stream on /ws.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", server.DefaultListen, "listen address")
	serveCmd.Flags().BoolVar(&serveAnnounce, "announce", true, "answer multicast DNS queries for "+mdns.DefaultName)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	l, err := openLink(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.client.Open(ctx, l.profile.SessionDefault); err != nil {
		return err
	}

	if serveAnnounce {
		stop, err := mdns.Announce("")
		if err != nil {
			log.Println("mdns announce:", err)
		} else {
			defer stop()
		}
	}

	poller := telemetry.New(l.client, telemetry.Config{
		Definitions: l.profile.Signals,
		OnMessage:   func(s string) { log.Println(s) },
	})

	srv := server.New(server.Config{
		Listen:  serveListen,
		Profile: l.profile.Name,
		Status: func() server.Status {
			return server.Status{
				Adapter: adapterName,
				Session: l.client.State().String(),
				Driver:  l.client.Driver().String(),
			}
		},
		Info: func(ctx context.Context) (ecu.Info, error) {
			info, err := ecu.ReadInfo(ctx, l.client)
			if err != nil {
				return ecu.Info{}, err
			}
			return *info, nil
		},
		OnMessage: func(s string) { log.Println(s) },
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		defer poller.Stop()
		return poller.Start(gctx)
	})
	return g.Wait()
}
