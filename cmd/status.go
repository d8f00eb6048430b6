package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ptcan/msdflash/pkg/mdns"
	"github.com/spf13/cobra"
)

var statusRemote string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running serve instance",
	Long: `Fetches /api/status from a serve instance and prints it. A .local host
name is resolved over multicast DNS, so the default finds an announcing
instance anywhere on the LAN.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusRemote, "remote", mdns.DefaultName+":8723", "host:port of the serve instance")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	remote := statusRemote
	if host, port, err := net.SplitHostPort(remote); err == nil && strings.HasSuffix(host, ".local") {
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		addr, err := mdns.Lookup(rctx, host)
		cancel()
		if err != nil {
			return err
		}
		remote = net.JoinHostPort(addr.String(), port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+remote+"/api/status", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status query: %s", resp.Status)
	}

	var st struct {
		Profile  string `json:"profile"`
		Adapter  string `json:"adapter"`
		Session  string `json:"session"`
		Driver   string `json:"driver"`
		Progress *struct {
			Stage string `json:"stage"`
			Name  string `json:"name"`
			Done  int    `json:"done"`
			Total int    `json:"total"`
		} `json:"progress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}

	fmt.Printf("%-9s %s\n", "Profile:", st.Profile)
	fmt.Printf("%-9s %s\n", "Adapter:", st.Adapter)
	fmt.Printf("%-9s %s\n", "Session:", st.Session)
	fmt.Printf("%-9s %s\n", "Driver:", st.Driver)
	if st.Progress != nil && st.Progress.Total > 0 {
		fmt.Printf("%-9s %s %s %d/%d bytes\n", "Job:",
			st.Progress.Stage, st.Progress.Name, st.Progress.Done, st.Progress.Total)
	}
	return nil
}
