package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ptcan/msdflash/pkg/telemetry"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live telemetry dashboard",
	Long: `Polls the profile's telemetry signals over the diagnostic session and
renders them as a live dashboard. Press q to quit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

type valueMsg telemetry.Value

type logMsg string

type pollerDoneMsg struct{ err error }

type monitorTickMsg time.Time

type signalRow struct {
	value float64
	unit  string
	time  time.Time
}

type monitorModel struct {
	profile  string
	adapter  string
	rows     map[string]signalRow
	order    []string
	events   []string
	width    int
	height   int
	quitting bool
	err      error
}

func newMonitorModel() monitorModel {
	return monitorModel{
		profile: profileName,
		adapter: adapterName,
		rows:    make(map[string]signalRow),
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTick(), tea.EnterAltScreen)
}

// monitorTick redraws even without fresh samples so stale signals grey
// out.
func monitorTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case monitorTickMsg:
		return m, monitorTick()
	case valueMsg:
		if _, seen := m.rows[msg.Name]; !seen {
			m.order = append(m.order, msg.Name)
			sort.Strings(m.order)
		}
		m.rows[msg.Name] = signalRow{value: msg.Value, unit: msg.Unit, time: msg.Time}
	case logMsg:
		m.events = append(m.events, time.Now().Format("15:04:05")+" "+string(msg))
		if len(m.events) > 50 {
			m.events = m.events[len(m.events)-50:]
		}
	case pollerDoneMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		if m.err != nil {
			return fmt.Sprintf("poller stopped: %v\n", m.err)
		}
		return "bye\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	staleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("MSDFLASH MONITOR"))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render(fmt.Sprintf("Profile: %s | Adapter: %s | q to quit", m.profile, m.adapter)))
	s.WriteString("\n\n")

	var body strings.Builder
	if len(m.order) == 0 {
		body.WriteString(dimStyle.Render("waiting for samples..."))
	}
	now := time.Now()
	for _, name := range m.order {
		row := m.rows[name]
		style := valueStyle
		if now.Sub(row.time) > 2*time.Second {
			style = staleStyle
		}
		body.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render(fmt.Sprintf("%-16s", name)),
			style.Render(fmt.Sprintf("%10.2f %s", row.value, row.unit)),
		))
	}
	s.WriteString(boxStyle.Render(strings.TrimRight(body.String(), "\n")))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Events"))
	s.WriteString("\n")
	shown := m.events
	maxLines := m.height - len(m.order) - 12
	if maxLines < 3 {
		maxLines = 3
	}
	if len(shown) > maxLines {
		shown = shown[len(shown)-maxLines:]
	}
	var logBody strings.Builder
	if len(shown) == 0 {
		logBody.WriteString(dimStyle.Render("(none)"))
	} else {
		for _, e := range shown {
			logBody.WriteString(e + "\n")
		}
	}
	s.WriteString(boxStyle.Render(strings.TrimRight(logBody.String(), "\n")))
	s.WriteString("\n")
	return s.String()
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	l, err := openLink(ctx)
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.client.Open(ctx, l.profile.SessionDefault); err != nil {
		return err
	}

	p := tea.NewProgram(newMonitorModel())

	poller := telemetry.New(l.client, telemetry.Config{
		Definitions: l.profile.Signals,
		OnMessage:   func(s string) { p.Send(logMsg(s)) },
		OnValue:     func(v telemetry.Value) { p.Send(valueMsg(v)) },
	})
	pollErr := make(chan error, 1)
	go func() {
		err := poller.Start(ctx)
		pollErr <- err
		p.Send(pollerDoneMsg{err: err})
	}()

	_, err = p.Run()
	cancel()
	poller.Stop()
	if err != nil {
		return err
	}
	select {
	case err := <-pollErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	default:
	}
	return nil
}
