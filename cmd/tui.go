// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/bmslink/internal/log"
	"github.com/Thermoquad/bmslink/internal/metrics"
	"github.com/Thermoquad/bmslink/internal/vcu"
	"github.com/Thermoquad/bmslink/pkg/bmscan"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive TUI for the VCU control loop",
	Long: `Run the VCU control loop behind a terminal UI.

Shows the last BMS heartbeat (state and a state of charge bar), the last
discharge response, the current VCU heartbeat mode, frame statistics and an
event log. Operator keys are the same as the console command (v, d, h);
Ctrl+C quits.

Structured logs are suppressed unless --log.output-paths names a file.`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model
type model struct {
	connInfo string
	keys     *vcu.KeyQueue
	period   uint32

	stats         *bmscan.Statistics
	mode          vcu.Mode
	heartbeat     *bmscan.BMSHeartbeat
	heartbeatAt   time.Time
	discharge     *bmscan.DischargeResponse
	sent          uint64
	faults        uint64
	lastFault     vcu.FaultCode
	soc           progress.Model
	eventLog      []logEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type loopEventMsg vcu.Event
type operatorLineMsg string

// programSink forwards operator lines to the TUI
type programSink struct {
	p *tea.Program
}

func (s programSink) Println(line string) {
	s.p.Send(operatorLineMsg(line))
}

func initialModel(connInfo string, keys *vcu.KeyQueue, vc vcu.Config) model {
	return model{
		connInfo:      connInfo,
		keys:          keys,
		period:        vc.HeartbeatPeriod,
		stats:         bmscan.NewStatistics(),
		mode:          vc.InitialMode,
		soc:           progress.New(progress.WithDefaultGradient()),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		if msg.Type == tea.KeyRunes && len(msg.Runes) == 1 && msg.Runes[0] < 0x80 {
			if !m.keys.Push(byte(msg.Runes[0])) {
				m.addLogEntry("Key queue full", true)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.soc.Width = min(msg.Width-20, 60)

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case operatorLineMsg:
		for _, line := range strings.Split(strings.ReplaceAll(string(msg), "\r\n", "\n"), "\n") {
			m.addLogEntry(line, strings.HasPrefix(line, "CAN Error"))
		}

	case loopEventMsg:
		m.applyEvent(vcu.Event(msg))

	case progress.FrameMsg:
		pm, cmd := m.soc.Update(msg)
		m.soc = pm.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m *model) applyEvent(e vcu.Event) {
	switch e.Kind {
	case vcu.EventFrameReceived:
		m.stats.Update(e.Anomalies)
		for _, a := range e.Anomalies {
			m.addLogEntry(fmt.Sprintf("%s: %s", bmscan.FormatMessageKind(e.Message.Kind), a.Message), true)
		}
		switch e.Message.Kind {
		case bmscan.KindBMSHeartbeat:
			hb := e.Message.Heartbeat
			m.heartbeat = &hb
			m.heartbeatAt = e.Time
		case bmscan.KindBMSDischargeResponse:
			r := e.Message.DischargeResponse.Response
			m.discharge = &r
		}
	case vcu.EventFrameSent:
		m.sent++
	case vcu.EventModeChanged:
		m.mode = e.Mode
	case vcu.EventFault:
		m.faults++
		m.lastFault = e.Fault
		m.stats.RecordFault()
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	if message == "" {
		return
	}
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("BMSLINK - VCU CONTROL"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | 'v' heartbeat mode, 'd' discharge request, 'h' help | Ctrl+C to quit", m.connInfo)))
	s.WriteString("\n\n")

	// BMS
	bms := strings.Builder{}
	if m.heartbeat == nil {
		bms.WriteString(warningStyle.Render("Waiting for BMS heartbeat..."))
	} else {
		stateName := bmscan.BMSStateName(m.heartbeat.State)
		stateRender := valueStyle.Render(stateName)
		if !m.heartbeat.State.Valid() || m.heartbeat.State == bmscan.BMSStateError {
			stateRender = errorStyle.Render(fmt.Sprintf("%s (%d)", stateName, m.heartbeat.State))
		}
		age := time.Since(m.heartbeatAt).Truncate(100 * time.Millisecond)
		bms.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("BMS State:"), stateRender,
			labelStyle.Render("Last heartbeat:"), headerStyle.Render(age.String()+" ago"),
		))
		pct := float64(min(m.heartbeat.SOCPercentage, bmscan.SOCMaxPercentage)) / bmscan.SOCMaxPercentage
		soc := fmt.Sprintf("%d%%", m.heartbeat.SOCPercentage)
		if m.heartbeat.SOCPercentage > bmscan.SOCMaxPercentage {
			soc = errorStyle.Render(soc + " (out of range)")
		}
		bms.WriteString(fmt.Sprintf("%s %s %s", labelStyle.Render("SOC:"), m.soc.ViewAs(pct), soc))
	}
	if m.discharge != nil {
		bms.WriteString(fmt.Sprintf("\n%s %s",
			labelStyle.Render("Discharge response:"), valueStyle.Render(bmscan.DischargeResponseName(*m.discharge))))
	}
	s.WriteString(boxStyle.Render(bms.String()))
	s.WriteString("\n\n")

	// VCU
	modeRender := valueStyle.Render(m.mode.String())
	if m.mode == vcu.ModeNone {
		modeRender = warningStyle.Render("none (not sending)")
	}
	vcuContent := fmt.Sprintf("%s %s   %s %s   %s %d",
		labelStyle.Render("Heartbeat mode:"), modeRender,
		labelStyle.Render("Period:"), valueStyle.Render(fmt.Sprintf("%d ms", m.period)),
		labelStyle.Render("Frames sent:"), m.sent,
	)
	if m.faults > 0 {
		vcuContent += fmt.Sprintf("\n%s %s", labelStyle.Render("CAN faults:"),
			errorStyle.Render(fmt.Sprintf("%d (last 0x%X)", m.faults, uint32(m.lastFault))))
	}
	s.WriteString(boxStyle.Render(vcuContent))
	s.WriteString("\n\n")

	// Statistics
	s.WriteString(boxStyle.Render(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		labelStyle.Render("Anomaly rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f/s", m.stats.ErrorRate))
			}
			return valueStyle.Render(fmt.Sprintf("%.1f/s", m.stats.ErrorRate))
		}(),
	)))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			style := warningStyle
			if entry.isError {
				style = errorStyle
			}
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), style.Render(entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logContent.String()))

	return s.String()
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger = tuiLogger()

	t, connInfo, err := OpenTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	keys := vcu.NewKeyQueue(16)
	p := tea.NewProgram(initialModel(connInfo, keys, cfg.VCU), tea.WithAltScreen())

	observers := vcu.Observers{
		vcu.ObserverFunc(func(e vcu.Event) { p.Send(loopEventMsg(e)) }),
	}
	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New(cfg.VCU.IDs)
		m.SetMode(cfg.VCU.InitialMode)
		observers = append(observers, m)
	}

	ctrl := vcu.NewController(cfg.VCU, t, vcu.NewSystemClock(), keys, programSink{p: p},
		vcu.WithLogger(logger.WithName("vcu")),
		vcu.WithObserver(observers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	if m != nil {
		g.Go(func() error {
			return m.Serve(gctx, metricsAddr)
		})
	}

	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// tuiLogger keeps log lines off the alternate screen
func tuiLogger() log.Logger {
	for _, out := range logOptions.OutputPaths {
		if out == "stderr" || out == "stdout" {
			return log.NewNopLogger()
		}
	}
	return logger
}
