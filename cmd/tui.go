// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// One polling round of the controller
type controllerSample struct {
	timestamp time.Time
	state     evse.State
	lowLevel  evse.LowLevelState
	meter     *evse.EnergyMeterValues
	stats     tfp.StatisticsSnapshot
}

// TUI model
type model struct {
	connInfo      string
	uid           string
	interval      time.Duration
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
	last          *controllerSample
	values        table.Model
}

// Messages
type sampleMsg struct {
	sample *controllerSample
	err    error
}
type connectionLostMsg struct {
	err error
}

var (
	iecStateNames       = []string{"A (no vehicle)", "B (connected)", "C (charging)", "D (ventilation)", "E (error)"}
	vehicleStateNames   = []string{"not connected", "connected", "charging", "error"}
	contactorStateNames = []string{"AC1 off, AC2 off", "AC1 on, AC2 off", "AC1 off, AC2 on", "AC1 on, AC2 on"}
	errorStateNames     = []string{"OK", "switch", "calibration", "DC fault", "contactor", "communication"}
)

func stateName(names []string, i uint8) string {
	if int(i) < len(names) {
		return names[i]
	}
	return fmt.Sprintf("unknown (%d)", i)
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	plural := func(n uint64, unit string) {
		if n == 1 {
			parts = append(parts, "1 "+unit)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
		}
	}
	if days > 0 {
		plural(days, "day")
	}
	if hours > 0 {
		plural(hours, "hour")
	}
	if minutes > 0 {
		plural(minutes, "minute")
	}
	if seconds > 0 || len(parts) == 0 {
		plural(seconds, "second")
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(connInfo, uid string, interval time.Duration) model {
	values := table.New(
		table.WithColumns([]table.Column{
			{Title: "Value", Width: 24},
			{Title: "Reading", Width: 32},
		}),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("15")).Bold(false)
	values.SetStyles(styles)

	return model{
		connInfo:      connInfo,
		uid:           uid,
		interval:      interval,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		values:        values,
	}
}

func (m model) Init() tea.Cmd {
	return tea.EnterAltScreen
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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

	case sampleMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("POLL FAILED: %v", msg.err), true)
			return m, nil
		}
		m.observe(msg.sample)
		m.last = msg.sample
		m.values.SetRows(sampleRows(msg.sample))

	case connectionLostMsg:
		m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)
	}

	return m, nil
}

// observe logs state transitions between two samples
func (m *model) observe(s *controllerSample) {
	if m.last == nil {
		m.addLogEntry(fmt.Sprintf("Connected to EVSE %s", m.uid), false)
		return
	}
	prev := m.last
	if prev.state.IEC61851State != s.state.IEC61851State {
		m.addLogEntry(fmt.Sprintf("IEC 61851 state %s -> %s",
			stateName(iecStateNames, prev.state.IEC61851State), stateName(iecStateNames, s.state.IEC61851State)), false)
	}
	if prev.state.ErrorState != s.state.ErrorState {
		m.addLogEntry(fmt.Sprintf("Error state %s", stateName(errorStateNames, s.state.ErrorState)),
			s.state.ErrorState != evse.ErrorStateOK)
	}
	if s.state.Uptime < prev.state.Uptime {
		m.addLogEntry("Controller restarted", true)
	}
	if n := s.stats.Timeouts; n > prev.stats.Timeouts {
		m.addLogEntry(fmt.Sprintf("%d call(s) timed out", n-prev.stats.Timeouts), true)
	}
}

func sampleRows(s *controllerSample) []table.Row {
	st := s.state
	rows := []table.Row{
		{"IEC 61851 state", stateName(iecStateNames, st.IEC61851State)},
		{"Vehicle", stateName(vehicleStateNames, st.VehicleState)},
		{"Contactor", stateName(contactorStateNames, st.ContactorState)},
		{"Allowed current", fmt.Sprintf("%.1f A", float64(st.AllowedChargingCurrent)/1000)},
		{"Error state", stateName(errorStateNames, st.ErrorState)},
		{"Uptime", formatUptime(uint64(st.Uptime))},
		{"CP duty cycle", fmt.Sprintf("%.1f %%", float64(s.lowLevel.CPPWMDutyCycle)/10)},
		{"Charging time", formatUptime(uint64(s.lowLevel.ChargingTime))},
	}
	if len(s.lowLevel.GPIO) > evse.FrontPanelButtonGPIO {
		rows = append(rows, table.Row{"Front button", fmt.Sprintf("%v", s.lowLevel.GPIO[evse.FrontPanelButtonGPIO])})
	}
	if s.meter != nil {
		rows = append(rows,
			table.Row{"Power", fmt.Sprintf("%.1f W", s.meter.Power)},
			table.Row{"Energy", fmt.Sprintf("%.3f kWh", s.meter.EnergyRelative)},
		)
	}
	return rows
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

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

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("PROVISOR - CONTROLLER MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | EVSE %s | every %s | Press 'q' to quit",
		m.connInfo, m.uid, m.interval)))
	s.WriteString("\n\n")

	if m.last == nil {
		s.WriteString(warningStyle.Render("⏳ Waiting for the first reading..."))
		s.WriteString("\n\n")
	} else {
		// Link statistics
		st := m.last.stats
		statsContent := strings.Builder{}
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PacketsSent)),
			statsLabelStyle.Render("Received:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PacketsReceived)),
			statsLabelStyle.Render("Errors:"), func() string {
				if st.Errors() > 0 {
					return errorStyle.Render(fmt.Sprintf("%d", st.Errors()))
				}
				return statsValueStyle.Render("0")
			}(),
		))
		if st.Errors() > 0 {
			statsContent.WriteString(fmt.Sprintf("%s %d, %s %d, %s %d, %s %d, %s %d\n",
				headerStyle.Render("timeouts"), st.Timeouts,
				headerStyle.Render("unmatched"), st.Unmatched,
				headerStyle.Render("error responses"), st.ErrorResponses,
				headerStyle.Render("decode"), st.DecodeErrors,
				headerStyle.Render("frames"), st.FrameErrors,
			))
		}
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
			statsLabelStyle.Render("Packet Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f pkts/s", st.PacketRate)),
			statsLabelStyle.Render("Error Rate:"), func() string {
				if st.ErrorRate > 0 {
					return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
				}
				return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}(),
		))
		s.WriteString(boxStyle.Render(statsContent.String()))
		s.WriteString("\n\n")

		s.WriteString(boxStyle.Render(m.values.View()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 28 // Reserve space for header, stats and values
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
