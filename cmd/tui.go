// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ican/pkg/ican"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// Per-node activity
type nodeActivity struct {
	id       uint8
	devType  uint8
	frames   uint64
	lastMsg  ican.MsgID
	lastSeen time.Time
	uptime   time.Duration
	hasError bool
}

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	stats         *ican.Statistics
	nodes         map[uint16]*nodeActivity
	errorLog      []errorLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type frameMsg struct {
	frame ican.Frame
}
type decodeErrMsg struct {
	err error
}
type alertMsg struct {
	alerts uint32
}
type busClosedMsg struct {
	err error
}

// plural formats a count with its unit
func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// formatUptime formats an uptime to a human-friendly string
func formatUptime(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}

	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	months := days / 30
	years := months / 12

	seconds %= 60
	minutes %= 60
	hours %= 24
	days %= 30
	months %= 12

	parts := []string{}
	if years > 0 {
		parts = append(parts, plural(years, "year"))
	}
	if months > 0 {
		parts = append(parts, plural(months, "month"))
	}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
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

func initialModel(connInfo string, showAll bool) model {
	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         ican.NewStatistics(),
		nodes:         make(map[uint16]*nodeActivity),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
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
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.nodes = make(map[uint16]*nodeActivity)
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case decodeErrMsg:
		m.stats.Update(nil, msg.err)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.err), true)

	case alertMsg:
		m.addLogEntry(fmt.Sprintf("ADAPTER ALERT: %s", ican.FormatAlerts(msg.alerts)), true)

	case busClosedMsg:
		m.addLogEntry(fmt.Sprintf("BUS CLOSED: %v", msg.err), true)

	case frameMsg:
		m.stats.Update(&msg.frame, nil)
		m.trackNode(msg.frame)

		if msg.frame.Msg() == ican.MsgDeviceError && !msg.frame.Request && msg.frame.Address().NG {
			m.addLogEntry(describeDeviceError(msg.frame), true)
		} else if m.showAll {
			a := msg.frame.Address()
			m.addLogEntry(fmt.Sprintf("%s/%d %s", ican.DeviceType(a.Type), a.DeviceID, a.Msg), false)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// trackNode records the sender of an NG reply
func (m *model) trackNode(f ican.Frame) {
	a := f.Address()
	if !a.NG || f.Request {
		return
	}
	key := uint16(a.Type)<<8 | uint16(a.DeviceID)
	n, ok := m.nodes[key]
	if !ok {
		n = &nodeActivity{id: a.DeviceID, devType: a.Type}
		m.nodes[key] = n
	}
	n.frames++
	n.lastMsg = a.Msg
	n.lastSeen = f.Timestamp
	switch a.Msg {
	case ican.MsgUptime:
		n.uptime = time.Duration(ican.DecodeUptime(f.Payload())) * time.Minute
	case ican.MsgDeviceError:
		n.hasError = true
	}
}

// describeDeviceError formats a DEVICE_ERROR frame for the event log
func describeDeviceError(f ican.Frame) string {
	a := f.Address()
	e := ican.DecodeDeviceError(f.Payload())
	if e.Component == ican.ComponentCAN {
		return fmt.Sprintf("%s/%d DEVICE_ERROR %s: %s", ican.DeviceType(a.Type), a.DeviceID, e.Component, ican.FormatAlerts(e.Alerts))
	}
	return fmt.Sprintf("%s/%d DEVICE_ERROR %s: code %d", ican.DeviceType(a.Type), a.DeviceID, e.Component, e.Code)
}

// tuiStyles is the palette shared by the monitor and control TUIs
type tuiStyles struct {
	title         lipgloss.Style
	header        lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	err           lipgloss.Style
	warning       lipgloss.Style
	box           lipgloss.Style
	focusedBox    lipgloss.Style
	button        lipgloss.Style
	focusedButton lipgloss.Style
}

func newTUIStyles() tuiStyles {
	st := tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		button: lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 2),
	}
	st.focusedBox = st.box.BorderForeground(lipgloss.Color("12"))
	st.focusedButton = st.button.Background(lipgloss.Color("10"))
	return st
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newTUIStyles()

	// Header
	var s strings.Builder
	s.WriteString(st.title.Render("ICAN - BUS MONITOR"))
	s.WriteString("\n")
	s.WriteString(st.header.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset, 'q' quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All frames"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	var ngPercent float64
	if m.stats.TotalFrames > 0 {
		ngPercent = float64(m.stats.NGFrames) * 100.0 / float64(m.stats.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		st.label.Render("Total:"), st.value.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		st.label.Render("NG:"), st.value.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.NGFrames, ngPercent)),
		st.label.Render("Requests:"), st.value.Render(fmt.Sprintf("%d", m.stats.Requests)),
	))

	if m.stats.LegacyFrames > 0 || m.stats.DecodeErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			st.label.Render("Legacy:"), st.warning.Render(fmt.Sprintf("%d", m.stats.LegacyFrames)),
			st.label.Render("Decode Errors:"), st.err.Render(fmt.Sprintf("%d", m.stats.DecodeErrors)),
		))
	}

	if m.stats.DeviceErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s",
			st.label.Render("Device Errors:"), st.err.Render(fmt.Sprintf("%d", m.stats.DeviceErrors)),
		))
		if m.stats.AlertFrames > 0 {
			statsContent.WriteString(fmt.Sprintf(" (%s: %d, %s)",
				st.header.Render("bus alerts"), m.stats.AlertFrames,
				ican.FormatAlerts(m.stats.Alerts),
			))
		}
		statsContent.WriteString("\n")
	}

	if m.stats.ButtonEvents > 0 || m.stats.UpdateFrames > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			st.label.Render("Button Events:"), st.value.Render(fmt.Sprintf("%d", m.stats.ButtonEvents)),
			st.label.Render("Update Frames:"), st.value.Render(fmt.Sprintf("%d", m.stats.UpdateFrames)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		st.label.Render("Frame Rate:"), st.value.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		st.label.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return st.err.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return st.value.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(st.box.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Nodes section (only shown once a node has replied)
	if len(m.nodes) > 0 {
		s.WriteString(st.label.Render("Nodes:"))
		s.WriteString("\n")

		keys := make([]int, 0, len(m.nodes))
		for k := range m.nodes {
			keys = append(keys, int(k))
		}
		sort.Ints(keys)

		nodeContent := strings.Builder{}
		for i, k := range keys {
			n := m.nodes[uint16(k)]
			name := fmt.Sprintf("%-12s", fmt.Sprintf("%s/%d", ican.DeviceType(n.devType), n.id))
			label := st.value.Render(name)
			if n.hasError {
				label = st.err.Render(name)
			}
			nodeContent.WriteString(fmt.Sprintf("%s %s %s",
				label,
				st.header.Render(fmt.Sprintf("%6d frames, last %-24s %s ago",
					n.frames, n.lastMsg, time.Since(n.lastSeen).Truncate(time.Second))),
				func() string {
					if n.uptime > 0 {
						return "up " + formatUptime(n.uptime)
					}
					return ""
				}(),
			))
			if i < len(keys)-1 {
				nodeContent.WriteString("\n")
			}
		}

		s.WriteString(st.box.Render(nodeContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 - len(m.nodes)
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(st.header.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					st.header.Render(timestamp),
					st.err.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					st.header.Render(timestamp),
					st.warning.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(st.box.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
