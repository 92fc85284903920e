// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/relais"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	discoveryTimeoutSeconds = 3 // Discovery ends N seconds after last node seen
	pingIntervalSeconds     = 5 // Send UPTIME requests every N seconds
)

// Focus states
const (
	focusDeviceList = iota
	focusOutputInput
	focusOnButton
	focusOffButton
	focusRestartButton
)

var errInvalidLine = errors.New("invalid adapter line")

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controlNode is a node shown in the control list
type controlNode struct {
	node     *discoveredNode
	outputs  map[uint8]bool // last state switched from here or seen on the bus
	lastSeen time.Time
}

func (d *controlNode) key() uint16 {
	return uint16(d.node.devType)<<8 | uint16(d.node.id)
}

func (d *controlNode) name() string {
	return fmt.Sprintf("%s/%d", ican.DeviceType(d.node.devType), d.node.id)
}

// hasOutputs reports whether the node type switches relay outputs
func (d *controlNode) hasOutputs() bool {
	switch ican.DeviceType(d.node.devType) {
	case ican.DeviceRelais, ican.DeviceSSR, ican.DeviceLegacyRelais:
		return true
	}
	return false
}

// Implement list.Item interface
func (d *controlNode) Title() string { return d.name() }
func (d *controlNode) Description() string {
	if d.node.version != "" {
		return d.node.version
	}
	if d.node.hasAvailable {
		return d.node.availability.String()
	}
	return "-"
}
func (d *controlNode) FilterValue() string { return d.name() }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Node tracking
	nodes      *discoveredNodes
	devices    []*controlNode
	byKey      map[uint16]*controlNode
	deviceList list.Model

	// Discovery state
	discoveryDone    bool
	discoveryStarted time.Time
	lastDeviceSeen   time.Time

	// Monitoring (reused from tui.go patterns)
	stats         *ican.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int

	// Control
	outputInput  textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool

	lastPingTime time.Time
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlBatchMsg struct {
	frames       []ican.Frame
	decodeErrors int
	alerts       uint32
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string) controlModel {
	// Initialize text input for the output number
	ti := textinput.New()
	ti.Placeholder = "0"
	ti.CharLimit = 1
	ti.Width = 4

	// Initialize device list with empty items
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 30, 10)
	deviceList.Title = "Nodes"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return controlModel{
		connMgr:          connMgr,
		connInfo:         connInfo,
		nodes:            newDiscoveredNodes(),
		devices:          make([]*controlNode, 0),
		byKey:            make(map[uint16]*controlNode),
		deviceList:       deviceList,
		discoveryStarted: time.Now(),
		stats:            ican.NewStatistics(),
		errorLog:         make([]errorLogEntry, 0),
		maxLogEntries:    100,
		outputInput:      ti,
		focusedField:     focusDeviceList,
		width:            80,
		height:           24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		// Nodes answer discovery within milliseconds, so a quiet bus ends it
		if !m.discoveryDone && m.discoveryQuiet(time.Now()) {
			m.finishDiscovery()
		}
		// UPTIME requests keep the node list alive
		if m.discoveryDone && time.Since(m.lastPingTime) >= time.Duration(pingIntervalSeconds)*time.Second {
			m.lastPingTime = time.Now()
			for _, d := range m.devices {
				m.sendUptimeRequest(d)
			}
		}
		return m, controlTickCmd()

	case controlBatchMsg:
		m.processBatch(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		// Reset discovery state for new discovery cycle
		m.resetDiscovery()
		m.addLogEntry("Reconnected - starting discovery", false)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusOutputInput {
		m.outputInput, cmd = m.outputInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusDeviceList {
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		if m.discoveryDone {
			return m.handleEnter()
		}

	case "d":
		if m.focusedField != focusOutputInput && !m.connectionLost {
			m.addLogEntry("Rediscovering nodes", false)
			m.resetDiscovery()
			m.sendDiscovery()
		}
		return m, nil

	case "up", "k":
		if m.focusedField == focusDeviceList {
			m.deviceList, _ = m.deviceList.Update(msg)
		}

	case "down", "j":
		if m.focusedField == focusDeviceList {
			m.deviceList, _ = m.deviceList.Update(msg)
		}
	}

	// Pass through to focused component
	if m.focusedField == focusOutputInput {
		var cmd tea.Cmd
		m.outputInput, cmd = m.outputInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	m.deviceList, _ = m.deviceList.Update(msg)

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	if !m.discoveryDone {
		return m
	}

	selected := m.getSelectedDevice()
	if selected == nil {
		m.focusedField = focusDeviceList
		return m
	}

	// Cycle through focus states
	maxFocus := focusRestartButton
	next := func(f int) int { return (f + delta + maxFocus + 1) % (maxFocus + 1) }
	m.focusedField = next(m.focusedField)

	// Output controls only exist for relay nodes
	for !selected.hasOutputs() && (m.focusedField == focusOutputInput || m.focusedField == focusOnButton || m.focusedField == focusOffButton) {
		m.focusedField = next(m.focusedField)
	}

	// Update focus state
	if m.focusedField == focusOutputInput {
		m.outputInput.Focus()
	} else {
		m.outputInput.Blur()
	}

	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	// Don't allow control commands while connection is lost
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	selected := m.getSelectedDevice()
	if selected == nil {
		return m, nil
	}

	switch m.focusedField {
	case focusOutputInput:
		// Enter in the input toggles the output
		num, err := m.outputNumber()
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		m.sendRelais(selected, num, !selected.outputs[num])
	case focusOnButton, focusOffButton:
		num, err := m.outputNumber()
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		m.sendRelais(selected, num, m.focusedField == focusOnButton)
	case focusRestartButton:
		m.sendRestart(selected)
	}

	return m, nil
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	st := newTUIStyles()

	// Header
	helpText := "q=quit"
	if m.discoveryDone {
		helpText = "q=quit Tab=switch d=rediscover"
	}
	s.WriteString(st.title.Render("ICAN CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = st.warning.Render("RECONNECTING...")
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	s.WriteString("\n\n")

	if !m.discoveryDone {
		s.WriteString(m.renderDiscoveryView(st))
	} else {
		s.WriteString(m.renderControlView(st))
	}

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderDiscoveryView(st tuiStyles) string {
	var s strings.Builder

	s.WriteString(st.warning.Render("Discovering nodes..."))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Found: %d node(s)\n\n", len(m.devices)))

	// Event log during discovery
	s.WriteString(m.renderEventLog(st))

	return s.String()
}

func (m controlModel) renderControlView(st tuiStyles) string {
	var s strings.Builder

	// Layout: left panel (nodes) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := st.box.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = st.focusedBox.Width(leftWidth)
	}
	devicePanel := listStyle.Render(m.deviceList.View())

	controlContent := m.renderControlPanel(st)
	controlPanel := st.box.Width(rightWidth).Render(controlContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(st))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(st))

	return s.String()
}

func (m controlModel) renderControlPanel(st tuiStyles) string {
	var s strings.Builder

	selected := m.getSelectedDevice()
	if selected == nil {
		s.WriteString(st.header.Render("No node selected"))
		return s.String()
	}

	n := selected.node
	s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("Selected:"), st.value.Render(selected.name())))
	if n.hasAvailable {
		s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("State:"), st.value.Render(n.availability.String())))
	}
	if n.version != "" {
		s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("Version:"), n.version))
	}
	if n.customString != "" {
		s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("Custom:"), n.customString))
	}
	if n.hasUptime {
		s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("Uptime:"),
			st.value.Render(formatUptime(time.Duration(n.uptime)*time.Minute))))
	}
	if !selected.lastSeen.IsZero() {
		s.WriteString(fmt.Sprintf("%s %s ago\n", st.label.Render("Last seen:"),
			time.Since(selected.lastSeen).Truncate(time.Second)))
	}
	s.WriteString("\n")

	button := func(text string, field int) string {
		if m.focusedField == field {
			return st.focusedButton.Render(text)
		}
		return st.button.Render(text)
	}

	if selected.hasOutputs() {
		s.WriteString(st.label.Render("Output: "))
		if m.focusedField == focusOutputInput {
			s.WriteString(m.outputInput.View())
		} else {
			val := m.outputInput.Value()
			if val == "" {
				val = m.outputInput.Placeholder
			}
			s.WriteString(fmt.Sprintf("[%s]", val))
		}
		s.WriteString("  ")
		s.WriteString(renderOutputs(selected.outputs, st.value, st.header))
		s.WriteString("\n\n")
		s.WriteString(button("[ On ]", focusOnButton))
		s.WriteString(" ")
		s.WriteString(button("[ Off ]", focusOffButton))
		s.WriteString(" ")
	}
	s.WriteString(button("[ Restart ]", focusRestartButton))

	return s.String()
}

// renderOutputs shows the known state of every output, '-' when unknown
func renderOutputs(outputs map[uint8]bool, onStyle, offStyle lipgloss.Style) string {
	parts := make([]string, relais.MaxOutputs)
	for i := range parts {
		on, known := outputs[uint8(i)]
		switch {
		case !known:
			parts[i] = offStyle.Render(fmt.Sprintf("%d:-", i))
		case on:
			parts[i] = onStyle.Render(fmt.Sprintf("%d:ON", i))
		default:
			parts[i] = offStyle.Render(fmt.Sprintf("%d:off", i))
		}
	}
	return strings.Join(parts, " ")
}

func (m controlModel) renderStatisticsBar(st tuiStyles) string {
	m.stats.CalculateRates()
	var ngPercent float64
	if m.stats.TotalFrames > 0 {
		ngPercent = float64(m.stats.NGFrames) * 100.0 / float64(m.stats.TotalFrames)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		st.label.Render("Total:"), st.value.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		st.label.Render("NG:"), st.value.Render(fmt.Sprintf("%.1f%%", ngPercent)),
		st.label.Render("Errors:"), func() string {
			errs := m.stats.DecodeErrors + m.stats.DeviceErrors
			if errs > 0 {
				return st.err.Render(fmt.Sprintf("%d", errs))
			}
			return st.value.Render("0")
		}(),
		st.label.Render("Rate:"), st.value.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
	)

	return st.box.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(st tuiStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := min(8, len(m.errorLog))
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(st.header.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := st.warning
			if entry.isError {
				icon = "x"
				style = st.err
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				st.header.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return st.box.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processBatch(msg controlBatchMsg) {
	for i := 0; i < msg.decodeErrors; i++ {
		m.stats.Update(nil, errInvalidLine)
	}
	if msg.decodeErrors > 0 {
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %d invalid adapter line(s)", msg.decodeErrors), true)
	}
	if msg.alerts != 0 {
		m.addLogEntry(fmt.Sprintf("ADAPTER ALERT: %s", ican.FormatAlerts(msg.alerts)), true)
	}
	for i := range msg.frames {
		m.processFrame(msg.frames[i])
	}
}

func (m *controlModel) processFrame(f ican.Frame) {
	m.stats.Update(&f, nil)

	a := f.Address()
	if !a.NG || f.Request {
		return
	}

	// RELAIS frames are addressed to the relay node, they do not prove it exists
	if a.Msg == ican.MsgRelais {
		if d := m.byKey[uint16(a.Type)<<8|uint16(a.DeviceID)]; d != nil {
			r := ican.DecodeRelais(f.Payload())
			d.outputs[r.Number] = r.State != 0
		}
		return
	}

	var prevAvailability ican.Availability
	key := uint16(a.Type)<<8 | uint16(a.DeviceID)
	d := m.byKey[key]
	if d != nil {
		prevAvailability = d.node.availability
	}

	n := m.nodes.collect(f)
	if d == nil {
		d = &controlNode{node: n, outputs: make(map[uint8]bool)}
		m.byKey[key] = d
		m.devices = append(m.devices, d)
		m.addLogEntry(fmt.Sprintf("Node discovered: %s", d.name()), false)
		if m.discoveryDone {
			m.updateDeviceList()
		}
	} else if a.Msg == ican.MsgAvailable && n.availability != prevAvailability {
		m.addLogEntry(fmt.Sprintf("%s: %s -> %s", d.name(), prevAvailability, n.availability), false)
	}
	d.lastSeen = time.Now()
	m.lastDeviceSeen = d.lastSeen

	switch a.Msg {
	case ican.MsgDeviceError:
		m.addLogEntry(describeDeviceError(f), true)
	case ican.MsgButtonEvent:
		ev := ican.DecodeButtonEvent(f.Payload())
		m.addLogEntry(fmt.Sprintf("%s button %d %s (%d)", d.name(), ev.Button, ev.State, ev.Count), false)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// outputNumber parses the output input, falling back to the placeholder
func (m *controlModel) outputNumber() (uint8, error) {
	s := m.outputInput.Value()
	if s == "" {
		s = m.outputInput.Placeholder
	}
	num, err := strconv.ParseUint(s, 10, 8)
	if err != nil || num >= relais.MaxOutputs {
		return 0, fmt.Errorf("output must be between 0 and %d", relais.MaxOutputs-1)
	}
	return uint8(num), nil
}

func (m *controlModel) sendRelais(d *controlNode, num uint8, on bool) {
	r := ican.Relais{Number: num}
	if on {
		r.State = 1
	}
	payload := r.Encode()
	f := ican.NewMessage(d.node.id, d.node.devType, ican.MsgRelais, payload[:], false)
	if err := m.connMgr.send(f); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to send command: %v", err), true)
		return
	}

	d.outputs[num] = on
	state := "OFF"
	if on {
		state = "ON"
	}
	m.addLogEntry(fmt.Sprintf("Sent RELAIS output %d %s to %s", num, state, d.name()), false)
}

func (m *controlModel) sendRestart(d *controlNode) {
	f := ican.NewMessage(d.node.id, d.node.devType, ican.MsgRestart, []byte{0}, false)
	if err := m.connMgr.send(f); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to send command: %v", err), true)
		return
	}
	// outputs come back switched off
	d.outputs = make(map[uint8]bool)
	m.addLogEntry(fmt.Sprintf("Sent RESTART to %s", d.name()), false)
}

func (m *controlModel) sendUptimeRequest(d *controlNode) {
	f := ican.NewMessage(d.node.id, d.node.devType, ican.MsgUptime, nil, true)
	// Silently fail - connection lost is handled elsewhere, next tick retries
	_ = m.connMgr.send(f)
}

func (m *controlModel) sendDiscovery() {
	bus := m.connMgr.getBus()
	if bus == nil {
		return
	}
	if err := sendDiscoveryRequest(bus, ican.DeviceUnknown); err != nil {
		m.addLogEntry(err.Error(), true)
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) getSelectedDevice() *controlNode {
	if len(m.devices) == 0 {
		return nil
	}

	idx := m.deviceList.Index()
	if idx < 0 || idx >= len(m.devices) {
		return nil
	}

	return m.devices[idx]
}

// discoveryQuiet reports whether no node answered for the discovery timeout
func (m *controlModel) discoveryQuiet(now time.Time) bool {
	last := m.discoveryStarted
	if m.lastDeviceSeen.After(last) {
		last = m.lastDeviceSeen
	}
	return now.Sub(last) > time.Duration(discoveryTimeoutSeconds)*time.Second
}

func (m *controlModel) finishDiscovery() {
	if m.discoveryDone {
		return
	}

	m.discoveryDone = true
	m.updateDeviceList()
	m.addLogEntry(fmt.Sprintf("Discovery complete: %d node(s)", len(m.devices)), false)

	if len(m.devices) > 0 {
		m.focusedField = focusDeviceList
	}
}

func (m *controlModel) resetDiscovery() {
	m.discoveryDone = false
	m.discoveryStarted = time.Now()
	m.lastDeviceSeen = time.Time{}
	m.nodes = newDiscoveredNodes()
	m.devices = make([]*controlNode, 0)
	m.byKey = make(map[uint16]*controlNode)
	m.focusedField = focusDeviceList
	m.outputInput.Blur()
	m.updateDeviceList()
}

// updateDeviceList orders the nodes by type, then id, and refreshes the list
func (m *controlModel) updateDeviceList() {
	sort.Slice(m.devices, func(i, j int) bool { return m.devices[i].key() < m.devices[j].key() })

	items := make([]list.Item, len(m.devices))
	for i, d := range m.devices {
		items[i] = d
	}
	m.deviceList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := max(m.height/3, 5)
	m.deviceList.SetSize(28, listHeight)
}
