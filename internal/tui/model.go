// Package tui renders the live feed as a terminal dashboard.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/service"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Feed is the read side of the feed service plus Retry.
type Feed interface {
	View() domain.FeedView
	Status() service.StatusReport
	Global() domain.GlobalView
	Retry()
}

type tickMsg time.Time

type keyMap struct {
	Retry key.Binding
	Quit  key.Binding
}

var keys = keyMap{
	Retry: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	upStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	badgeStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("0"))

	tierColors = map[domain.Tier]lipgloss.Color{
		domain.TierExchange: lipgloss.Color("42"),
		domain.TierREST:     lipgloss.Color("214"),
		domain.TierStatic:   lipgloss.Color("245"),
	}
	stateColors = map[domain.ConnState]lipgloss.Color{
		domain.StateConnected:    lipgloss.Color("42"),
		domain.StateConnecting:   lipgloss.Color("39"),
		domain.StateReconnecting: lipgloss.Color("214"),
		domain.StateError:        lipgloss.Color("196"),
		domain.StateDisconnected: lipgloss.Color("241"),
	}
)

// Model is the bubbletea model of the dashboard.
type Model struct {
	feed     Feed
	refresh  time.Duration
	table    table.Model
	width    int
	height   int
	view     domain.FeedView
	status   service.StatusReport
	global   domain.GlobalView
	retrying bool
}

func NewModel(feed Feed, refresh time.Duration) *Model {
	if refresh <= 0 {
		refresh = time.Second
	}
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	m := &Model{feed: feed, refresh: refresh, table: t}
	m.pull()
	return m
}

func columns(width int) []table.Column {
	name := 14
	if width > 90 {
		name = 14 + (width-90)/2
	}
	return []table.Column{
		{Title: "Symbol", Width: 7},
		{Title: "Name", Width: name},
		{Title: "Price", Width: 14},
		{Title: "24h", Width: 9},
		{Title: "Volume", Width: 10},
		{Title: "Mkt Cap", Width: 10},
		{Title: "Risk", Width: 7},
	}
}

// SetSize fits the table to the terminal.
func (m *Model) SetSize(width, height int) {
	m.width, m.height = width, height
	m.table.SetColumns(columns(width))
	if h := height - 12; h > 3 {
		m.table.SetHeight(h)
	}
}

func (m *Model) Init() tea.Cmd {
	return m.tick()
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil
	case tickMsg:
		m.pull()
		return m, m.tick()
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Retry):
			m.feed.Retry()
			m.retrying = true
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// pull copies the latest feed state into the model.
func (m *Model) pull() {
	m.view = m.feed.View()
	m.status = m.feed.Status()
	m.global = m.feed.Global()
	if m.retrying && !anyFetching(m.view.Connections) {
		m.retrying = false
	}
	m.table.SetRows(rows(m.view.Records))
}

func anyFetching(conns map[domain.Tier]domain.ConnectionStatus) bool {
	for _, c := range conns {
		if c.Fetching {
			return true
		}
	}
	return false
}

func rows(records []domain.CryptoAssetSnapshot) []table.Row {
	out := make([]table.Row, 0, len(records))
	for _, r := range records {
		out = append(out, table.Row{
			r.Symbol,
			r.Name,
			"$" + price(r.PriceUSD),
			fmt.Sprintf("%+.2f%%", r.Change24hPct),
			compact(r.Volume24h),
			compact(r.MarketCap),
			string(r.Risk),
		})
	}
	return out
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("market-pulse"))
	b.WriteString("  ")
	b.WriteString(badge(m.view.ActiveTier))
	if !m.view.LastUpdate.IsZero() {
		b.WriteString(dimStyle.Render("  updated " + m.view.LastUpdate.Local().Format("15:04:05")))
	}
	if m.retrying {
		b.WriteString(dimStyle.Render("  refreshing..."))
	}
	b.WriteString("\n\n")

	if m.view.Err != "" {
		b.WriteString(errStyle.Render(m.view.Err))
		b.WriteString("\n\n")
	}

	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	b.WriteString(m.connectionsLine())
	b.WriteString("\n")
	b.WriteString(m.globalLine())
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("↑/↓ move • r retry • q quit"))
	return b.String()
}

func badge(t domain.Tier) string {
	color, ok := tierColors[t]
	if !ok {
		color = lipgloss.Color("241")
	}
	return badgeStyle.Background(color).Render(t.String())
}

func state(s domain.ConnState) string {
	return lipgloss.NewStyle().Foreground(stateColors[s]).Render(string(s))
}

func (m *Model) connectionsLine() string {
	parts := make([]string, 0, len(domain.Tiers)+len(m.status.Exchanges))
	for _, t := range domain.Tiers {
		if c, ok := m.status.Connections[t]; ok {
			parts = append(parts, fmt.Sprintf("%s %s", t, state(c.State)))
		}
	}
	names := make([]string, 0, len(m.status.Exchanges))
	for name := range m.status.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s", name, state(m.status.Exchanges[name].State)))
	}
	return strings.Join(parts, dimStyle.Render(" | "))
}

func (m *Model) globalLine() string {
	g := m.global.Record
	if g == nil {
		return dimStyle.Render("global: " + string(m.global.Status.State))
	}
	change := fmt.Sprintf("%+.2f%%", g.MarketCapChange24hPct)
	if g.MarketCapChange24hPct >= 0 {
		change = upStyle.Render(change)
	} else {
		change = downStyle.Render(change)
	}
	line := fmt.Sprintf("mkt cap $%s %s  vol $%s", compact(g.TotalMarketCapUSD), change, compact(g.TotalVolumeUSD))
	if btc, ok := g.MarketCapPercentage["btc"]; ok {
		line += fmt.Sprintf("  btc dom %.1f%%", btc)
	}
	return line
}

func price(v float64) string {
	switch {
	case v >= 1:
		return fmt.Sprintf("%.2f", v)
	case v >= 0.01:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.8f", v)
	}
}

func compact(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%.2fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
