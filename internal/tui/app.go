// Package tui is the interactive search browser over the library.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"archivist/internal/retrieval"
)

const requestTimeout = 60 * time.Second

// PanelID 面板标识
// PanelID identifies a panel
type PanelID int

const (
	PanelResults PanelID = iota
	PanelDetail
)

// Detail 会话详情 / Detail is what the detail panel shows for one hit
type Detail struct {
	SessionID  string
	Title      string
	Summary    string
	Transcript string
	Hit        retrieval.Result
}

// Backend 浏览器使用的检索与读取接口
// Backend is what the browser searches and reads through
type Backend interface {
	Search(ctx context.Context, prompt string) ([]retrieval.Result, error)
	Detail(ctx context.Context, hit retrieval.Result) (Detail, error)
}

// --- Tea Messages ---

// SearchDoneMsg 检索完成
// SearchDoneMsg carries the results of one query
type SearchDoneMsg struct {
	Query   string
	Results []retrieval.Result
	Err     error
}

// DetailMsg 会话详情加载完成
// DetailMsg carries a loaded session detail
type DetailMsg struct {
	Detail Detail
	Err    error
}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width  int
	height int

	// 面板 / Panels
	activePanel PanelID
	detailView  viewport.Model

	// 输入 / Input
	input        textinput.Model
	inputFocused bool

	// 结果 / Results
	query   string
	results []retrieval.Result
	cursor  int
	detail  *Detail

	// 状态 / State
	loading   bool
	lastError string
	library   string

	backend Backend
	theme   Theme
	keys    KeyMap
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application
func NewApp(library string, backend Backend) App {
	ti := textinput.New()
	ti.Placeholder = "Search sessions…"
	ti.CharLimit = 512
	ti.Prompt = "› "
	ti.Focus()

	return App{
		activePanel:  PanelResults,
		input:        ti,
		inputFocused: true,
		library:      library,
		backend:      backend,
		theme:        DarkTheme(),
		keys:         DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return textinput.Blink
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case SearchDoneMsg:
		if msg.Query != a.query {
			return a, nil
		}
		a.loading = false
		if msg.Err != nil {
			a.lastError = msg.Err.Error()
			return a, nil
		}
		a.lastError = ""
		a.results = msg.Results
		a.cursor = 0
		a.detail = nil
		return a, nil

	case DetailMsg:
		a.loading = false
		if msg.Err != nil {
			a.lastError = msg.Err.Error()
			return a, nil
		}
		a.lastError = ""
		d := msg.Detail
		a.detail = &d
		a.detailView.SetContent(RenderMarkdown(DetailMarkdown(d), a.detailView.Width))
		a.detailView.GotoTop()
		a.activePanel = PanelDetail
		return a, nil
	}

	if a.inputFocused {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.SwitchPanel):
		if a.activePanel == PanelResults && a.detail != nil {
			a.activePanel = PanelDetail
		} else {
			a.activePanel = PanelResults
		}
		a.setInputFocus(false)
		return a, nil

	case key.Matches(msg, a.keys.Cancel):
		a.activePanel = PanelResults
		a.setInputFocus(true)
		return a, nil

	case key.Matches(msg, a.keys.Submit):
		if a.inputFocused {
			return a.submitQuery()
		}
		return a.openSelected()

	case key.Matches(msg, a.keys.Up):
		if a.activePanel == PanelDetail {
			a.detailView.ScrollUp(1)
		} else if a.cursor > 0 {
			a.cursor--
		}
		return a, nil

	case key.Matches(msg, a.keys.Down):
		if a.activePanel == PanelDetail {
			a.detailView.ScrollDown(1)
		} else if a.cursor < len(a.results)-1 {
			a.setInputFocus(false)
			a.cursor++
		} else if len(a.results) > 0 {
			a.setInputFocus(false)
		}
		return a, nil

	case key.Matches(msg, a.keys.PageUp):
		a.detailView.HalfPageUp()
		return a, nil

	case key.Matches(msg, a.keys.PageDown):
		a.detailView.HalfPageDown()
		return a, nil
	}

	if a.inputFocused {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) setInputFocus(on bool) {
	a.inputFocused = on
	if on {
		a.input.Focus()
	} else {
		a.input.Blur()
	}
}

func (a App) submitQuery() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(a.input.Value())
	if q == "" {
		return a, nil
	}
	a.query = q
	a.loading = true
	a.lastError = ""
	return a, searchCmd(a.backend, q)
}

func (a App) openSelected() (tea.Model, tea.Cmd) {
	if a.cursor < 0 || a.cursor >= len(a.results) {
		return a, nil
	}
	a.loading = true
	return a, detailCmd(a.backend, a.results[a.cursor])
}

func searchCmd(b Backend, q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		results, err := b.Search(ctx, q)
		return SearchDoneMsg{Query: q, Results: results, Err: err}
	}
}

func detailCmd(b Backend, hit retrieval.Result) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		d, err := b.Detail(ctx, hit)
		return DetailMsg{Detail: d, Err: err}
	}
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	inputHeight := 2
	statusHeight := 1
	tabHeight := 1
	panelHeight := a.height - inputHeight - statusHeight - tabHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	tabs := a.renderTabs()
	panel := a.renderActivePanel(a.width, panelHeight)
	inputBox := a.theme.InputStyle.Width(a.width).Render(a.input.View())
	statusBar := a.renderStatusBar(a.width)
	return lipgloss.JoinVertical(lipgloss.Left, tabs, panel, inputBox, statusBar)
}

// --- 内部方法 / Internal methods ---

func (a *App) relayout() {
	panelHeight := a.height - 4
	if panelHeight < 3 {
		panelHeight = 3
	}
	a.detailView = viewport.New(a.width, panelHeight)
	if a.detail != nil {
		a.detailView.SetContent(RenderMarkdown(DetailMarkdown(*a.detail), a.width))
	}
	a.input.Width = a.width - 4
}

func (a App) renderTabs() string {
	tabs := []struct {
		id   PanelID
		name string
	}{
		{PanelResults, fmt.Sprintf("Results (%d)", len(a.results))},
		{PanelDetail, "Session"},
	}
	parts := make([]string, 0, len(tabs))
	for _, tab := range tabs {
		style := a.theme.InactiveTabStyle
		if tab.id == a.activePanel {
			style = a.theme.ActiveTabStyle
		}
		parts = append(parts, style.Render(tab.name))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a App) renderActivePanel(width, height int) string {
	style := lipgloss.NewStyle().Width(width).Height(height)
	if a.activePanel == PanelDetail && a.detail != nil {
		return style.Render(a.detailView.View())
	}
	return style.Render(a.renderResults(width, height))
}

func (a App) renderResults(width, height int) string {
	if len(a.results) == 0 {
		if a.query == "" {
			return a.theme.MutedStyle.Render("  Type a query and press enter")
		}
		return a.theme.MutedStyle.Render("  No matches for " + a.query)
	}
	// Keep the cursor row visible.
	start := 0
	if a.cursor >= height {
		start = a.cursor - height + 1
	}
	end := min(start+height, len(a.results))
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		lines = append(lines, RenderResultLine(a.results[i], a.theme, width, i == a.cursor && !a.inputFocused))
	}
	return strings.Join(lines, "\n")
}

func (a App) renderStatusBar(width int) string {
	status := "ready"
	switch {
	case a.loading:
		status = "searching…"
	case a.lastError != "":
		status = a.theme.ErrorStyle.Render("error: " + a.lastError)
	}

	help := make([]string, 0, 6)
	for _, b := range a.keys.ShortHelp() {
		help = append(help, b.Help().Key+" "+b.Help().Desc)
	}
	left := " " + status + " · " + strings.Join(help, "  ")
	right := a.library + "  "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return a.theme.StatusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI application
func Run(library string, backend Backend) error {
	app := NewApp(library, backend)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
