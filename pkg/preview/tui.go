package preview

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lepinkainen/bookforge/internal/bookmarks"
	"github.com/lepinkainen/bookforge/pkg/feed"
)

// ViewMode represents the current view mode
type ViewMode int

// View modes for the preview TUI
const (
	ListViewMode ViewMode = iota
	DetailViewMode
	XMLViewMode
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12")).Bold(true)
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Model is the Bubble Tea model of the bookmark browser
type Model struct {
	items     []*bookmarks.Bookmark
	title     string
	total     int
	generator *feed.Generator
	cursor    int
	viewMode  ViewMode
	height    int
}

// NewModel creates a browser over items. total is the match count of the
// query the items were taken from.
func NewModel(items []*bookmarks.Bookmark, title string, total int, generator *feed.Generator) Model {
	return Model{
		items:     items,
		title:     title,
		total:     total,
		generator: generator,
		viewMode:  ListViewMode,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

		if m.viewMode == ListViewMode {
			m = m.updateList(msg)
		} else {
			m = m.updateDetail(msg)
		}
	}

	return m, nil
}

func (m Model) updateList(msg tea.KeyMsg) Model {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(len(m.items)-1, 0)
	case "enter":
		m.viewMode = DetailViewMode
	case "x":
		m.viewMode = XMLViewMode
	}
	return m
}

func (m Model) updateDetail(msg tea.KeyMsg) Model {
	switch msg.String() {
	case "esc":
		m.viewMode = ListViewMode
	case "x":
		if m.viewMode == DetailViewMode {
			m.viewMode = XMLViewMode
		} else {
			m.viewMode = DetailViewMode
		}
	}
	return m
}

// Selected returns the bookmark under the cursor, or nil.
func (m Model) Selected() *bookmarks.Bookmark {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return nil
	}
	return m.items[m.cursor]
}

// Mode returns the active view.
func (m Model) Mode() ViewMode {
	return m.viewMode
}

// View implements tea.Model
func (m Model) View() string {
	switch m.viewMode {
	case DetailViewMode:
		return m.renderDetail()
	case XMLViewMode:
		return m.renderXML()
	default:
		return m.renderList()
	}
}

// visibleRange keeps the cursor near the middle of the screen
func (m Model) visibleRange() (start, end int) {
	end = len(m.items)
	if m.height <= 0 {
		return 0, end
	}

	rows := m.height - 6
	if rows <= 0 || rows >= len(m.items) {
		return 0, end
	}

	start = max(m.cursor-rows/2, 0)
	end = start + rows
	if end > len(m.items) {
		end = len(m.items)
		start = max(end-rows, 0)
	}
	return start, end
}

func (m Model) renderList() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d of %d bookmarks)", m.title, len(m.items), m.total)))
	b.WriteString("\n\n")

	start, end := m.visibleRange()
	for i := start; i < end; i++ {
		line := FormatCompactListItem(i, m.items[i])
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("→ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render("↑/↓ or j/k: navigate • enter: details • x: feed XML • q: quit"))
	return b.String()
}

func (m Model) renderDetail() string {
	selected := m.Selected()
	if selected == nil {
		return "No bookmark selected"
	}
	return FormatDetailedItem(selected) + "\n" + footerStyle.Render("esc: back • x: feed XML • q: quit")
}

func (m Model) renderXML() string {
	selected := m.Selected()
	if selected == nil {
		return "No bookmark selected"
	}
	if selected.ReadOnly() {
		return headerStyle.Render("Feed entry") + "\n\nBookmarks from attached sources are not published.\n\n" +
			footerStyle.Render("esc: back • x: details • q: quit")
	}

	return headerStyle.Render("Feed entry") + "\n\n" + FormatXMLItem(selected, m.generator) + "\n" +
		footerStyle.Render("esc: back • x: details • q: quit")
}

// Run starts the browser
func Run(items []*bookmarks.Bookmark, title string, total int, generator *feed.Generator) error {
	if len(items) == 0 {
		fmt.Println("No bookmarks to preview")
		return nil
	}

	p := tea.NewProgram(NewModel(items, title, total, generator), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
