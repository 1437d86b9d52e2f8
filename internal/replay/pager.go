package replay

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// Pager is a scrollable terminal view over rendered history.
type Pager struct {
	title string
}

// NewPager creates a pager with a title bar.
func NewPager(title string) *Pager {
	return &Pager{title: title}
}

// Run shows content until the user quits.
func (p *Pager) Run(content string) error {
	_, err := tea.NewProgram(&pagerModel{title: p.title, content: content},
		tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

// RunLive shows render's output and re-renders when path changes. The file
// does not need to exist when the pager starts; its directory is watched.
func (p *Pager) RunLive(path string, render func() (string, error)) error {
	content, err := render()
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	m := &pagerModel{
		title:   p.title,
		content: content,
		live:    true,
		render:  render,
		watcher: watcher,
		path:    filepath.Clean(path),
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

type fileChangedMsg struct{}

type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string
	ready    bool

	live    bool
	render  func() (string, error)
	watcher *fsnotify.Watcher
	path    string

	searching   bool
	searchInput textinput.Model
	query       string
	matches     []int // wrapped line numbers
	matchIndex  int
}

func (m *pagerModel) Init() tea.Cmd {
	if m.live {
		return m.watch()
	}
	return nil
}

func (m *pagerModel) watch() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) == m.path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					// Let appends settle.
					time.Sleep(100 * time.Millisecond)
					return fileChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.searching {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "enter":
				m.searching = false
				m.query = m.searchInput.Value()
				m.search()
				m.jump(0)
				return m, nil
			case "esc", "ctrl+c":
				m.searching = false
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case fileChangedMsg:
		if content, err := m.render(); err == nil {
			atBottom := m.viewport.AtBottom()
			m.setContent(content)
			if atBottom {
				m.viewport.GotoBottom()
			}
		}
		cmds = append(cmds, m.watch())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.query == "" {
				return m, tea.Quit
			}
			m.query, m.matches = "", nil
		case "g":
			m.viewport.GotoTop()
		case "G", "f":
			m.viewport.GotoBottom()
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			m.searchInput.SetValue(m.query)
			m.searchInput.Focus()
			return m, textinput.Blink
		case "n":
			if len(m.matches) > 0 {
				m.jump((m.matchIndex + 1) % len(m.matches))
			}
		case "N":
			if len(m.matches) > 0 {
				m.jump((m.matchIndex - 1 + len(m.matches)) % len(m.matches))
			}
		}

	case tea.WindowSizeMsg:
		height := msg.Height - 2 // header and footer
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.viewport.YPosition = 1
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.setContent(m.content)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *pagerModel) setContent(content string) {
	m.content = content
	m.wrapped = wrapContent(content, m.viewport.Width)
	m.viewport.SetContent(m.wrapped)
	if m.query != "" {
		m.search()
	}
}

func (m *pagerModel) search() {
	m.matches, m.matchIndex = nil, 0
	if m.query == "" {
		return
	}
	q := strings.ToLower(m.query)
	for i, line := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(line), q) {
			m.matches = append(m.matches, i)
		}
	}
}

// jump centers match i on screen.
func (m *pagerModel) jump(i int) {
	if i < 0 || i >= len(m.matches) {
		return
	}
	m.matchIndex = i
	offset := m.matches[i] - m.viewport.Height/2
	if limit := m.viewport.TotalLineCount() - m.viewport.Height; offset > limit {
		offset = limit
	}
	if offset < 0 {
		offset = 0
	}
	m.viewport.SetYOffset(offset)
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}
	title := pagerTitleStyle.Render(m.title)
	header := title + pagerInfoStyle.Render(strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title))))

	var footer string
	switch {
	case m.searching:
		footer = warnStyle.Render("/") + m.searchInput.View()
	default:
		help := " q: quit │ /: search │ g/G: top/bottom "
		switch {
		case m.query != "" && len(m.matches) == 0:
			help = " " + errorStyle.Render("Pattern not found") + " │ /: search "
		case len(m.matches) > 0:
			help = fmt.Sprintf(" %s │ n/N: next/prev │ esc: clear ", warnStyle.Render(fmt.Sprintf("[%d/%d]", m.matchIndex+1, len(m.matches))))
		case m.live:
			help = " " + successStyle.Bold(true).Render("● LIVE") + help
		}
		info := fmt.Sprintf(" %3.f%% ", m.viewport.ScrollPercent()*100)
		fill := max(0, m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(info))
		footer = pagerInfoStyle.Render(help + strings.Repeat("─", fill) + info)
	}
	return header + "\n" + m.viewport.View() + "\n" + footer
}

// wrapContent wraps lines wider than width. Timeline rows keep their
// continuation lines aligned with the content column.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if lipgloss.Width(line) <= width {
			out = append(out, line)
			continue
		}
		last := strings.LastIndex(line, "│")
		if last > 0 {
			start := last + len("│")
			for start < len(line) && line[start] == ' ' {
				start++
			}
			prefixWidth := lipgloss.Width(line[:start])
			body := wordwrap.String(line[start:], max(20, width-prefixWidth))
			parts := strings.Split(body, "\n")
			out = append(out, line[:start]+parts[0])
			for _, p := range parts[1:] {
				out = append(out, strings.Repeat(" ", prefixWidth)+p)
			}
			continue
		}
		out = append(out, strings.Split(wordwrap.String(line, width), "\n")...)
	}
	return strings.Join(out, "\n")
}
