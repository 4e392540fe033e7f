package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gokernel/pkg/client"
	"gokernel/pkg/protocol"
)

// ExecuteFunc runs one cell and returns its reply and output.
type ExecuteFunc func(ctx context.Context, code string) (*client.Result, error)

// InterruptFunc interrupts the running cell.
type InterruptFunc func(ctx context.Context) error

// KernelInfo is shown in the header.
type KernelInfo struct {
	Implementation string
	Language       string
	Protocol       string
	Banner         string
}

type cell struct {
	count   int
	code    string
	outputs []string
	err     string
	status  string
}

type executeResultMsg struct {
	result *client.Result
	err    error
}

type interruptResultMsg struct {
	err error
}

// inputRequestMsg asks the user for a line while a cell runs. The answer is
// sent on reply.
type inputRequestMsg struct {
	prompt   string
	password bool
	reply    chan<- string
}

type model struct {
	ctx       context.Context
	execute   ExecuteFunc
	interrupt InterruptFunc
	info      KernelInfo

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	cells     []cell
	width     int
	height    int
	isReady   bool
	isRunning bool
	lastErr   string
	followLog bool
	pending   *inputRequestMsg
}

func newModel(ctx context.Context, execute ExecuteFunc, interrupt InterruptFunc, info KernelInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("44"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Enter code..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		execute:   execute,
		interrupt: interrupt,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case inputRequestMsg:
		m.pending = &typed
		m.input.SetValue("")
		m.input.Placeholder = typed.prompt
		if typed.password {
			m.input.EchoMode = textinput.EchoPassword
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "esc":
			return m, tea.Quit
		case "ctrl+c":
			if m.isRunning {
				return m, interruptCmd(m.ctx, m.interrupt)
			}
			return m, tea.Quit
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m.submit()
		}
	}

	m.input, cmd = m.input.Update(msg)

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isRunning {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case executeResultMsg:
		m.isRunning = false
		m.finishCell(typed)
		m.refreshViewport(false)
	case interruptResultMsg:
		if typed.err != nil {
			m.lastErr = typed.err.Error()
		}
	}

	return m, cmd
}

func (m *model) submit() (tea.Model, tea.Cmd) {
	value := m.input.Value()

	if m.pending != nil {
		m.pending.reply <- value
		m.pending = nil
		m.input.SetValue("")
		m.input.Placeholder = "Enter code..."
		m.input.EchoMode = textinput.EchoNormal
		return m, nil
	}

	if m.isRunning {
		return m, nil
	}

	code := strings.TrimSpace(value)
	if code == "" {
		return m, nil
	}
	if isExitCommand(code) {
		return m, tea.Quit
	}

	m.lastErr = ""
	m.cells = append(m.cells, cell{code: code})
	m.input.SetValue("")
	m.isRunning = true
	m.followLog = true
	m.refreshViewport(true)
	return m, tea.Batch(m.spinner.Tick, executeCmd(m.ctx, m.execute, code))
}

// finishCell fills the last cell from the execute result.
func (m *model) finishCell(msg executeResultMsg) {
	if len(m.cells) == 0 {
		return
	}
	current := &m.cells[len(m.cells)-1]

	if msg.err != nil {
		m.lastErr = msg.err.Error()
		current.err = msg.err.Error()
		return
	}

	for _, out := range msg.result.Outputs {
		if _, ok := out.Content.(*protocol.ClearOutput); ok {
			current.outputs = nil
			continue
		}
		text, isErr := renderOutput(out)
		switch {
		case isErr:
			current.err = text
		case text != "":
			current.outputs = append(current.outputs, text)
		}
	}

	if msg.result.Reply == nil {
		return
	}
	switch reply := msg.result.Reply.Content.(type) {
	case *protocol.ExecuteReply:
		current.count = reply.ExecutionCount
		current.status = reply.Status
	case *protocol.ErrorReply:
		current.count = reply.ExecutionCount
		current.status = reply.Status
		if current.err == "" {
			current.err = reply.EName + ": " + reply.EValue
		}
	}
}

// renderOutput turns one IOPub message into terminal text.
func renderOutput(msg *protocol.Message) (string, bool) {
	switch content := msg.Content.(type) {
	case *protocol.Stream:
		return strings.TrimRight(content.Text, "\n"), false
	case *protocol.ExecuteResult:
		return plainText(content.Data), false
	case *protocol.DisplayData:
		return plainText(content.Data), false
	case *protocol.UpdateDisplayData:
		return plainText(content.Data), false
	case *protocol.ErrorContent:
		if len(content.Traceback) > 0 {
			return strings.Join(content.Traceback, "\n"), true
		}
		return content.EName + ": " + content.EValue, true
	default:
		return "", false
	}
}

func plainText(bundle protocol.MIMEBundle) string {
	if text, ok := bundle["text/plain"].(string); ok {
		return text
	}
	return fmt.Sprintf("<%d representations>", len(bundle))
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("gokernel console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"kernel:%s · language:%s · protocol:%s · cells:%d",
		displayOrNA(m.info.Implementation),
		displayOrNA(m.info.Language),
		displayOrNA(m.info.Protocol),
		len(m.cells),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter run  ·  PgUp/PgDn scroll  ·  End jump latest  ·  Ctrl+C interrupt/quit  ·  Esc quit")
	if m.isRunning {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s running... (Ctrl+C to interrupt)", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last request failed: " + m.lastErr)
	}

	label := m.theme.inputLabel.Render(fmt.Sprintf("In [%d]", m.nextCount())) + " " + m.theme.hint.Render("(type exit or :q)")
	if m.pending != nil {
		label = m.theme.inputLabel.Render("Input requested") + " " + m.theme.hint.Render(m.pending.prompt)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		label,
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) nextCount() int {
	for i := len(m.cells) - 1; i >= 0; i-- {
		if m.cells[i].count > 0 {
			return m.cells[i].count + 1
		}
	}
	return 1
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 40 {
		w = 40
	}
	h := m.height - 10
	if h < 6 {
		h = 6
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	if m.info.Banner != "" && len(m.cells) == 0 {
		m.viewport.SetContent(m.theme.hint.Render(m.info.Banner))
	} else {
		m.viewport.SetContent(m.renderCells())
	}

	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if previousOffset > maxOffset {
		previousOffset = maxOffset
	}
	m.viewport.SetYOffset(previousOffset)
}

func (m *model) renderCells() string {
	sections := make([]string, 0, len(m.cells))
	for _, c := range m.cells {
		label := "[ ]"
		if c.count > 0 {
			label = fmt.Sprintf("[%d]", c.count)
		}

		parts := []string{
			m.theme.inTitle.Render("In " + label),
			m.theme.inBox.Width(m.viewport.Width).Render(c.code),
		}
		if len(c.outputs) > 0 {
			parts = append(parts,
				m.theme.outTitle.Render("Out "+label),
				m.theme.outBox.Width(m.viewport.Width).Render(strings.Join(c.outputs, "\n")),
			)
		}
		if c.err != "" {
			parts = append(parts,
				m.theme.errorTitle.Render("Error"),
				m.theme.errorBox.Width(m.viewport.Width).Render(c.err),
			)
		}
		sections = append(sections, lipgloss.JoinVertical(lipgloss.Left, parts...))
	}
	return strings.Join(sections, "\n\n")
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func executeCmd(ctx context.Context, execute ExecuteFunc, code string) tea.Cmd {
	return func() tea.Msg {
		result, err := execute(ctx, code)
		return executeResultMsg{result: result, err: err}
	}
}

func interruptCmd(ctx context.Context, interrupt InterruptFunc) tea.Cmd {
	return func() tea.Msg {
		if interrupt == nil {
			return interruptResultMsg{}
		}
		return interruptResultMsg{err: interrupt(ctx)}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
