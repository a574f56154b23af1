package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/libroom/chatkit/internal/chat"
	"github.com/libroom/chatkit/internal/notify"
)

const actionTimeout = 30 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1).
			MarginRight(1)

	selectedChatStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))

	badgeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))

	ownMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
)

type updateMsg chat.Update

type noticeMsg notify.Notice

type actionDoneMsg struct{}

type ui struct {
	ctrl    *chat.Controller
	notices <-chan notify.Notice
	userID  string

	input    textinput.Model
	viewport viewport.Model
	ready    bool

	cursor    int
	connected bool
	status    string
}

func newUI(ctrl *chat.Controller, notifier *notify.Notifier, userID string) *ui {
	input := textinput.New()
	input.Placeholder = "Message"
	input.Focus()
	return &ui{
		ctrl:      ctrl,
		notices:   notifier.Subscribe(),
		userID:    userID,
		input:     input,
		connected: true,
	}
}

func (u *ui) Init() tea.Cmd {
	return tea.Batch(u.waitUpdate(), u.waitNotice())
}

func (u *ui) waitUpdate() tea.Cmd {
	return func() tea.Msg {
		return updateMsg(<-u.ctrl.Updates())
	}
}

func (u *ui) waitNotice() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-u.notices)
	}
}

func (u *ui) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		u.viewport = viewport.New(msg.Width*2/3, msg.Height-6)
		u.input.Width = msg.Width * 2 / 3
		u.ready = true
		u.refreshViewport()
		return u, nil

	case updateMsg:
		if msg.Kind == chat.UpdateMessages || msg.Kind == chat.UpdateTyping {
			u.refreshViewport()
		}
		return u, u.waitUpdate()

	case noticeMsg:
		u.status = msg.Level.String() + ": " + msg.Message
		return u, u.waitNotice()

	case actionDoneMsg:
		u.refreshViewport()
		return u, nil

	case tea.KeyMsg:
		return u.handleKey(msg)
	}
	return u, nil
}

func (u *ui) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return u, tea.Quit

	case tea.KeyUp:
		if u.cursor > 0 {
			u.cursor--
		}
		return u, nil

	case tea.KeyDown:
		if u.cursor < u.ctrl.Store().Len()-1 {
			u.cursor++
		}
		return u, nil

	case tea.KeyEnter:
		if content := strings.TrimSpace(u.input.Value()); content != "" {
			convID := u.ctrl.Session().ConversationID()
			u.input.Reset()
			return u, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
				defer cancel()
				u.ctrl.Dispatcher().SendMessage(ctx, convID, content)
				return actionDoneMsg{}
			}
		}
		convs := u.ctrl.Store().Snapshot()
		if u.cursor < len(convs) {
			id := convs[u.cursor].ID
			return u, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
				defer cancel()
				u.ctrl.Select(ctx, id)
				return actionDoneMsg{}
			}
		}
		return u, nil

	default:
		var cmd tea.Cmd
		u.input, cmd = u.input.Update(msg)
		if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
			u.ctrl.Session().KeyStroke()
		}
		return u, cmd
	}
}

func (u *ui) refreshViewport() {
	if !u.ready {
		return
	}
	msgs := u.ctrl.Session().Messages()
	var b strings.Builder
	// store order is newest first, render oldest at the top
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		line := fmt.Sprintf("%s %s: %s",
			mutedStyle.Render(m.CreatedAt.Format("15:04")), m.Sender.Username, m.Content)
		if m.Sender.ID == u.userID {
			line = ownMessageStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if u.ctrl.Session().RemoteTyping() {
		b.WriteString(mutedStyle.Render("typing...") + "\n")
	}
	u.viewport.SetContent(b.String())
	u.viewport.GotoBottom()
}

func (u *ui) View() string {
	if !u.ready {
		return "loading..."
	}

	var sidebar strings.Builder
	sidebar.WriteString(titleStyle.Render("Chats") + "\n")
	active := u.ctrl.Session().ConversationID()
	for i, conv := range u.ctrl.Store().Snapshot() {
		conv := conv
		md := u.ctrl.Metadata(&conv)
		line := md.Title
		if n := u.ctrl.Unread().Count(conv.ID); n > 0 {
			line += badgeStyle.Render(fmt.Sprintf(" (%d)", n))
		}
		switch {
		case conv.ID == active:
			line = selectedChatStyle.Render("* " + line)
		case i == u.cursor:
			line = "> " + line
		default:
			line = "  " + line
		}
		sidebar.WriteString(line + "\n")
		sidebar.WriteString(mutedStyle.Render("  "+md.LastMessage) + "\n")
	}

	var header string
	if active != "" {
		if conv, ok := u.ctrl.Store().Get(active); ok {
			md := u.ctrl.Metadata(&conv)
			header = titleStyle.Render(md.Title) + " " + mutedStyle.Render(md.Description)
		}
	} else {
		header = mutedStyle.Render("No chat selected")
	}

	status := u.status
	if u.ctrl.Session().State() == chat.Joining {
		status = "loading messages..."
	}
	if status != "" && strings.HasPrefix(status, "error") {
		status = errorStyle.Render(status)
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		header,
		u.viewport.View(),
		u.input.View(),
		mutedStyle.Render(status),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebarStyle.Render(sidebar.String()), main)
}
