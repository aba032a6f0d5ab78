package main

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentchat/internal/client"
)

type ui struct {
	app          *tview.Application
	conversation *tview.TextView
	status       *tview.TextView
	input        *tview.InputField

	conv   *client.Assembler
	mgr    *client.Manager
	logger *zap.Logger
}

func newUI(conv *client.Assembler, logger *zap.Logger) *ui {
	u := &ui{
		app:    tview.NewApplication(),
		conv:   conv,
		logger: logger,
	}

	u.conversation = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true)
	u.conversation.SetTitle("Conversation").SetBorder(true)

	u.status = tview.NewTextView().SetDynamicColors(true)

	u.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldBackgroundColor(tcell.ColorDefault)
	u.input.SetTitle("Message").SetBorder(true)
	u.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			u.submit()
		}
	})

	u.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlR && u.mgr != nil {
			u.mgr.Connect()
			u.render()
			return nil
		}
		return event
	})

	conv.OnChange(u.refresh)
	return u
}

func (u *ui) attach(mgr *client.Manager) {
	u.mgr = mgr
}

func (u *ui) run() error {
	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(u.status, 1, 0, false).
		AddItem(u.conversation, 0, 1, false).
		AddItem(u.input, 3, 0, true)

	u.render()
	return u.app.SetRoot(layout, true).SetFocus(u.input).Run()
}

// refresh redraws from any goroutine
func (u *ui) refresh() {
	go u.app.QueueUpdateDraw(u.render)
}

func (u *ui) submit() {
	text := strings.TrimSpace(u.input.GetText())
	if text == "" {
		return
	}
	if text == "/quit" {
		u.app.Stop()
		return
	}
	if u.conv.Waiting() {
		return
	}
	if u.mgr.State() != client.StateConnected {
		u.mgr.Connect()
		u.render()
		return
	}

	u.input.SetText("")
	u.conv.AddUser(text)
	if !u.mgr.Send(text) {
		u.logger.Warn("message not sent")
	}
}

func (u *ui) render() {
	u.status.SetText(u.statusLine())

	var b strings.Builder
	for _, msg := range u.conv.Messages() {
		switch msg.Role {
		case client.RoleUser:
			b.WriteString("[blue::b]You[-::-]\n")
		default:
			b.WriteString("[green::b]Assistant[-::-]\n")
		}
		b.WriteString(tview.Escape(msg.DisplayedText))
		if msg.IsStreaming {
			b.WriteString("▌")
		}
		if msg.Aborted {
			b.WriteString(" [gray](interrupted)[-]")
		}
		b.WriteString("\n\n")
	}
	if status := u.conv.Status(); status != "" {
		fmt.Fprintf(&b, "[gray::i]%s[-::-]\n", tview.Escape(status))
	}

	u.conversation.SetText(b.String())
	u.conversation.ScrollToEnd()
}

func (u *ui) statusLine() string {
	if u.mgr == nil {
		return ""
	}
	switch u.mgr.State() {
	case client.StateConnected:
		return "[green]● Connected[-]"
	case client.StateConnecting:
		return "[yellow]● Connecting...[-]"
	default:
		return "[red]● Disconnected - press Ctrl+R or Enter to reconnect[-]"
	}
}
