/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/tunnelchat/tunnelchat/tunnel"
)

const sidebarWidth = 26

var joinCmd = &cobra.Command{
	Use:   "join [room]",
	Short: "Joins a room in a full-screen chat session",
	Long: `Joins the given room (prompting for one if omitted) and opens the
full-screen session.

Keys:
  Enter   send message
  Ctrl+R  reply to the last message from someone else (Esc cancels)
  Ctrl+L  lock/unlock the room
  Ctrl+K  clear all messages (asks for confirmation)
  Ctrl+U  collapse/expand the users sidebar
  Ctrl+P  pin the sidebar open
  Ctrl+C  leave`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		room, err := resolveRoom(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		name, err := resolveName()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := runChatUI(room, name); err != nil {
			fmt.Fprintf(os.Stderr, "Chat UI error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

// chatUI holds the session's widgets and mutable view state. All methods
// that touch widgets run on the tview event loop, either directly from an
// input handler or via QueueUpdateDraw from engine callbacks.
type chatUI struct {
	app     *tview.Application
	pages   *tview.Pages
	header  *tview.TextView
	msgView *tview.TextView
	users   *tview.TextView
	input   *tview.InputField
	body    *tview.Flex

	room string
	name string

	// memberCount mirrors the sidebar title; event-loop only.
	memberCount int

	mu        sync.Mutex
	client    *tunnel.Client
	replyTo   *tunnel.ReplyRef
	lastOther *tunnel.Message
	sidebar   sidebarState
}

// sidebarState folds the collapse and pin toggles into a width. A pinned
// sidebar stays open; collapsing requires unpinning first.
type sidebarState struct {
	collapsed bool
	pinned    bool
}

func (s *sidebarState) toggleCollapse() {
	if s.pinned {
		return
	}
	s.collapsed = !s.collapsed
}

func (s *sidebarState) togglePin() {
	s.pinned = !s.pinned
	if s.pinned {
		s.collapsed = false
	}
}

func (s sidebarState) width() int {
	if s.collapsed {
		return 0
	}
	return sidebarWidth
}

func runChatUI(room, name string) error {
	ui := &chatUI{
		app:  tview.NewApplication(),
		room: room,
		name: name,
	}

	ui.header = tview.NewTextView().SetDynamicColors(true)
	ui.msgView = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true).
		ScrollToEnd()
	ui.users = tview.NewTextView().SetDynamicColors(true)
	ui.users.SetBorder(true).SetTitle(" online ")
	ui.input = tview.NewInputField().
		SetFieldWidth(0).
		SetAcceptanceFunc(tview.InputFieldMaxLength(tunnel.MaxTextLen))
	ui.setInputLabel()

	ui.body = tview.NewFlex().
		AddItem(ui.msgView, 0, 1, false).
		AddItem(ui.users, sidebarWidth, 0, false)

	main := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.header, 1, 0, false).
		AddItem(ui.body, 0, 1, false).
		AddItem(ui.input, 1, 0, true)

	ui.pages = tview.NewPages().AddPage("main", main, true, true)
	ui.app.SetRoot(ui.pages, true).SetFocus(ui.input)

	ui.renderHeader(false)
	fmt.Fprintf(ui.msgView, "[green]Welcome to %s! You are %s. (Ctrl+C to leave)[-]\n", room, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer st.Close()

	ui.wireInput(ctx)

	// Join once the event loop is up so engine callbacks can redraw.
	go func() {
		client, err := tunnel.Join(ctx, tunnel.Config{
			Room:  room,
			Name:  name,
			Store: st,
			Handlers: tunnel.Handlers{
				OnMessage: func(msg tunnel.Message) {
					ui.app.QueueUpdateDraw(func() { ui.appendMessage(msg) })
				},
				OnMembers: func(members []tunnel.Member) {
					ui.app.QueueUpdateDraw(func() { ui.renderUsers(members) })
				},
				OnLock: func(locked bool) {
					ui.app.QueueUpdateDraw(func() { ui.renderHeader(locked) })
				},
				OnClear: func() {
					ui.app.QueueUpdateDraw(func() {
						ui.msgView.Clear()
						fmt.Fprintln(ui.msgView, "[yellow]All messages cleared.[-]")
					})
				},
			},
			Logger: log,
		})
		if err != nil {
			ui.app.QueueUpdateDraw(func() {
				fmt.Fprintf(ui.msgView, "[red]Failed to join: %v[-]\n", err)
			})
			return
		}
		ui.mu.Lock()
		ui.client = client
		ui.mu.Unlock()
		rememberRoom(room)
	}()

	if err := ui.app.Run(); err != nil {
		return err
	}

	// Departure runs the empty-room collection; give it time to settle.
	ui.mu.Lock()
	client := ui.client
	ui.mu.Unlock()
	if client != nil {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer leaveCancel()
		if err := client.Leave(leaveCtx); err != nil {
			log.WithError(err).Warn("leave failed")
		}
	}
	return nil
}

func (ui *chatUI) currentClient() *tunnel.Client {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.client
}

func (ui *chatUI) setInputLabel() {
	ui.mu.Lock()
	reply := ui.replyTo
	ui.mu.Unlock()
	if reply != nil {
		ui.input.SetLabel("↩ " + reply.Author + " | " + ui.name + " ❯ ")
	} else {
		ui.input.SetLabel(ui.name + " ❯ ")
	}
}

func (ui *chatUI) renderHeader(locked bool) {
	if locked {
		ui.header.SetText(fmt.Sprintf("[::b]■ %s[-::-]  [red]LOCKED[-]  (Ctrl+L unlock)", ui.room))
	} else {
		ui.header.SetText(fmt.Sprintf("[::b]■ %s[-::-]  (Ctrl+L lock, Ctrl+K clear)", ui.room))
	}
}

func (ui *chatUI) usersTitle(count int) string {
	ui.mu.Lock()
	pinned := ui.sidebar.pinned
	ui.mu.Unlock()
	if pinned {
		return fmt.Sprintf(" %d online [pinned] ", count)
	}
	return fmt.Sprintf(" %d online ", count)
}

func (ui *chatUI) renderUsers(members []tunnel.Member) {
	ui.users.Clear()
	ui.memberCount = len(members)
	ui.users.SetTitle(ui.usersTitle(len(members)))
	for _, m := range members {
		marker := ""
		if m.Typing && m.Name != ui.name {
			marker = " [yellow]typing…[-]"
		}
		you := ""
		if m.Name == ui.name {
			you = " [gray](you)[-]"
		}
		fmt.Fprintf(ui.users, "[green]●[-] %s%s%s\n", tview.Escape(m.Name), you, marker)
	}
}

func (ui *chatUI) appendMessage(msg tunnel.Message) {
	if msg.ReplyTo != nil {
		fmt.Fprintf(ui.msgView, "[gray]  ↳ %s: %s[-]\n",
			tview.Escape(msg.ReplyTo.Author), tview.Escape(msg.ReplyTo.Text))
	}
	color := "blue"
	receipt := ""
	if msg.Author == ui.name {
		color = "green"
		// ✓✓ only appears for messages already read when replayed; live
		// receipt updates are not pushed back to the sender.
		receipt = " [gray]✓[-]"
		if msg.Read {
			receipt = " [gray]✓✓[-]"
		}
	} else {
		ui.mu.Lock()
		last := msg
		ui.lastOther = &last
		ui.mu.Unlock()
	}
	fmt.Fprintf(ui.msgView, "[gray][%s][-] [%s]%s[-]: %s%s\n",
		msg.Timestamp.Format("15:04:05"), color, tview.Escape(msg.Author), tview.Escape(msg.Text), receipt)
	ui.msgView.ScrollToEnd()
}

func (ui *chatUI) wireInput(ctx context.Context) {
	ui.input.SetChangedFunc(func(text string) {
		if text == "" {
			return
		}
		if client := ui.currentClient(); client != nil {
			go client.HeartbeatTyping()
		}
	})

	ui.input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			ui.submit(ctx)
		case tcell.KeyEscape:
			ui.mu.Lock()
			ui.replyTo = nil
			ui.mu.Unlock()
			ui.setInputLabel()
		}
	})

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			ui.app.Stop()
			return nil
		case tcell.KeyCtrlL:
			if client := ui.currentClient(); client != nil {
				go client.ToggleLock(ctx)
			}
			return nil
		case tcell.KeyCtrlK:
			ui.confirmClear(ctx)
			return nil
		case tcell.KeyCtrlR:
			ui.armReply()
			return nil
		case tcell.KeyCtrlU:
			ui.toggleSidebar()
			return nil
		case tcell.KeyCtrlP:
			ui.togglePin()
			return nil
		}
		return event
	})
}

func (ui *chatUI) submit(ctx context.Context) {
	client := ui.currentClient()
	if client == nil {
		return
	}
	text := ui.input.GetText()
	ui.mu.Lock()
	reply := ui.replyTo
	ui.replyTo = nil
	ui.mu.Unlock()
	ui.input.SetText("")
	ui.setInputLabel()

	go func() {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if _, err := client.Send(sendCtx, text, reply); err != nil {
			var verr *tunnel.ValidationError
			if errors.As(err, &verr) && errors.Is(err, tunnel.ErrEmptyText) {
				return
			}
			ui.app.QueueUpdateDraw(func() {
				fmt.Fprintf(ui.msgView, "[red]Send failed: %v[-]\n", err)
				// Keep the input for retry.
				ui.input.SetText(text)
			})
		}
	}()
}

// armReply quotes the most recent message from another author. The quote
// is a snapshot: clearing the stream later does not touch it.
func (ui *chatUI) armReply() {
	ui.mu.Lock()
	if ui.lastOther != nil {
		ui.replyTo = &tunnel.ReplyRef{Author: ui.lastOther.Author, Text: ui.lastOther.Text}
	}
	ui.mu.Unlock()
	ui.setInputLabel()
}

func (ui *chatUI) toggleSidebar() {
	ui.mu.Lock()
	ui.sidebar.toggleCollapse()
	width := ui.sidebar.width()
	ui.mu.Unlock()
	ui.body.ResizeItem(ui.users, width, 0)
}

func (ui *chatUI) togglePin() {
	ui.mu.Lock()
	ui.sidebar.togglePin()
	width := ui.sidebar.width()
	ui.mu.Unlock()
	ui.body.ResizeItem(ui.users, width, 0)
	ui.users.SetTitle(ui.usersTitle(ui.memberCount))
}

func (ui *chatUI) confirmClear(ctx context.Context) {
	modal := tview.NewModal().
		SetText("Clear all messages? This cannot be undone.").
		AddButtons([]string{"Clear", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			ui.pages.RemovePage("confirm")
			ui.app.SetFocus(ui.input)
			if label != "Clear" {
				return
			}
			if client := ui.currentClient(); client != nil {
				go func() {
					clearCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
					defer cancel()
					if err := client.ClearMessages(clearCtx); err != nil {
						ui.app.QueueUpdateDraw(func() {
							fmt.Fprintf(ui.msgView, "[red]Clear failed: %v[-]\n", err)
						})
					}
				}()
			}
		})
	ui.pages.AddPage("confirm", modal, true, true)
	ui.app.SetFocus(modal)
}
