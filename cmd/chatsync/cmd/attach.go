package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/engine"
	"github.com/vovakirdan/chatsync-sdk/chatsync/mutation"
	"github.com/vovakirdan/chatsync-sdk/chatsync/peers"
)

func init() {
	attachCmd.Flags().StringP("room", "r", "", "room to attach to")
	attachCmd.Flags().Int("tail", 20, "number of messages to render")
	_ = attachCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(attachCmd)
}

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to a room and chat from stdin",
	Long: `Attach joins a room, renders its timeline on every change and sends each
line typed on stdin. Lines starting with a slash are commands:

  /reply <id> <text>   answer a message
  /react <id> <emoji>  toggle a reaction
  /delete <id>         delete a message for yourself
  /read                mark the room read
  /refresh             reload the room snapshot
  /quit                leave

Message ids may be shortened to any unique prefix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")
		tail, _ := cmd.Flags().GetInt("tail")
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return attach(ctx, cfg, logger, room, tail, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// terminal serializes screen writes from the store, peer cache and input
// goroutines.
type terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func attach(ctx context.Context, cfg chatsync.Config, logger chatsync.Logger, room string, tail int, in io.Reader, out io.Writer) error {
	term := &terminal{out: out}
	e, err := engine.New(cfg, engine.Options{
		Logger: logger,
		OnFailure: func(f *mutation.Failure) {
			term.printf("! %s failed and was undone: %v\n", f.Op, f.Err)
		},
	})
	if err != nil {
		return err
	}

	r := renderer{
		store: e.Store(),
		name:  func(id string) string { return e.Peers().Name(ctx, id) },
		now:   time.Now,
	}
	redraw := func() {
		items := e.View()
		if tail > 0 && len(items) > tail {
			items = items[len(items)-tail:]
		}
		term.mu.Lock()
		defer term.mu.Unlock()
		fmt.Fprintf(term.out, "── %s (%d) ──\n", room, e.Store().Len(room))
		r.render(term.out, room, items)
	}
	e.Store().OnChange(func(roomID string) {
		if roomID == room {
			redraw()
		}
	})
	e.Peers().OnResolved(func(peers.Profile) { redraw() })
	e.Session().OnStateChanged(func(ev chatsync.StateEvent) {
		switch ev.NewState {
		case chatsync.StateReconnecting, chatsync.StateError, chatsync.StateDisconnected:
			term.printf("! connection %s\n", ev.NewState)
		case chatsync.StateConnected:
			if ev.Reconnected() {
				term.printf("! reconnected\n")
			}
		}
	})

	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Close()
	if err := e.Activate(ctx, room); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := runLine(ctx, e, line)
			if err != nil {
				term.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// runLine executes one line of input. Mutations are started but not
// awaited; failures are reported through the engine's failure callback.
func runLine(ctx context.Context, e *engine.Engine, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := e.Send(ctx, line)
		return false, err
	}

	verb, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "quit", "q":
		return true, nil
	case "read":
		_, err := e.MarkRoomRead(ctx)
		return false, err
	case "refresh":
		return false, e.Refresh(ctx)
	case "reply", "react", "delete":
	default:
		return false, fmt.Errorf("unknown command /%s", verb)
	}

	idPrefix, arg, _ := strings.Cut(rest, " ")
	id, err := resolveID(e.View(), idPrefix)
	if err != nil {
		return false, err
	}
	arg = strings.TrimSpace(arg)
	switch verb {
	case "reply":
		if arg == "" {
			return false, fmt.Errorf("usage: /reply <id> <text>")
		}
		_, err = e.Reply(ctx, id, arg)
	case "react":
		if arg == "" {
			return false, fmt.Errorf("usage: /react <id> <emoji>")
		}
		_, err = e.React(ctx, id, arg)
	case "delete":
		_, err = e.Delete(ctx, id)
	}
	return false, err
}
