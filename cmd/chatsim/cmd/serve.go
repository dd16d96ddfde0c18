package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
	"github.com/vovakirdan/chatsync-sdk/internal/fakeserver"
)

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().String("secret", "chatsim", "HS256 token signing secret")
	serveCmd.Flags().StringSlice("users", []string{"alice", "bob"}, "users to register and issue tokens for")
	serveCmd.Flags().String("room", "general", "room to seed with a greeting")
	serveCmd.Flags().Bool("access-log", true, "log every HTTP request")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API and websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		addr, _ := flags.GetString("addr")
		secret, _ := flags.GetString("secret")
		users, _ := flags.GetStringSlice("users")
		room, _ := flags.GetString("room")
		accessLog, _ := flags.GetBool("access-log")
		level, _ := flags.GetString("log-level")

		srv := fakeserver.New(fakeserver.Config{
			Secret:    []byte(secret),
			Logger:    chatsync.NewLogger(level),
			AccessLog: accessLog,
		})
		if err := seed(srv, users, room, cmd.OutOrStdout()); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, addr, srv.Handler(), cmd.OutOrStdout())
	},
}

// seed registers users, prints a token for each and posts a greeting.
func seed(srv *fakeserver.Server, users []string, room string, out io.Writer) error {
	var first string
	for _, id := range users {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if first == "" {
			first = id
		}
		srv.AddUser(rest.User{ID: id, Name: strings.ToUpper(id[:1]) + id[1:]})
		token, err := srv.IssueToken(id)
		if err != nil {
			return fmt.Errorf("issue token for %s: %w", id, err)
		}
		fmt.Fprintf(out, "CHATSYNC_TOKEN=%s  # %s\n", token, id)
	}
	if room != "" && first != "" {
		srv.Post(room, first, "welcome to "+room)
	}
	return nil
}

func serve(ctx context.Context, addr string, h http.Handler, out io.Writer) error {
	hs := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	fmt.Fprintf(out, "chatsim listening on %s (ws path /ws)\n", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
