package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/peers"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
	"github.com/vovakirdan/chatsync-sdk/chatsync/timeline"
)

func init() {
	historyCmd.Flags().StringP("room", "r", "", "room to print")
	_ = historyCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print a room's current snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return history(cmd.Context(), cfg, logger, room, cmd.OutOrStdout())
	},
}

func history(ctx context.Context, cfg chatsync.Config, logger chatsync.Logger, room string, out io.Writer) error {
	if cfg.APIBaseURL == "" {
		return chatsync.NewError(chatsync.ErrorInvalidConfig, "empty API base URL")
	}
	viewer, err := chatsync.ResolveViewer(cfg)
	if err != nil {
		return err
	}
	api := rest.NewClient(cfg.APIBaseURL)
	api.SetToken(cfg.Token)
	if cfg.RequestTimeout > 0 {
		api.SetHTTPClient(&http.Client{Timeout: cfg.RequestTimeout})
	}

	msgs, err := api.GetMessages(ctx, room)
	if err != nil {
		return chatsync.WrapError(chatsync.Classify(err), "load room "+room, err)
	}

	store := timeline.New(timeline.Config{Viewer: viewer, Logger: logger})
	store.Open(room)
	held := store.ApplySnapshot(room, msgs)

	cache := peers.New(api, logger)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	if err := cache.Warm(ctx, ids...); err != nil {
		logger.Debug("peer warmup incomplete", map[string]any{"error": err.Error()})
	}

	r := renderer{
		store: store,
		name:  func(id string) string { return cache.Lookup(ctx, id).Name },
		now:   time.Now,
	}
	fmt.Fprintf(out, "── %s: %s messages ──\n", room, humanize.Comma(int64(held)))
	r.render(out, room, store.View(room))
	return nil
}
