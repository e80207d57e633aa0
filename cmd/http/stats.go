package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hilthontt/roomdrop/internal/presentation/handler/stats"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show live room and connection counts of a running server",
		Example: `  roomdrop stats
  roomdrop stats --addr http://drop.internal:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			s, err := fetchStats(ctx, http.DefaultClient, addr)
			if err != nil {
				return err
			}

			renderStats(cmd.OutOrStdout(), addr, s)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the server")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}

func fetchStats(ctx context.Context, client *http.Client, addr string) (stats.Response, error) {
	url := strings.TrimRight(addr, "/") + "/api/stats"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return stats.Response{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return stats.Response{}, fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats.Response{}, fmt.Errorf("unexpected status from %s: %s", url, resp.Status)
	}

	var s stats.Response
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return stats.Response{}, fmt.Errorf("failed to decode stats: %w", err)
	}

	return s, nil
}

func renderStats(w io.Writer, addr string, s stats.Response) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(addr)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Rooms", s.Rooms},
		{"Members", s.Members},
		{"Connections", s.Connections},
	})
	t.Render()
}
