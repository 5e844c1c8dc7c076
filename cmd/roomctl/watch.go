package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"roomwatch/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchOpts struct {
	Room     string
	Identity string
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live quality reports of a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchOpts.Room == "" {
			return fmt.Errorf("--room is required")
		}

		endpoint, err := streamURL(globals.Server, watchOpts.Room, watchOpts.Identity)
		if err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), endpoint, nil)
		if err != nil {
			return fmt.Errorf("connect %s: %w", endpoint, err)
		}
		defer conn.Close()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(interrupt)

		reports := make(chan domain.QualityReport)
		readErr := make(chan error, 1)
		go func() {
			defer close(reports)
			for {
				var report domain.QualityReport
				if err := conn.ReadJSON(&report); err != nil {
					readErr <- err
					return
				}
				reports <- report
			}
		}()

		for {
			select {
			case report, ok := <-reports:
				if !ok {
					err := <-readErr
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("read report: %w", err)
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			case <-interrupt:
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchOpts.Room, "room", "", "room to watch")
	watchCmd.Flags().StringVar(&watchOpts.Identity, "identity", "", "only this participant")
}

// streamURL maps the http(s) base URL onto the ws(s) quality stream.
func streamURL(server, room, identity string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u = u.JoinPath("/ws/quality")

	q := url.Values{"room": {room}}
	if identity != "" {
		q.Set("identity", identity)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
