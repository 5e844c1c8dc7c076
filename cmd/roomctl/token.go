package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"roomwatch/internal/core/services"

	"github.com/spf13/cobra"
)

var tokenOpts struct {
	Room      string
	Identity  string
	Local     bool
	APIKey    string
	APISecret string
	TTL       time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a room access token",
	Long: `Issue a room access token for --identity in --room.

By default the token is requested from the server's /api/get-token endpoint.
With --local it is signed here using LIVEKIT_API_KEY and LIVEKIT_API_SECRET.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenOpts.Room == "" || tokenOpts.Identity == "" {
			return fmt.Errorf("--room and --identity are required")
		}

		if tokenOpts.Local {
			svc := services.NewTokenService(tokenOpts.APIKey, tokenOpts.APISecret, tokenOpts.TTL)
			token, err := svc.Issue(tokenOpts.Room, tokenOpts.Identity)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
		}

		resp, err := requestToken(cmd.Context(), globals.Server, tokenOpts.Room, tokenOpts.Identity)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOpts.Room, "room", "", "room name")
	tokenCmd.Flags().StringVar(&tokenOpts.Identity, "identity", "", "participant identity")
	tokenCmd.Flags().BoolVar(&tokenOpts.Local, "local", false, "sign locally instead of asking the server")
	tokenCmd.Flags().StringVar(&tokenOpts.APIKey, "api-key", envOr("LIVEKIT_API_KEY", ""), "API key used with --local")
	tokenCmd.Flags().StringVar(&tokenOpts.APISecret, "api-secret", envOr("LIVEKIT_API_SECRET", ""), "API secret used with --local")
	tokenCmd.Flags().DurationVar(&tokenOpts.TTL, "ttl", time.Hour, "token lifetime used with --local")
}

type tokenResponse struct {
	Token string `json:"token,omitempty"`
	URL   string `json:"url,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func requestToken(ctx context.Context, server, room, identity string) (*tokenResponse, error) {
	endpoint, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	endpoint = endpoint.JoinPath("/api/get-token")
	endpoint.RawQuery = url.Values{"room": {room}, "identity": {identity}}.Encode()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return nil, fmt.Errorf("token request failed: %s", resp.Status)
		}
		return nil, fmt.Errorf("token request failed: %s: %s", resp.Status, apiErr.Message)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &out, nil
}
