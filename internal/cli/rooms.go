package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRoomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms currently held by the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig(cmd)
			if err != nil {
				return err
			}
			base, err := apiBase(cfg.RelayURL)
			if err != nil {
				return err
			}
			rooms, err := fetchRooms(cmd.Context(), base)
			if err != nil {
				return err
			}
			renderRooms(cmd, rooms)
			return nil
		},
	}
}

// apiBase maps ws(s)://host/api/ws/signal to http(s)://host.
func apiBase(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path, u.RawQuery = "", ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

func fetchRooms(ctx context.Context, base string) ([]core.RoomInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay answered %s", resp.Status)
	}
	var body struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return body.Rooms, nil
}

func renderRooms(cmd *cobra.Command, rooms []core.RoomInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Meeting", "Code", "Members", "Created"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.Code, r.MemberCount, r.CreatedAt.Local().Format(time.DateTime)})
	}
	t.AppendFooter(table.Row{"", "", len(rooms), ""})
	t.Render()
}

func newTokenCmd() *cobra.Command {
	var secret, meeting, id string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a join token for a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := domain.ValidateRoomID(meeting)
			if err != nil {
				return err
			}
			pid, err := domain.ValidateParticipantID(id)
			if err != nil {
				return err
			}
			tokens := signal.NewJoinTokens(secret)
			if tokens == nil {
				return fmt.Errorf("--secret is required")
			}
			fmt.Fprintln(cmd.OutOrStdout(), tokens.Sign(room, pid))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "relay join_secret")
	cmd.Flags().StringVar(&meeting, "meeting", "", "meeting id")
	cmd.Flags().StringVar(&id, "id", "", "participant id")
	_ = cmd.MarkFlagRequired("meeting")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
