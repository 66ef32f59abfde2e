package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dkeye/Meet/internal/adapters/relayclient"
	"github.com/dkeye/Meet/internal/adapters/rtc"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/media"
	"github.com/dkeye/Meet/internal/mesh"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type joinFlags struct {
	meeting  string
	id       string
	name     string
	host     bool
	token    string
	noCamera bool
	loopback bool
}

func newJoinCmd() *cobra.Command {
	var f joinFlags
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a meeting as a headless participant",
		Long: `Join a meeting and stay connected until interrupted.

Lines typed on stdin are sent as chat. Commands:
  /mute /unmute /video on|off /hand /lower /share /unshare /who /leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.meeting, "meeting", "", "meeting id")
	cmd.Flags().StringVar(&f.id, "id", "", "participant id (random when empty)")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().BoolVar(&f.host, "host", false, "join as host")
	cmd.Flags().StringVar(&f.token, "token", "", "join token, when the relay requires one")
	cmd.Flags().BoolVar(&f.noCamera, "no-camera", false, "join without camera and microphone")
	cmd.Flags().BoolVar(&f.loopback, "loopback", false, "gather loopback candidates for same-host peers")
	_ = cmd.MarkFlagRequired("meeting")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runJoin(cmd *cobra.Command, f joinFlags) error {
	cfg, err := loadClientConfig(cmd)
	if err != nil {
		return err
	}
	if f.id == "" {
		f.id = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	factory, err := rtc.NewFactory(rtc.Options{
		ICEServers:       cfg.ICEServers,
		GatheringTimeout: cfg.GatheringTimeout,
		IncludeLoopback:  f.loopback,
	})
	if err != nil {
		return err
	}
	client := relayclient.New(relayclient.Options{
		URL:       cfg.RelayURL,
		Attempts:  cfg.ReconnectAttempts,
		BaseDelay: cfg.ReconnectBaseDelay,
		MaxDelay:  cfg.ReconnectMaxDelay,
	})
	out := newPrinter(cmd.OutOrStdout(), domain.ParticipantID(f.id))
	orch := mesh.New(mesh.Config{
		ConnectTimeout:  cfg.ConnectTimeout,
		QualityInterval: cfg.QualityInterval,
	}, client, factory, media.Synthetic{StreamID: f.id, NoCamera: f.noCamera}, out)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	relayCtx, cancelRelay := context.WithCancel(ctx)
	defer cancelRelay()

	g, gctx := errgroup.WithContext(relayCtx)
	g.Go(func() error {
		err := client.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		// Leaving ends the relay connection too.
		defer cancelRelay()
		return orch.Run(gctx, mesh.JoinRequest{
			MeetingID: f.meeting,
			ID:        domain.ParticipantID(f.id),
			Name:      f.name,
			IsHost:    f.host,
			Token:     f.token,
		})
	})
	go readCommands(gctx, cmd.InOrStdin(), orch, out)

	log.Info().Str("module", "cli").Str("meeting", f.meeting).Str("participant", f.id).Msg("joining")
	return g.Wait()
}

// readCommands never returns while stdin is open; it is not part of the
// errgroup for that reason.
func readCommands(ctx context.Context, in io.Reader, orch *mesh.Orchestrator, out *printer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := runCommand(ctx, line, orch, out); err != nil {
			out.errorf("%v", err)
		}
		if line == "/leave" {
			return
		}
	}
}

func runCommand(ctx context.Context, line string, orch *mesh.Orchestrator, out *printer) error {
	if !strings.HasPrefix(line, "/") {
		_, err := orch.SendChat(line)
		return err
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/mute":
		return orch.SetAudioEnabled(false)
	case "/unmute":
		return orch.SetAudioEnabled(true)
	case "/video":
		return orch.SetVideoEnabled(len(fields) > 1 && fields[1] == "on")
	case "/hand":
		return orch.SetHandRaised(true)
	case "/lower":
		return orch.SetHandRaised(false)
	case "/share":
		return orch.StartScreenShare(ctx)
	case "/unshare":
		return orch.StopScreenShare()
	case "/who":
		s, err := orch.Snapshot()
		if err != nil {
			return err
		}
		out.session(s)
		return nil
	case "/leave":
		orch.Leave()
		return nil
	}
	return fmt.Errorf("unknown command %s", fields[0])
}
