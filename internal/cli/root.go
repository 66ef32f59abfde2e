// Package cli implements meshctl, a headless mesh participant and relay
// inspection tool.
package cli

import (
	"os"

	"github.com/dkeye/Meet/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var configFile string

// NewRootCmd builds the command tree. Client settings come from flags, an
// optional config file and MEET_* variables, in that order of precedence.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshctl",
		Short:         "Join full-mesh meetings from the terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "client config file (yaml)")
	addClientFlags(root.PersistentFlags())

	root.AddCommand(newJoinCmd(), newRoomsCmd(), newTokenCmd())
	return root
}

func addClientFlags(fs *pflag.FlagSet) {
	d := config.DefaultClientConfig()
	fs.String("relay-url", d.RelayURL, "signaling relay websocket url")
	fs.String("log-level", d.LogLevel, "log level")
	fs.String("stun-urls", d.STUNURLs, "comma separated STUN urls")
	fs.String("turn-urls", "", "comma separated TURN urls")
	fs.String("turn-username", "", "TURN username")
	fs.String("turn-credential", "", "TURN credential")
	fs.String("ice-servers-json", "", "ICE servers as JSON, overrides the url flags")
	fs.Duration("connect-timeout", d.ConnectTimeout, "peer connection establishment timeout")
	fs.Duration("gathering-timeout", d.GatheringTimeout, "ICE gathering timeout")
	fs.Int("reconnect-attempts", d.ReconnectAttempts, "relay reconnect attempts before giving up")
	fs.Duration("quality-interval", d.QualityInterval, "connection quality sampling interval, 0 disables")
}

func loadClientConfig(cmd *cobra.Command) (*config.ClientConfig, error) {
	cfg, err := config.LoadClient(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	config.ApplyLogLevel(cfg.LogLevel)
	return cfg, nil
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("meshctl")
		os.Exit(1)
	}
}
