// Command voicejoin joins a Discord voice channel and plays an Opus file into
// it.
//
// Configuration is read from the environment and an optional .env file:
//
//	DISCORD_TOKEN       bot token (required)
//	VOICE_GUILD_ID      guild to join
//	VOICE_CHANNEL_ID    voice channel to join
//	VOICE_JOIN_TIMEOUT  join timeout (default 15s)
//	VOICE_LOG_LEVEL     logrus level (default info)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	debug     bool
	deaf      bool
	format    string
	guildID   string
	channelID string
	reconnect int
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:   "voicejoin [file]",
		Short: "Play an Opus file into a Discord voice channel",
		Long: "Joins a voice channel, plays the given Ogg/Opus or length-prefixed " +
			"Opus file and leaves. Without a file, it stays connected and logs " +
			"incoming audio until interrupted.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), envconfig.OsLookuper())
			if err != nil {
				return err
			}

			if f.guildID != "" {
				cfg.GuildID = f.guildID
			}
			if f.channelID != "" {
				cfg.ChannelID = f.channelID
			}

			var file string
			if len(args) > 0 {
				file = args[0]
			}

			return run(cmd.Context(), cfg, f, file)
		},
	}

	cmd.Flags().BoolVar(&f.debug, "debug", false, "print every voice event")
	cmd.Flags().BoolVar(&f.deaf, "deaf", false, "join deafened")
	cmd.Flags().StringVar(&f.format, "format", "ogg", "file format: ogg, dca or s16 (16-bit length-prefixed frames)")
	cmd.Flags().StringVar(&f.guildID, "guild", "", "guild ID, overrides $VOICE_GUILD_ID")
	cmd.Flags().StringVar(&f.channelID, "channel", "", "channel ID, overrides $VOICE_CHANNEL_ID")
	cmd.Flags().IntVar(&f.reconnect, "reconnect", 3, "how many times to reconnect after a disconnect")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("voicejoin failed")
	}
}
