package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"

	"github.com/diamondburned/voicelink/discord"
)

type config struct {
	Token       string        `env:"DISCORD_TOKEN, required"`
	GuildID     string        `env:"VOICE_GUILD_ID"`
	ChannelID   string        `env:"VOICE_CHANNEL_ID"`
	JoinTimeout time.Duration `env:"VOICE_JOIN_TIMEOUT, default=15s"`
	LogLevel    string        `env:"VOICE_LOG_LEVEL, default=info"`
}

// loadConfig reads .env, if any, then the environment.
func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	var cfg config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	return &cfg, nil
}

// target parses the guild and channel to join.
func (c *config) target() (discord.GuildID, discord.ChannelID, error) {
	guildID, err := discord.ParseGuildID(c.GuildID)
	if err != nil || !guildID.IsValid() {
		return 0, 0, errors.Errorf("invalid guild ID %q", c.GuildID)
	}

	channelID, err := discord.ParseChannelID(c.ChannelID)
	if err != nil || !channelID.IsValid() {
		return 0, 0, errors.Errorf("invalid channel ID %q", c.ChannelID)
	}

	return guildID, channelID, nil
}

func (c *config) level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, errors.Wrap(err, "invalid log level")
	}
	return lvl, nil
}
