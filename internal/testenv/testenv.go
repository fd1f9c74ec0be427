// Package testenv reads the environment of integration tests that need a
// real bot. Tests that call Must are skipped if the environment is missing.
package testenv

import (
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/diamondburned/voicelink/discord"
)

type Env struct {
	BotToken  string
	GuildID   discord.GuildID
	VoiceChID discord.ChannelID
}

var (
	globalEnv Env
	globalErr error
	once      sync.Once
)

// Must returns the environment or skips the test.
func Must(t *testing.T) Env {
	e, err := GetEnv()
	if err != nil {
		t.Skip("integration test variables missing:", err)
	}
	return e
}

func GetEnv() (Env, error) {
	once.Do(getEnv)
	return globalEnv, globalErr
}

func getEnv() {
	var token = os.Getenv("BOT_TOKEN")
	if token == "" {
		globalErr = errors.New("missing $BOT_TOKEN")
		return
	}

	gid, err := discord.ParseGuildID(os.Getenv("GUILD_ID"))
	if err != nil || !gid.IsValid() {
		globalErr = errors.New("missing or invalid $GUILD_ID")
		return
	}

	vid, err := discord.ParseChannelID(os.Getenv("VOICE_ID"))
	if err != nil || !vid.IsValid() {
		globalErr = errors.New("missing or invalid $VOICE_ID")
		return
	}

	globalEnv = Env{
		BotToken:  token,
		GuildID:   gid,
		VoiceChID: vid,
	}
}
