package discord

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestSnowflake(t *testing.T) {
	t.Run("parse", func(t *testing.T) {
		s, err := ParseSnowflake("175928847299117063")
		if err != nil {
			t.Fatal("Failed to parse snowflake:", err)
		}

		if s != 175928847299117063 {
			t.Fatal("Unexpected snowflake:", s)
		}
	})

	t.Run("parse null", func(t *testing.T) {
		for _, str := range []string{"", "null"} {
			s, err := ParseSnowflake(str)
			if err != nil {
				t.Fatalf("Failed to parse %q: %v", str, err)
			}
			if !s.IsNull() {
				t.Fatalf("Expected %q to be null, got %d", str, s)
			}
		}
	})

	t.Run("parse invalid", func(t *testing.T) {
		if _, err := ParseSnowflake("hime"); err == nil {
			t.Fatal("Unexpected nil error parsing invalid snowflake")
		}
	})
}

func TestSnowflakeJSON(t *testing.T) {
	type voiceState struct {
		GuildID   GuildID   `json:"guild_id"`
		ChannelID ChannelID `json:"channel_id"`
		UserID    UserID    `json:"user_id"`
	}

	in := voiceState{
		GuildID:   41771983423143937,
		ChannelID: NullChannelID,
		UserID:    80351110224678912,
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal("Failed to marshal:", err)
	}

	const expect = `{"guild_id":"41771983423143937","channel_id":null,"user_id":"80351110224678912"}`
	if string(b) != expect {
		t.Fatalf("Unexpected JSON:\nexpected %s\ngot      %s", expect, b)
	}

	var out voiceState
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal("Failed to unmarshal:", err)
	}

	if out != in {
		t.Fatalf("Unexpected round trip: %+v", out)
	}
}

func TestMilliseconds(t *testing.T) {
	var ms Milliseconds
	if err := json.Unmarshal([]byte(`13750.5`), &ms); err != nil {
		t.Fatal("Failed to unmarshal:", err)
	}

	if d := ms.Duration(); d != 13750*time.Millisecond+500*time.Microsecond {
		t.Fatal("Unexpected duration:", d)
	}

	if back := DurationToMilliseconds(ms.Duration()); back != ms {
		t.Fatal("Unexpected round trip:", back)
	}
}
