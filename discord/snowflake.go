package discord

import (
	"strconv"
	"strings"
)

// Snowflake is the base ID type used by Discord. It is encoded as a string in
// JSON, and NullSnowflake is encoded as null.
type Snowflake int64

// NullSnowflake gets encoded into a null. It is used by nullable ID fields,
// such as the channel ID of a voice state that leaves a channel.
const NullSnowflake Snowflake = -1

// ParseSnowflake parses a snowflake from its decimal string form. An empty
// string or "null" parses to NullSnowflake.
func ParseSnowflake(sf string) (Snowflake, error) {
	if sf == "" || sf == "null" {
		return NullSnowflake, nil
	}

	u, err := strconv.ParseUint(sf, 10, 64)
	if err != nil {
		return 0, err
	}

	return Snowflake(u), nil
}

func (s *Snowflake) UnmarshalJSON(v []byte) error {
	id := strings.Trim(string(v), `"`)
	if id == "null" {
		*s = NullSnowflake
		return nil
	}

	u, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return err
	}

	*s = Snowflake(u)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return []byte("null"), nil
	}
	return []byte(`"` + s.String() + `"`), nil
}

// String returns the decimal form of the ID. NullSnowflake is formatted as an
// empty string.
func (s Snowflake) String() string {
	if s == NullSnowflake {
		return ""
	}
	return strconv.FormatUint(uint64(s), 10)
}

// IsValid returns true if the snowflake is neither zero nor null.
func (s Snowflake) IsValid() bool { return s > 0 }

// IsNull returns true if the snowflake is NullSnowflake.
func (s Snowflake) IsNull() bool { return s == NullSnowflake }

// GuildID is the snowflake of a guild. Voice gateways call it the server ID.
type GuildID Snowflake

// NullGuildID gets encoded into a null.
const NullGuildID = GuildID(NullSnowflake)

func ParseGuildID(s string) (GuildID, error) {
	sf, err := ParseSnowflake(s)
	return GuildID(sf), err
}

func (s GuildID) MarshalJSON() ([]byte, error)   { return Snowflake(s).MarshalJSON() }
func (s *GuildID) UnmarshalJSON(v []byte) error  { return (*Snowflake)(s).UnmarshalJSON(v) }
func (s GuildID) String() string                 { return Snowflake(s).String() }
func (s GuildID) IsValid() bool                  { return Snowflake(s).IsValid() }
func (s GuildID) IsNull() bool                   { return Snowflake(s).IsNull() }

// ChannelID is the snowflake of a channel.
type ChannelID Snowflake

// NullChannelID gets encoded into a null. A voice state update with this
// channel ID disconnects the user from voice.
const NullChannelID = ChannelID(NullSnowflake)

func ParseChannelID(s string) (ChannelID, error) {
	sf, err := ParseSnowflake(s)
	return ChannelID(sf), err
}

func (s ChannelID) MarshalJSON() ([]byte, error)  { return Snowflake(s).MarshalJSON() }
func (s *ChannelID) UnmarshalJSON(v []byte) error { return (*Snowflake)(s).UnmarshalJSON(v) }
func (s ChannelID) String() string                { return Snowflake(s).String() }
func (s ChannelID) IsValid() bool                 { return Snowflake(s).IsValid() }
func (s ChannelID) IsNull() bool                  { return Snowflake(s).IsNull() }

// UserID is the snowflake of a user.
type UserID Snowflake

// NullUserID gets encoded into a null.
const NullUserID = UserID(NullSnowflake)

func ParseUserID(s string) (UserID, error) {
	sf, err := ParseSnowflake(s)
	return UserID(sf), err
}

func (s UserID) MarshalJSON() ([]byte, error)  { return Snowflake(s).MarshalJSON() }
func (s *UserID) UnmarshalJSON(v []byte) error { return (*Snowflake)(s).UnmarshalJSON(v) }
func (s UserID) String() string                { return Snowflake(s).String() }
func (s UserID) IsValid() bool                 { return Snowflake(s).IsValid() }
func (s UserID) IsNull() bool                  { return Snowflake(s).IsNull() }
