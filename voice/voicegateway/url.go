package voicegateway

import (
	"net/url"
	"strings"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
)

// Version represents the version of the Discord voice gateway this package
// uses.
const Version = "4"

type urlQuery struct {
	Version string `schema:"v"`
}

var urlEncoder = schema.NewEncoder()

// EndpointURL builds the websocket URL for the voice server endpoint given by
// VoiceServerUpdate. The legacy :80 port suffix is trimmed. An endpoint that
// already has a ws:// or wss:// scheme keeps it.
func EndpointURL(endpoint string) (string, error) {
	if endpoint == "" {
		return "", ErrNoEndpoint
	}

	if !strings.Contains(endpoint, "://") {
		// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection
		endpoint = "wss://" + strings.TrimSuffix(endpoint, ":80")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "invalid voice endpoint")
	}

	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	if err := urlEncoder.Encode(urlQuery{Version: Version}, q); err != nil {
		return "", errors.Wrap(err, "failed to encode query")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
