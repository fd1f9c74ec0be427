package main

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/diamondburned/voicelink/voice"
	"github.com/diamondburned/voicelink/voice/opus"
)

// packetLogger decodes incoming audio and logs each new speaker along with
// what their stream decodes to.
type packetLogger struct {
	*opus.PCMReceiver
	log *logrus.Logger

	mu   sync.Mutex
	seen map[uint32]int
}

var _ voice.AudioReceiver = (*packetLogger)(nil)

func newPacketLogger(log *logrus.Logger) *packetLogger {
	l := &packetLogger{
		log:  log,
		seen: make(map[uint32]int),
	}
	l.PCMReceiver = opus.NewPCMReceiver(l.onPCM)
	return l
}

func (l *packetLogger) onPCM(pcm opus.PCM) {
	l.mu.Lock()
	n := l.seen[pcm.SSRC]
	l.seen[pcm.SSRC] = n + 1
	l.mu.Unlock()

	entry := l.log.WithFields(logrus.Fields{
		"ssrc":        pcm.SSRC,
		"sample_rate": pcm.SampleRate,
		"stereo":      pcm.Stereo,
	})

	if n == 0 {
		entry.Info("New speaker")
		return
	}

	// Every 50 frames is about a second.
	if n%50 == 0 {
		entry.WithField("frames", n).Debug("Receiving audio")
	}
}
