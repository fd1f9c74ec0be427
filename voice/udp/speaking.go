package udp

// SpeakingDetector derives speaking state changes from the lengths of
// outgoing frames. An empty frame means silence and is never sent. The zero
// value is not speaking.
type SpeakingDetector struct {
	speaking bool
}

// Observe records the next frame. changed is true if the frame starts or ends
// speech: a start must be announced before the frame is sent, and an end is
// announced in place of the empty frame.
func (d *SpeakingDetector) Observe(frameLen int) (changed, speaking bool) {
	speaking = frameLen > 0
	changed = speaking != d.speaking
	d.speaking = speaking
	return
}

// Speaking returns the current state.
func (d *SpeakingDetector) Speaking() bool { return d.speaking }

// Finish ends the stream. It returns true if a final not-speaking update is
// owed.
func (d *SpeakingDetector) Finish() bool {
	owed := d.speaking
	d.speaking = false
	return owed
}
