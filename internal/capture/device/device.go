// Package device captures live audio from PortAudio input devices: either a
// loopback device that mirrors system output or a microphone.
package device

// Info describes one input-capable device.
type Info struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Channels   int     `json:"channels"`
	SampleRate float64 `json:"sample_rate"`
	LatencyMs  float64 `json:"latency_ms"`
	Default    bool    `json:"default"`
	Loopback   bool    `json:"loopback"`
}

// Options configure device selection and buffering.
type Options struct {
	// LoopbackHint is the name fragment identifying the loopback input
	// ("Stereo Mix", "Monitor of", "BlackHole").
	LoopbackHint    string
	FramesPerBuffer int
}

const maxChannels = 2
