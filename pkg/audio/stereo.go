// Package audio holds PCM helpers for the relay.
package audio

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// StereoFrameSize is one interleaved left+right sample pair.
const StereoFrameSize = 2 * BytesPerSample

// LeftChannel extracts the left (caller) channel from interleaved 16-bit
// stereo PCM. A trailing partial pair keeps at most its first sample's bytes.
// The input is not modified.
func LeftChannel(stereo []byte) []byte {
	out := make([]byte, 0, (len(stereo)+1)/2)
	for i := 0; i < len(stereo); i += StereoFrameSize {
		end := i + BytesPerSample
		if end > len(stereo) {
			end = len(stereo)
		}
		out = append(out, stereo[i:end]...)
	}
	return out
}
