package rtc

import (
	"fmt"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/chadiek/covercall/internal/audio"
)

const (
	// OutputRate is the Opus clock rate of the reply track.
	OutputRate = 48000
	frameTime  = 20 * time.Millisecond
	maxPacket  = 4000
)

type sampleWriter interface {
	WriteSample(media.Sample) error
}

type encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// opusOutput encodes each paced playback block as one Opus frame on the
// outgoing track. Blocks are 20 ms at OutputRate.
type opusOutput struct {
	enc   encoder
	track sampleWriter
	buf   []byte
}

func newOpusOutput(track sampleWriter) (*opusOutput, error) {
	enc, err := opus.NewEncoder(OutputRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("rtc: opus encoder: %w", err)
	}
	return &opusOutput{enc: enc, track: track, buf: make([]byte, maxPacket)}, nil
}

func (o *opusOutput) WriteBlock(pcm []int16) error {
	n, err := o.enc.Encode(pcm, o.buf)
	if err != nil {
		return fmt.Errorf("rtc: opus encode: %w", err)
	}
	if n == 0 {
		return nil
	}
	pkt := make([]byte, n)
	copy(pkt, o.buf[:n])
	return o.track.WriteSample(media.Sample{Data: pkt, Duration: frameTime})
}

type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// inbound decodes caller Opus packets straight to the analysis rate.
type inbound struct {
	dec decoder
	pcm []int16
}

func newInbound() (*inbound, error) {
	dec, err := opus.NewDecoder(audio.AnalysisRate, 1)
	if err != nil {
		return nil, fmt.Errorf("rtc: opus decoder: %w", err)
	}
	// 120 ms is the longest Opus frame
	return &inbound{dec: dec, pcm: make([]int16, audio.SamplesFor(audio.AnalysisRate, 120*time.Millisecond))}, nil
}

// decode returns a fresh slice of samples for one packet.
func (in *inbound) decode(payload []byte) ([]int16, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	n, err := in.dec.Decode(payload, in.pcm)
	if err != nil {
		return nil, fmt.Errorf("rtc: opus decode: %w", err)
	}
	out := make([]int16, n)
	copy(out, in.pcm[:n])
	return out, nil
}
