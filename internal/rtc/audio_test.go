package rtc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v3/pkg/media"
)

type fakeTrack struct {
	samples []media.Sample
	err     error
}

func (f *fakeTrack) WriteSample(s media.Sample) error {
	f.samples = append(f.samples, s)
	return f.err
}

// stubCodec reports a fixed packet size and echoes sample counts.
type stubCodec struct {
	n   int
	err error
}

func (s stubCodec) Encode(pcm []int16, data []byte) (int, error) {
	for i := 0; i < s.n; i++ {
		data[i] = byte(i)
	}
	return s.n, s.err
}

func (s stubCodec) Decode(data []byte, pcm []int16) (int, error) {
	for i := 0; i < s.n; i++ {
		pcm[i] = int16(i + 1)
	}
	return s.n, s.err
}

func TestOpusOutput_WritesOneSamplePerBlock(t *testing.T) {
	ft := &fakeTrack{}
	o := &opusOutput{enc: stubCodec{n: 3}, track: ft, buf: make([]byte, maxPacket)}
	for i := 0; i < 2; i++ {
		if err := o.WriteBlock(make([]int16, 960)); err != nil {
			t.Fatalf("WriteBlock: %v", err)
		}
	}
	if len(ft.samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(ft.samples))
	}
	if ft.samples[0].Duration != frameTime || len(ft.samples[0].Data) != 3 {
		t.Fatalf("unexpected sample %+v", ft.samples[0])
	}
	ft.samples[0].Data[0] = 99
	if ft.samples[1].Data[0] == 99 {
		t.Fatalf("packets must not share the encode buffer")
	}
}

func TestOpusOutput_Errors(t *testing.T) {
	boom := errors.New("boom")
	o := &opusOutput{enc: stubCodec{err: boom}, track: &fakeTrack{}, buf: make([]byte, maxPacket)}
	if err := o.WriteBlock(make([]int16, 960)); !errors.Is(err, boom) {
		t.Fatalf("expected encode error, got %v", err)
	}
	ft := &fakeTrack{err: boom}
	o = &opusOutput{enc: stubCodec{n: 2}, track: ft, buf: make([]byte, maxPacket)}
	if err := o.WriteBlock(make([]int16, 960)); !errors.Is(err, boom) {
		t.Fatalf("expected track error, got %v", err)
	}
	o = &opusOutput{enc: stubCodec{n: 0}, track: ft, buf: make([]byte, maxPacket)}
	ft.samples = nil
	if err := o.WriteBlock(make([]int16, 960)); err != nil || len(ft.samples) != 0 {
		t.Fatalf("empty packet should be skipped: err=%v samples=%d", err, len(ft.samples))
	}
}

func TestInbound_Decode(t *testing.T) {
	in := &inbound{dec: stubCodec{n: 320}, pcm: make([]int16, 1920)}
	pcm, err := in.decode([]byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 320 || pcm[0] != 1 {
		t.Fatalf("decoded %d samples, first %d", len(pcm), pcm[0])
	}
	in.pcm[0] = 42
	if pcm[0] == 42 {
		t.Fatalf("decode must copy out of the scratch buffer")
	}
	if pcm, _ := in.decode(nil); pcm != nil {
		t.Fatalf("empty payload should decode to nil")
	}
}
