package vad

import (
	"encoding/binary"
	"testing"
)

// Frames in these tests use FrameMs: 1 so byte-level durations are exact —
// with the default 30ms frame size, min/max segment boundaries don't divide
// evenly, making millisecond-exact assertions impossible without splitting
// a frame's PCM mid-sample.
func testConfig() Config {
	return Config{
		StreamID:       "stream-1",
		SampleRate:     16000,
		FrameMs:        1,
		Aggressiveness: 0,
		PrePadFrames:   1,
		PostPadFrames:  1,
		MinSegmentMs:   300,
		MaxSegmentMs:   20000,
	}
}

// speechFrame returns one frame of loud, low-frequency (low zero-crossing)
// PCM that clears the energy threshold and stays under the noise floor.
func speechFrame(cfg Config) []byte {
	n := cfg.SampleRate * cfg.FrameMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		var v int16 = 6000
		if (i/4)%2 == 1 {
			v = -6000
		}
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(v))
	}
	return buf
}

// silenceFrame returns one frame of all-zero PCM.
func silenceFrame(cfg Config) []byte {
	n := cfg.SampleRate * cfg.FrameMs / 1000
	return make([]byte, n*2)
}

func TestEnergySession_ShortBurstBelowMinSegmentIsDropped(t *testing.T) {
	cfg := testConfig()
	eng := EnergyEngine{}
	sess, err := eng.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	sf := speechFrame(cfg)
	for i := 0; i < 299; i++ {
		if _, err := sess.ProcessFrame(sf); err != nil {
			t.Fatalf("ProcessFrame(speech): %v", err)
		}
	}

	silence := silenceFrame(cfg)
	em, err := sess.ProcessFrame(silence)
	if err != nil {
		t.Fatalf("ProcessFrame(silence): %v", err)
	}
	if em.Segment != nil {
		t.Fatalf("299ms burst should not be emitted, got segment of %dms", em.Segment.EndMs-em.Segment.StartMs)
	}
}

func TestEnergySession_MinSegmentBoundaryIsEmitted(t *testing.T) {
	cfg := testConfig()
	eng := EnergyEngine{}
	sess, err := eng.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	sf := speechFrame(cfg)
	for i := 0; i < 300; i++ {
		if _, err := sess.ProcessFrame(sf); err != nil {
			t.Fatalf("ProcessFrame(speech): %v", err)
		}
	}

	em, err := sess.ProcessFrame(silenceFrame(cfg))
	if err != nil {
		t.Fatalf("ProcessFrame(silence): %v", err)
	}
	if em.Segment == nil {
		t.Fatal("300ms burst should be emitted")
	}
	if got := em.Segment.EndMs - em.Segment.StartMs; got != 300 {
		t.Fatalf("segment duration = %dms, want 300ms", got)
	}
}

func TestEnergySession_LongBlockSplitsAtMaxSegmentWithNoGap(t *testing.T) {
	cfg := testConfig()
	eng := EnergyEngine{}
	sess, err := eng.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	sf := speechFrame(cfg)
	var segments []struct{ start, end int64 }
	for i := 0; i < 20001; i++ {
		em, err := sess.ProcessFrame(sf)
		if err != nil {
			t.Fatalf("ProcessFrame(speech) at frame %d: %v", i, err)
		}
		if em.Segment != nil {
			segments = append(segments, struct{ start, end int64 }{em.Segment.StartMs, em.Segment.EndMs})
		}
	}
	em, err := sess.ProcessFrame(silenceFrame(cfg))
	if err != nil {
		t.Fatalf("ProcessFrame(silence): %v", err)
	}
	if em.Segment != nil {
		segments = append(segments, struct{ start, end int64 }{em.Segment.StartMs, em.Segment.EndMs})
	}

	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(segments), segments)
	}
	if segments[0].start != 0 || segments[0].end != 20000 {
		t.Fatalf("first segment = [%d,%d), want [0,20000)", segments[0].start, segments[0].end)
	}
	if segments[1].start != 20000 || segments[1].end != 20001 {
		t.Fatalf("second segment = [%d,%d), want [20000,20001)", segments[1].start, segments[1].end)
	}
	total := (segments[0].end - segments[0].start) + (segments[1].end - segments[1].start)
	if total != 20001 {
		t.Fatalf("total duration = %dms, want 20001ms", total)
	}
	if segments[0].end != segments[1].start {
		t.Fatalf("gap between segments: first ends at %d, second starts at %d", segments[0].end, segments[1].start)
	}
}

func TestEnergySession_PrecedingSilenceTracked(t *testing.T) {
	cfg := testConfig()
	cfg.PrePadFrames = 5
	eng := EnergyEngine{}
	sess, err := eng.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	silence := silenceFrame(cfg)
	for i := 0; i < 500; i++ {
		sess.ProcessFrame(silence)
	}

	sf := speechFrame(cfg)
	var seg *struct{ silence int64 }
	for i := 0; i < 400; i++ {
		em, err := sess.ProcessFrame(sf)
		if err != nil {
			t.Fatalf("ProcessFrame(speech): %v", err)
		}
		if em.Segment != nil {
			seg = &struct{ silence int64 }{em.Segment.PrecedingSilenceMs}
			break
		}
	}
	em, err := sess.ProcessFrame(silence)
	if err != nil {
		t.Fatalf("ProcessFrame(silence): %v", err)
	}
	if em.Segment == nil && seg == nil {
		t.Fatal("expected a segment to close")
	}
	if seg == nil {
		seg = &struct{ silence int64 }{em.Segment.PrecedingSilenceMs}
	}
	if seg.silence != 500 {
		t.Fatalf("PrecedingSilenceMs = %d, want 500", seg.silence)
	}
}

func TestEnergySession_Reset(t *testing.T) {
	cfg := testConfig()
	eng := EnergyEngine{}
	sess, err := eng.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	sf := speechFrame(cfg)
	for i := 0; i < 50; i++ {
		sess.ProcessFrame(sf)
	}
	sess.Reset()

	for i := 0; i < 300; i++ {
		if _, err := sess.ProcessFrame(sf); err != nil {
			t.Fatalf("ProcessFrame after Reset: %v", err)
		}
	}
	em, err := sess.ProcessFrame(silenceFrame(cfg))
	if err != nil {
		t.Fatalf("ProcessFrame(silence): %v", err)
	}
	if em.Segment == nil {
		t.Fatal("expected segment after reset + fresh 300ms burst")
	}
	if em.Segment.StartMs != 0 {
		t.Fatalf("StartMs = %d, want 0 (clock reset)", em.Segment.StartMs)
	}
}

func TestEnergySession_CloseIsIdempotentAndRejectsFurtherFrames(t *testing.T) {
	cfg := testConfig()
	eng := EnergyEngine{}
	sess, err := eng.NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(speechFrame(cfg)); err == nil {
		t.Fatal("expected error processing a frame on a closed session")
	}
}
