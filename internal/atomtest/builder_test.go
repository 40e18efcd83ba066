package atomtest

import (
	"math"
	"testing"
)

func TestSoundEntryRejectsWideRate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("SoundEntry accepted 96000 Hz")
		}
	}()
	var b Builder
	b.SoundEntry("mp4a", 2, 16, 96000, nil)
}

func TestTrackHighSampleRate(t *testing.T) {
	var b Builder
	b.entry(Track{Handler: "soun", Channels: 2, SampleSize: 16, SampleRate: 96000})
	buf := b.Bytes()
	if v := be.Uint16(buf[16:18]); v != 2 {
		t.Fatalf("entry version = %d, want 2", v)
	}
	if rate := math.Float64frombits(be.Uint64(buf[40:48])); rate != 96000 {
		t.Errorf("entry sample rate = %v, want 96000", rate)
	}
}
