package timeline

import (
	"math"
	"testing"
)

func media(id string, start, end float64) Clip {
	return Clip{ID: id, Type: TrackVideo, SourceID: "src-" + id, Start: start, End: end, Label: id}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLocate(t *testing.T) {
	clips := []Clip{media("a", 0, 5), media("b", 2, 6)}

	tests := []struct {
		name       string
		at         float64
		wantID     string
		wantOffset float64
		wantOK     bool
	}{
		{name: "start", at: 0, wantID: "a", wantOffset: 0, wantOK: true},
		{name: "inside first", at: 2.5, wantID: "a", wantOffset: 2.5, wantOK: true},
		{name: "boundary goes to earlier clip", at: 5, wantID: "a", wantOffset: 5, wantOK: true},
		{name: "inside second", at: 6, wantID: "b", wantOffset: 1, wantOK: true},
		{name: "end of track", at: 9, wantID: "b", wantOffset: 4, wantOK: true},
		{name: "within epsilon of end", at: 9.00005, wantID: "b", wantOffset: 4, wantOK: true},
		{name: "past end", at: 9.5, wantOK: false},
		{name: "negative", at: -1, wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			loc, ok := Locate(clips, tc.at)
			if ok != tc.wantOK {
				t.Fatalf("Locate(%v) ok = %v, want %v", tc.at, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if loc.Clip.ID != tc.wantID {
				t.Errorf("clip = %q, want %q", loc.Clip.ID, tc.wantID)
			}
			if !approx(loc.Offset, tc.wantOffset) {
				t.Errorf("offset = %v, want %v", loc.Offset, tc.wantOffset)
			}
		})
	}
}

func TestLocate_LocalTime(t *testing.T) {
	clips := []Clip{media("a", 0, 5), media("b", 2, 6)}
	loc, ok := Locate(clips, 6)
	if !ok {
		t.Fatal("expected a clip at 6s")
	}
	if !approx(loc.LocalTime(), 3) {
		t.Fatalf("LocalTime = %v, want 3", loc.LocalTime())
	}
}

func TestLocate_EmptyTrack(t *testing.T) {
	if _, ok := Locate(nil, 0); ok {
		t.Fatal("empty track should locate nothing")
	}
}

func TestDurations(t *testing.T) {
	ts := Tracks{
		Video: []Clip{media("a", 0, 5), media("b", 2, 6)},
		Audio: []Clip{{ID: "c", Type: TrackAudio, Start: 0, End: 12}},
		Text:  []Clip{{ID: "t", Type: TrackText, Start: 0, End: 3}},
	}

	if got := ts.TrackDuration(TrackVideo); !approx(got, 9) {
		t.Errorf("video duration = %v, want 9", got)
	}
	if got := ts.TotalDuration(); !approx(got, 12) {
		t.Errorf("total duration = %v, want 12", got)
	}
	if got := ts.CumulativeOffset(TrackVideo, 1); !approx(got, 5) {
		t.Errorf("offset of index 1 = %v, want 5", got)
	}
	if got := ts.CumulativeOffset(TrackVideo, 10); !approx(got, 9) {
		t.Errorf("offset past end = %v, want 9", got)
	}
	if got := ClipDuration(Clip{Start: 4, End: 2}); got != 0 {
		t.Errorf("inverted clip duration = %v, want 0", got)
	}
}

func TestInsertionIndex(t *testing.T) {
	clips := []Clip{media("a", 0, 5), media("b", 0, 5), media("c", 0, 5)}

	tests := []struct {
		name    string
		pointer float64
		want    int
	}{
		{name: "before second clip start", pointer: 3, want: 1},
		{name: "inside second clip", pointer: 7, want: 2},
		{name: "exactly on a boundary", pointer: 5, want: 2},
		{name: "past the end", pointer: 40, want: 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := InsertionIndex(clips, tc.pointer); got != tc.want {
				t.Fatalf("InsertionIndex(%v) = %d, want %d", tc.pointer, got, tc.want)
			}
		})
	}

	if got := InsertionIndex(nil, 3); got != 0 {
		t.Fatalf("InsertionIndex on empty track = %d, want 0", got)
	}
}

func TestClipAt_Priority(t *testing.T) {
	ts := Tracks{
		Audio: []Clip{{ID: "aud", Type: TrackAudio, Start: 0, End: 4}},
		Text:  []Clip{{ID: "txt", Type: TrackText, Start: 0, End: 10}},
	}
	kind, loc, ok := ts.ClipAt(2)
	if !ok || kind != TrackAudio || loc.Clip.ID != "aud" {
		t.Fatalf("ClipAt(2) = %v %q %v, want audio clip", kind, loc.Clip.ID, ok)
	}
	kind, loc, ok = ts.ClipAt(8)
	if !ok || kind != TrackText || loc.Clip.ID != "txt" {
		t.Fatalf("ClipAt(8) = %v %q %v, want text clip", kind, loc.Clip.ID, ok)
	}
}

func TestCumulativeOffset_PrefixSums(t *testing.T) {
	clips := []Clip{media("a", 0, 1.5), media("b", 2, 2.25), media("c", 0, 7), media("d", 3.5, 4), media("e", 0, 0.1)}

	if got := CumulativeOffset(clips, 0); got != 0 {
		t.Fatalf("CumulativeOffset(0) = %v, want 0", got)
	}
	for i := range clips {
		got := CumulativeOffset(clips, i+1)
		want := CumulativeOffset(clips, i) + ClipDuration(clips[i])
		if !approx(got, want) {
			t.Errorf("CumulativeOffset(%d) = %v, want %v", i+1, got, want)
		}
	}
	if got, want := CumulativeOffset(clips, len(clips)), TrackDuration(clips); !approx(got, want) {
		t.Errorf("offset past last clip = %v, want track duration %v", got, want)
	}
}

func TestTotalDuration_FollowsLongestTrack(t *testing.T) {
	tl := New()
	_ = tl.Insert(TrackVideo, media("v1", 0, 6), AppendIndex)
	_ = tl.Insert(TrackVideo, media("v2", 0, 4), AppendIndex)
	aud := media("a1", 0, 5)
	aud.Type = TrackAudio
	_ = tl.Insert(TrackAudio, aud, AppendIndex)
	_ = tl.Insert(TrackText, Clip{ID: "t1", Type: TrackText, Start: 0, End: 3, Text: "hi"}, AppendIndex)

	if got := tl.TotalDuration(); !approx(got, 10) {
		t.Fatalf("TotalDuration() = %v, want 10", got)
	}

	aud.End = 8
	if err := tl.Update(TrackAudio, aud); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := tl.TotalDuration(); !approx(got, 10) {
		t.Errorf("after lengthening audio to 8s: TotalDuration() = %v, want 10", got)
	}
	if _, err := tl.Remove(TrackText, "t1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := tl.TotalDuration(); !approx(got, 10) {
		t.Errorf("after removing text: TotalDuration() = %v, want 10", got)
	}

	aud.End = 12
	_ = tl.Update(TrackAudio, aud)
	if got := tl.TotalDuration(); !approx(got, 12) {
		t.Errorf("audio now longest: TotalDuration() = %v, want 12", got)
	}
}
