package timeline

// Epsilon absorbs float drift at clip boundaries when locating.
const Epsilon = 0.0001

// Location is the result of mapping a global time onto a track.
type Location struct {
	Clip  Clip
	Index int
	// Offset is the time elapsed since the clip's timeline start.
	Offset float64
}

// LocalTime is the source time to present: clip start plus offset.
func (l Location) LocalTime() float64 {
	return l.Clip.Start + l.Offset
}

// ClipDuration returns max(0, end-start).
func ClipDuration(c Clip) float64 {
	return c.Duration()
}

// TrackDuration sums clip durations.
func TrackDuration(clips []Clip) float64 {
	var total float64
	for _, c := range clips {
		total += c.Duration()
	}
	return total
}

// CumulativeOffset returns the timeline start of clips[index], i.e. the sum of
// durations before it. Index is clamped into [0, len(clips)].
func CumulativeOffset(clips []Clip, index int) float64 {
	if index > len(clips) {
		index = len(clips)
	}
	var total float64
	for i := 0; i < index; i++ {
		total += clips[i].Duration()
	}
	return total
}

// Locate finds the clip covering global time t. At a boundary shared by two
// clips the earlier clip wins. Times past the track's end, or negative, have
// no clip.
func Locate(clips []Clip, t float64) (Location, bool) {
	if t < 0 {
		return Location{}, false
	}
	var elapsed float64
	for i, c := range clips {
		d := c.Duration()
		next := elapsed + d
		if t <= next+Epsilon {
			offset := t - elapsed
			if offset < 0 {
				offset = 0
			}
			if offset > d {
				offset = d
			}
			return Location{Clip: c, Index: i, Offset: offset}, true
		}
		elapsed = next
	}
	return Location{}, false
}

// InsertionIndex maps a pointer time to the index a dropped clip should take:
// the first clip whose start lies after the pointer, or the end of the track.
func InsertionIndex(clips []Clip, pointerTime float64) int {
	var elapsed float64
	for i, c := range clips {
		if elapsed > pointerTime {
			return i
		}
		elapsed += c.Duration()
	}
	return len(clips)
}

// TrackDuration of one track in the snapshot.
func (ts Tracks) TrackDuration(kind TrackKind) float64 {
	return TrackDuration(ts.Track(kind))
}

// TotalDuration is the longest of the three tracks.
func (ts Tracks) TotalDuration() float64 {
	total := TrackDuration(ts.Video)
	if d := TrackDuration(ts.Audio); d > total {
		total = d
	}
	if d := TrackDuration(ts.Text); d > total {
		total = d
	}
	return total
}

// Locate maps t onto one track of the snapshot.
func (ts Tracks) Locate(kind TrackKind, t float64) (Location, bool) {
	return Locate(ts.Track(kind), t)
}

// CumulativeOffset of the clip at index on one track.
func (ts Tracks) CumulativeOffset(kind TrackKind, index int) float64 {
	return CumulativeOffset(ts.Track(kind), index)
}

// ClipAt returns the first located clip in video, audio, text order.
func (ts Tracks) ClipAt(t float64) (TrackKind, Location, bool) {
	for _, kind := range TrackKinds {
		if loc, ok := ts.Locate(kind, t); ok {
			return kind, loc, true
		}
	}
	return "", Location{}, false
}
