package timeline

// AppendIndex asks Insert and Move to place the clip at the end of the track.
const AppendIndex = -1

// Timeline is the mutable three-track clip store. It is not safe for
// concurrent use; the owning session serializes access.
type Timeline struct {
	tracks Tracks
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{}
}

// Snapshot returns a deep copy of all tracks.
func (t *Timeline) Snapshot() Tracks {
	return t.tracks.Clone()
}

// Clips returns a copy of one track.
func (t *Timeline) Clips(kind TrackKind) []Clip {
	return cloneClips(t.tracks.Track(kind))
}

// Len returns the number of clips on a track.
func (t *Timeline) Len(kind TrackKind) int {
	return len(t.tracks.Track(kind))
}

// TotalDuration is the longest track duration.
func (t *Timeline) TotalDuration() float64 {
	return t.tracks.TotalDuration()
}

// TrackDuration of a single track.
func (t *Timeline) TrackDuration(kind TrackKind) float64 {
	return t.tracks.TrackDuration(kind)
}

// Locate maps global time onto a track.
func (t *Timeline) Locate(kind TrackKind, at float64) (Location, bool) {
	return t.tracks.Locate(kind, at)
}

// Find returns a clip and its index on the given track.
func (t *Timeline) Find(kind TrackKind, id string) (Clip, int, bool) {
	for i, c := range t.tracks.Track(kind) {
		if c.ID == id {
			return c, i, true
		}
	}
	return Clip{}, -1, false
}

// FindAny searches every track for a clip ID.
func (t *Timeline) FindAny(id string) (TrackKind, Clip, int, bool) {
	for _, kind := range TrackKinds {
		if c, i, ok := t.Find(kind, id); ok {
			return kind, c, i, true
		}
	}
	return "", Clip{}, -1, false
}

// Insert places clip on track at index, or appends when index is negative.
// Indexes past the end append.
func (t *Timeline) Insert(kind TrackKind, clip Clip, index int) error {
	const op = "insert"
	if err := checkPlacement(op, kind, clip.Type); err != nil {
		return err
	}
	if err := validateClip(op, clip); err != nil {
		return err
	}
	if _, _, _, exists := t.FindAny(clip.ID); exists {
		return invalidOp(op, "clip "+clip.ID+" is already placed")
	}
	t.tracks.set(kind, insertAt(t.tracks.Track(kind), clip, index))
	return nil
}

// Remove deletes a clip from a track. Later clips shift earlier.
func (t *Timeline) Remove(kind TrackKind, id string) (Clip, error) {
	clip, idx, ok := t.Find(kind, id)
	if !ok {
		return Clip{}, notFound("remove", id)
	}
	t.tracks.set(kind, removeAt(t.tracks.Track(kind), idx))
	return clip, nil
}

// ReplaceRange swaps one clip for an ordered list of clips at the same index.
func (t *Timeline) ReplaceRange(kind TrackKind, id string, replacements ...Clip) error {
	const op = "replace"
	_, idx, ok := t.Find(kind, id)
	if !ok {
		return notFound(op, id)
	}
	for _, c := range replacements {
		if err := checkPlacement(op, kind, c.Type); err != nil {
			return err
		}
		if err := validateClip(op, c); err != nil {
			return err
		}
		if c.ID == id {
			continue
		}
		if _, _, _, exists := t.FindAny(c.ID); exists {
			return invalidOp(op, "clip "+c.ID+" is already placed")
		}
	}
	clips := t.tracks.Track(kind)
	out := make([]Clip, 0, len(clips)-1+len(replacements))
	out = append(out, clips[:idx]...)
	out = append(out, replacements...)
	out = append(out, clips[idx+1:]...)
	t.tracks.set(kind, out)
	return nil
}

// Move relocates a clip, possibly across tracks. The index is interpreted
// against the destination after the clip has been taken out. Policy is
// checked before anything changes. A media clip moving between video and
// audio takes the destination as its type.
func (t *Timeline) Move(id string, from, to TrackKind, index int) (Clip, error) {
	const op = "move"
	clip, idx, ok := t.Find(from, id)
	if !ok {
		return Clip{}, notFound(op, id)
	}
	moved := clip
	if to.IsMedia() && clip.Type.IsMedia() {
		moved.Type = to
	}
	if err := checkPlacement(op, to, moved.Type); err != nil {
		return Clip{}, err
	}
	t.tracks.set(from, removeAt(t.tracks.Track(from), idx))
	t.tracks.set(to, insertAt(t.tracks.Track(to), moved, index))
	return moved, nil
}

// Update rewrites a placed clip in place; ID and type must not change.
func (t *Timeline) Update(kind TrackKind, clip Clip) error {
	const op = "update"
	old, idx, ok := t.Find(kind, clip.ID)
	if !ok {
		return notFound(op, clip.ID)
	}
	if old.Type != clip.Type {
		return invalidOp(op, "clip type cannot change in place")
	}
	if err := validateClip(op, clip); err != nil {
		return err
	}
	t.tracks.Track(kind)[idx] = clip
	return nil
}

// Reset empties every track.
func (t *Timeline) Reset() {
	t.tracks = Tracks{}
}

func checkPlacement(op string, track, clipType TrackKind) error {
	if !track.Valid() {
		return invalidOp(op, "unknown track "+string(track))
	}
	switch {
	case clipType == TrackText && track != TrackText:
		return policyError(op, "Text clips stay on the text track.")
	case clipType != TrackText && track == TrackText:
		return policyError(op, "Use the text controls to add overlays.")
	}
	return nil
}

func validateClip(op string, c Clip) error {
	if c.ID == "" {
		return invalidOp(op, "clip id is required")
	}
	if !c.Type.Valid() {
		return invalidOp(op, "unknown clip type "+string(c.Type))
	}
	if c.Start < 0 || c.End <= c.Start {
		return invalidOp(op, "clip must satisfy 0 <= start < end")
	}
	return nil
}

func insertAt(clips []Clip, clip Clip, index int) []Clip {
	if index < 0 || index > len(clips) {
		index = len(clips)
	}
	out := make([]Clip, 0, len(clips)+1)
	out = append(out, clips[:index]...)
	out = append(out, clip)
	out = append(out, clips[index:]...)
	return out
}

func removeAt(clips []Clip, index int) []Clip {
	out := make([]Clip, 0, len(clips)-1)
	out = append(out, clips[:index]...)
	return append(out, clips[index+1:]...)
}
