package export

import (
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/timeline"
)

// RenderNote is stamped on every exported decision list.
const RenderNote = "Server render via ffmpeg."

// BuildDecisionList snapshots the tracks into the render payload. Each entry
// carries its derived timeline-in position.
func BuildDecisionList(ts timeline.Tracks, now time.Time) DecisionList {
	return DecisionList{
		Timeline: DecisionTimeline{
			Video: mediaEntries(ts.Video),
			Audio: mediaEntries(ts.Audio),
			Text:  textEntries(ts.Text),
		},
		Metadata: Metadata{
			CreatedAt: now.UTC().Format(time.RFC3339Nano),
			Note:      RenderNote,
		},
	}
}

func mediaEntries(clips []timeline.Clip) []DecisionEntry {
	out := make([]DecisionEntry, 0, len(clips))
	var in float64
	for _, c := range clips {
		out = append(out, DecisionEntry{
			ID:         c.ID,
			SourceID:   c.SourceID,
			Label:      c.Label,
			Start:      c.Start,
			End:        c.End,
			TimelineIn: in,
			Layer:      c.Layer,
		})
		in += c.Duration()
	}
	return out
}

func textEntries(clips []timeline.Clip) []DecisionEntry {
	out := make([]DecisionEntry, 0, len(clips))
	var in float64
	for _, c := range clips {
		label := c.Text
		if label == "" {
			label = c.Label
		}
		out = append(out, DecisionEntry{
			ID:         c.ID,
			Label:      label,
			Start:      c.Start,
			End:        c.End,
			TimelineIn: in,
			Layer:      c.Layer,
			Font:       c.Font,
			Color:      c.Color,
			Text:       c.Text,
		})
		in += c.Duration()
	}
	return out
}

// UsedSourceIDs lists the distinct sources referenced by media entries, in
// first-use order.
func (dl DecisionList) UsedSourceIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, group := range [][]DecisionEntry{dl.Timeline.Video, dl.Timeline.Audio} {
		for _, e := range group {
			if e.SourceID == "" || seen[e.SourceID] {
				continue
			}
			seen[e.SourceID] = true
			ids = append(ids, e.SourceID)
		}
	}
	return ids
}

// ClipCount is the number of entries across all tracks.
func (dl DecisionList) ClipCount() int {
	return len(dl.Timeline.Video) + len(dl.Timeline.Audio) + len(dl.Timeline.Text)
}

// SourceInfo is what the EDL needs to know about a source.
type SourceInfo struct {
	Name string
	Path string
}

// ResolveClips maps media entries to sources for EDL output. Entries whose
// source cannot be found are reported by ID.
func ResolveClips(dl DecisionList, lookup func(sourceID string) (SourceInfo, bool)) ([]ResolvedClip, []string) {
	var resolved []ResolvedClip
	var unresolved []string
	add := func(entries []DecisionEntry, channel string) {
		for _, e := range entries {
			info, ok := lookup(e.SourceID)
			if !ok {
				unresolved = append(unresolved, e.ID)
				continue
			}
			resolved = append(resolved, ResolvedClip{
				ClipName:  e.Label,
				MediaPath: info.Path,
				Channel:   channel,
				SourceIn:  e.Start,
				SourceOut: e.End,
				RecordIn:  e.TimelineIn,
			})
		}
	}
	add(dl.Timeline.Video, "V")
	add(dl.Timeline.Audio, "A")
	return resolved, unresolved
}
