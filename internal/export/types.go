package export

// DecisionEntry is one placed clip in the render payload. Field names follow
// the render service's JSON contract.
type DecisionEntry struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"sourceId,omitempty"`
	Label      string  `json:"label"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	TimelineIn float64 `json:"timelineIn"`
	Layer      int     `json:"layer"`
	Font       string  `json:"font,omitempty"`
	Color      string  `json:"color,omitempty"`
	Text       string  `json:"text,omitempty"`
}

// Duration of the entry in seconds.
func (e DecisionEntry) Duration() float64 {
	if e.End <= e.Start {
		return 0
	}
	return e.End - e.Start
}

// DecisionTimeline groups entries by track.
type DecisionTimeline struct {
	Video []DecisionEntry `json:"video"`
	Audio []DecisionEntry `json:"audio"`
	Text  []DecisionEntry `json:"text"`
}

// Metadata accompanies an exported decision list.
type Metadata struct {
	CreatedAt string `json:"createdAt"`
	Note      string `json:"note"`
}

// DecisionList is the edit decision list handed to the renderer.
type DecisionList struct {
	Timeline DecisionTimeline `json:"timeline"`
	Metadata Metadata         `json:"metadata"`
}

// EDLRequest asks for a CMX3600 file of the current timeline.
type EDLRequest struct {
	ProjectName string  `json:"project_name" validate:"required,max=200"`
	FrameRate   float64 `json:"frame_rate" validate:"omitempty,gt=0,lte=120"`
	OutputDir   string  `json:"output_dir" validate:"required"`
}

// ResolvedClip is a media entry whose source has been mapped to a file.
type ResolvedClip struct {
	ClipName  string
	MediaPath string
	// Channel is "V" or "A".
	Channel   string
	SourceIn  float64
	SourceOut float64
	RecordIn  float64
}

type ExportResponse struct {
	Status          string   `json:"status"`
	Format          string   `json:"format"`
	OutputPath      string   `json:"output_path"`
	ClipCount       int      `json:"clip_count"`
	UnresolvedClips []string `json:"unresolved_clips"`
}
