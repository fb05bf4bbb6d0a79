package export

import (
	"fmt"
	"math"
	"strings"
)

// GenerateEDL writes a CMX3600 edit decision list. Media clips become events
// on their channel; text overlays are carried as comments.
func GenerateEDL(clips []ResolvedClip, overlays []DecisionEntry, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, clip := range clips {
		channel := clip.Channel
		if channel == "" {
			channel = "V"
		}
		srcIn := secondsToTimecode(clip.SourceIn, fps)
		srcOut := secondsToTimecode(clip.SourceOut, fps)
		recIn := secondsToTimecode(clip.RecordIn, fps)
		recOut := secondsToTimecode(clip.RecordIn+(clip.SourceOut-clip.SourceIn), fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", channel, srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)
	}

	if len(overlays) > 0 {
		lines = append(lines, "")
		for _, o := range overlays {
			recIn := secondsToTimecode(o.TimelineIn, fps)
			recOut := secondsToTimecode(o.TimelineIn+o.Duration(), fps)
			lines = append(lines, fmt.Sprintf("* TEXT OVERLAY %s %s LAYER %d:  %s", recIn, recOut, o.Layer, o.Label))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func secondsToTimecode(seconds float64, fps int) string {
	if seconds < 0 {
		seconds = 0
	}
	totalFrames := int(math.Round(seconds * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, secs, frames)
}
