package compositor

import (
	"fmt"
	"strings"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/timeline"
)

// formatSRT renders resolved subtitle cues as SubRip text for burn-in.
func formatSRT(cues []timeline.SubtitleCue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(cue.StartMs), srtTimestamp(cue.EndMs), cue.Text)
	}
	return b.String()
}

func srtTimestamp(ms int64) string {
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// assStyle builds the force_style argument for the ffmpeg subtitles filter.
func assStyle(style config.SubtitleStyle) string {
	parts := []string{
		"FontName=" + style.FontFamily,
		fmt.Sprintf("FontSize=%d", style.FontSize),
		"PrimaryColour=" + assColor(style.FontColor),
		"OutlineColour=" + assColor(style.OutlineColor),
		fmt.Sprintf("Outline=%.1f", style.OutlineWidth),
		"Alignment=2",
		fmt.Sprintf("MarginV=%d", style.MarginBottom),
	}
	return strings.Join(parts, ",")
}

// assColor converts #RRGGBB to the libass &H00BBGGRR& form.
func assColor(hex string) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return "&H00FFFFFF&"
	}
	r, g, b := hex[0:2], hex[2:4], hex[4:6]
	return "&H00" + strings.ToUpper(b+g+r) + "&"
}
