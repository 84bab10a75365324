package extractor

import (
	"fmt"

	"downpour/types"
)

// FormatSelection builds the extractor format expression for a request.
// Audio requests always take the best audio stream and leave container
// conversion to the postprocessing step; video requests constrain height
// by the quality tier and prefer the target container when available.
func FormatSelection(kind types.MediaKind, quality, container string) string {
	if kind == types.MediaAudio {
		if container == "mp3" {
			return "bestaudio/best"
		}
		return fmt.Sprintf("bestaudio[ext=%s]/bestaudio/best", container)
	}

	switch quality {
	case "highest":
		return fmt.Sprintf("bestvideo[ext=%s]+bestaudio/best[ext=%s]/best", container, container)
	case "medium":
		return fmt.Sprintf("bestvideo[height<=720][ext=%s]+bestaudio/best[height<=720][ext=%s]/best", container, container)
	default:
		return fmt.Sprintf("worstvideo[ext=%s]+worstaudio/worst[ext=%s]/worst", container, container)
	}
}
