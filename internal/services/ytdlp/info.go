package ytdlp

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Info is the metadata document the fetch tool emits for a single video.
type Info struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Duration float64  `json:"duration"`
	Formats  []Format `json:"formats"`
}

// Format is one downloadable encoding of the probed video.
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Height     int     `json:"height"`
	Width      int     `json:"width"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	FormatNote string  `json:"format_note"`
	FPS        float64 `json:"fps"`
	TBR        float64 `json:"tbr"`
}

// ParseInfo decodes a metadata JSON document.
func ParseInfo(data []byte) (*Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode video metadata: %w", err)
	}
	return &info, nil
}

// DisplayTitle returns the probed title, falling back to a stable
// id-derived name when the source omitted one.
func (i *Info) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	if i.ID != "" {
		return "video_" + i.ID
	}
	return "video_unknown"
}

// Resolution renders the format height as the conventional "1080p" label.
func (f Format) Resolution() string {
	return fmt.Sprintf("%dp", f.Height)
}

// CompatibleFormats filters to video formats (a height and a codec other
// than "none"), keeps the first format seen per resolution, and sorts the
// result strictly descending by height.
func (i *Info) CompatibleFormats() []Format {
	seen := make(map[string]struct{})
	var compatible []Format
	for _, f := range i.Formats {
		if f.Height <= 0 || f.VCodec == "none" {
			continue
		}
		key := f.Resolution()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		compatible = append(compatible, f)
	}
	sort.SliceStable(compatible, func(a, b int) bool {
		return compatible[a].Height > compatible[b].Height
	})
	return compatible
}
