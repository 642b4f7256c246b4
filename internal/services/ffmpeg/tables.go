package ffmpeg

import (
	"fmt"
	"sort"
	"strings"

	"capstan/internal/services"
)

// Encoder preset names accepted at submission time.
const (
	PresetDefault     = "default"
	PresetLossless    = "lossless"
	PresetMinLoss     = "min_loss"
	PresetMaxCompress = "max_compress"
)

// encoderArgs maps codec -> preset -> fixed video argument template. The
// tables are deliberately static; there is no runtime quality negotiation.
var encoderArgs = map[string]map[string][]string{
	"h264": {
		PresetLossless:    {"-c:v", "libx264", "-preset", "ultrafast", "-crf", "0"},
		PresetMinLoss:     {"-c:v", "libx264", "-preset", "slow", "-crf", "17"},
		PresetMaxCompress: {"-c:v", "libx264", "-preset", "veryslow", "-crf", "28"},
		PresetDefault:     {"-c:v", "libx264", "-preset", "medium", "-crf", "23"},
	},
	"h264_nvenc": {
		PresetLossless:    {"-c:v", "h264_nvenc", "-preset", "p7", "-rc", "constqp", "-qp", "0"},
		PresetMinLoss:     {"-c:v", "h264_nvenc", "-preset", "p6", "-rc", "vbr_hq", "-cq", "19"},
		PresetMaxCompress: {"-c:v", "h264_nvenc", "-preset", "p7", "-rc", "vbr_hq", "-cq", "30"},
		PresetDefault:     {"-c:v", "h264_nvenc", "-preset", "p4", "-b:v", "5M"},
	},
	"hevc": {
		PresetLossless:    {"-c:v", "libx265", "-x265-params", "lossless=1"},
		PresetMinLoss:     {"-c:v", "libx265", "-preset", "slow", "-crf", "20"},
		PresetMaxCompress: {"-c:v", "libx265", "-preset", "veryslow", "-crf", "30"},
		PresetDefault:     {"-c:v", "libx265", "-preset", "medium", "-crf", "26"},
	},
	"vp9": {
		PresetLossless:    {"-c:v", "libvpx-vp9", "-lossless", "1"},
		PresetMinLoss:     {"-c:v", "libvpx-vp9", "-crf", "15", "-b:v", "0"},
		PresetMaxCompress: {"-c:v", "libvpx-vp9", "-crf", "40", "-b:v", "0"},
		PresetDefault:     {"-c:v", "libvpx-vp9", "-crf", "30", "-b:v", "0"},
	},
}

// CodecArgs returns the fixed video argument template for a codec/preset
// pair. An empty preset selects the codec's default profile. Unknown pairs
// report a validation error so submissions are rejected before any worker
// starts.
func CodecArgs(codec, preset string) ([]string, error) {
	codec = strings.ToLower(strings.TrimSpace(codec))
	preset = strings.ToLower(strings.TrimSpace(preset))
	if preset == "" {
		preset = PresetDefault
	}

	presets, ok := encoderArgs[codec]
	if !ok {
		message := fmt.Sprintf("unknown codec %q (supported: %s)", codec, strings.Join(Codecs(), ", "))
		return nil, services.Wrap(services.ErrValidation, "", "select encoder", message, nil)
	}
	args, ok := presets[preset]
	if !ok {
		message := fmt.Sprintf("unknown preset %q for codec %q (supported: %s)", preset, codec, strings.Join(Presets(), ", "))
		return nil, services.Wrap(services.ErrValidation, "", "select encoder", message, nil)
	}

	out := make([]string, len(args))
	copy(out, args)
	return out, nil
}

// ValidateEncoding checks a codec/preset pair without materializing the
// argument list.
func ValidateEncoding(codec, preset string) error {
	_, err := CodecArgs(codec, preset)
	return err
}

// Codecs lists the supported codec names in sorted order.
func Codecs() []string {
	names := make([]string, 0, len(encoderArgs))
	for name := range encoderArgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets lists the supported preset names.
func Presets() []string {
	return []string{PresetDefault, PresetLossless, PresetMinLoss, PresetMaxCompress}
}
