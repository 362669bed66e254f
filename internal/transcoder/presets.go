package transcoder

// Preset is a named bundle of encoding parameters handed to the engine.
type Preset struct {
	VideoBitrate string
	AudioBitrate string
	Resolution   string
	CRF          int
}

// DefaultQuality is the fallback label for unrecognized quality requests.
const DefaultQuality = "medium"

// qualityPresets is read-only after init.
var qualityPresets = map[string]Preset{
	"low":    {VideoBitrate: "500k", AudioBitrate: "128k", Resolution: "640x480", CRF: 28},
	"medium": {VideoBitrate: "1500k", AudioBitrate: "192k", Resolution: "1280x720", CRF: 23},
	"high":   {VideoBitrate: "3000k", AudioBitrate: "256k", Resolution: "1920x1080", CRF: 18},
}

// ResolvePreset looks up the preset for a quality label, falling back to
// the medium preset for unknown labels.
func ResolvePreset(quality string) Preset {
	if preset, ok := qualityPresets[quality]; ok {
		return preset
	}
	return qualityPresets[DefaultQuality]
}

// KnownQuality reports whether the label has a dedicated preset.
func KnownQuality(quality string) bool {
	_, ok := qualityPresets[quality]
	return ok
}
