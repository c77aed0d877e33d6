package core

// Setting names shared between the engine and the configuration store.
const (
	SettingEgressBitrate  = "egress_bitrate"
	SettingIngressBitrate = "ingress_bitrate"
	SettingVideoWidth     = "video_width"
	SettingVideoHeight    = "video_height"
	SettingVideoFPS       = "video_fps"
	SettingAudioDevice    = "audio_device"
	SettingVideoDevice    = "video_device"
	SettingVideoMuted     = "video_muted"
	SettingAudioMuted     = "audio_muted"
	SettingDebugStats     = "debug_stats"
)

// Settings is a named-value store with read-modify-write, last-writer-wins
// semantics. No transactions, no change notifications.
type Settings interface {
	Int(key string) int
	String(key string) string
	Bool(key string) bool
	Set(key string, value any) error
}
