package metrics

// Event names recorded by pipeline components.
const (
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"

	EventASRAudioIn  = "asr_audio_in"
	EventASRFinal    = "asr_final"
	EventTrigger     = "trigger_detected"
	EventRecStart    = "recording_started"
	EventRecStop     = "recording_stopped"
	EventArchiveWAV  = "archive_wav"
	EventArchiveText = "archive_text"
	EventWeatherHit  = "weather_query"
	EventBroadcast   = "broadcast_out"
)
