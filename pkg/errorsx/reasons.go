package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonASRModel       ReasonCode = "asr_model"
	ReasonASRConnect     ReasonCode = "asr_connect"
	ReasonASRSend        ReasonCode = "asr_send"
	ReasonASRRetry       ReasonCode = "asr_retry"
	ReasonASRCircuitOpen ReasonCode = "asr_circuit_open"

	ReasonWAVDecode ReasonCode = "wav_decode"
	ReasonWAVEncode ReasonCode = "wav_encode"

	ReasonCaptureDevice ReasonCode = "capture_device"

	ReasonWeatherFetch  ReasonCode = "weather_fetch"
	ReasonWeatherStatus ReasonCode = "weather_status"

	ReasonTransportSend ReasonCode = "transport_send"
	ReasonArchiveWrite  ReasonCode = "archive_write"
)
