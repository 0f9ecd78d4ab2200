package frames

// Well-known system frame names.
const (
	SysRecordingStarted = "recording_started"
	SysRecordingStopped = "recording_stopped"
	SysProcessing       = "processing"
	SysCity             = "city"
	SysMessage          = "ui_message"
	SysWeather          = "weather_report"
	SysError            = "error"
	SysHeartbeat        = "heartbeat"
	SysStreamEnd        = "stream_end"
)
