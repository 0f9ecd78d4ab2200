package frames

// Well-known metadata keys shared across the pipeline.
const (
	MetaStreamID    = "stream_id"
	MetaTraceID     = "trace_id"
	MetaSource      = "source"
	MetaIsFinal     = "is_final"
	MetaReason      = "reason"
	MetaUtteranceID = "utterance_id"
	MetaEncoding    = "encoding"
	MetaFormat      = "format"
	MetaCity        = "city"
	MetaTimePeriod  = "time_period"
	MetaEndReason   = "end_reason"
	MetaClientAddr  = "client_addr"
	MetaMessage     = "message"
	MetaPayload     = "payload"
)
