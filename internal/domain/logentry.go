package domain

// Log entry kinds forwarded to the data log page
const (
	LogKindRecordChanged     = "RecordChanged"
	LogKindRecordDeleted     = "RecordDeleted"
	LogKindUnrecognizedPath  = "UnrecognizedPath"
	LogKindMessage           = "Message"
	LogKindCapabilityChanged = "CapabilityChanged"
	LogKindUnknown           = "Unknown"
)

// LogEntry is one human-readable line on the data log page
type LogEntry struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Page indices of the presentation pager
const (
	PageData      = 0
	PageAsset     = 1
	PageDiscovery = 2
)
