package connectors

const (
	TopicConnStatus     = "conn.status"
	TopicPort           = "hub.port"
	TopicTelemetry      = "hub.telemetry"
	TopicBattery        = "hub.battery"
	TopicButton         = "hub.button"
	TopicForce          = "hub.force"
	TopicOrientation    = "hub.orientation"
	TopicGesture        = "hub.gesture"
	TopicStorage        = "hub.storage"
	TopicProgram        = "hub.program"
	TopicHubName        = "hub.name"
	TopicPrint          = "hub.print"
	TopicError          = "hub.error"
	TopicUploadProgress = "upload.progress"
	TopicRawFrameIn     = "raw.frame.in"
	TopicRawFrameOut    = "raw.frame.out"
)
