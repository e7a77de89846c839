package log

const (
	// HTTP
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"

	// Chat
	FieldRoomID      = "room_id"
	FieldUser        = "user"
	FieldState       = "state"
	FieldEndpoint    = "endpoint"
	FieldDestination = "destination"
	FieldGeneration  = "generation"

	// Component
	FieldComponent = "component"
)
