package log

const (
	// Session
	FieldChannelID = "channel_id"
	FieldUserID    = "user_id"
	FieldMessageID = "message_id"
	FieldAttempt   = "attempt"
	FieldState     = "state"

	// HTTP
	FieldMethod = "method"
	FieldPath   = "path"
	FieldStatus = "status"

	// Service
	FieldService = "service"
)
