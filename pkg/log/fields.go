package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID = "user_id"
	FieldHandle = "handle"

	// Chat
	FieldRoom      = "room"
	FieldSessionID = "session_id"
	FieldMessageID = "message_id"
	FieldMembers   = "members"

	// Service
	FieldService    = "service"
	FieldInstanceID = "instance_id"
	FieldComponent  = "component"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
