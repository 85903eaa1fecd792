package logger

// Standard field keys for structured logging. Use these consistently so the
// output stays queryable once it lands in a log aggregator.
const (
	KeyRequestID = "request_id" // HTTP request id from the router middleware
	KeyClientIP  = "client_ip"  // client IP address (without port)
	KeyUsername  = "username"   // authenticated user

	KeyPath    = "path"     // virtual path of the target entry
	KeyOldPath = "old_path" // source path for move/copy
	KeyNewPath = "new_path" // destination path for move/copy
	KeyBackend = "backend"  // storage backend: local, s3
	KeyConfig  = "config_id" // S3 profile id

	KeyAction     = "action"      // audit/operation name
	KeyError      = "error"       // error message
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
)
