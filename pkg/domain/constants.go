package domain

// Well-known variable names.
const (
	// VarLastError holds the caught failure inside an error handler.
	VarLastError = "lastError"

	// KeyIdempotency is the field name of the deterministic key handed to
	// tasks. Every attempt of the same logical call carries the same key.
	KeyIdempotency = "idempotency_key"
)
