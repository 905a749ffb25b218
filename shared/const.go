package shared

const (
	UserID       = "user_id"
	UserRole     = "user_role"
	UserEmail    = "user_email"
	RequestIdent = "request_identity"

	HeaderBrowserUUID = "X-Browser-UUID"
	HeaderExtensionID = "X-Extension-ID"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)
