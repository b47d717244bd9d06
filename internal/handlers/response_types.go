package handlers

// Response wrapper types for Swagger documentation

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Something went wrong"`
	Details string `json:"details,omitempty" example:"Validation error details"`
}

// CancelResponse reports the outcome of a cancellation request
type CancelResponse struct {
	Cancelled bool   `json:"cancelled" example:"true"`
	Message   string `json:"message,omitempty" example:"cancellation recorded"`
}

// TokenResponse carries a freshly minted service token
type TokenResponse struct {
	Token     string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	ExpiresAt string `json:"expiresAt" example:"2023-01-02T12:00:00Z"`
}
