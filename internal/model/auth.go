package model

// Token and session API error codes (used in HTTP responses)
const (
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	CodeSessionUnresolved    = "SESSION_UNRESOLVED"
	CodeUsernameTaken        = "USERNAME_USED"
	CodeEmailTaken           = "EMAIL_TAKEN"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeEmailNotConfirmed    = "EMAIL_NOT_CONFIRMED"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodePersistenceFailed    = "PERSISTENCE_FAILED"
)

// LoginResponse is returned after successful login
type LoginResponse struct {
	Profile      *Profile `json:"profile"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
}

// MeResponse is returned by GET /me
type MeResponse struct {
	Profile *Profile `json:"profile"`
}
