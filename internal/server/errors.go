package server

import "github.com/gin-gonic/gin"

const (
	errorCodeUnauthorized      = "unauthorized"
	errorCodeInvalidRequest    = "invalid_request"
	errorCodeInvalidAction     = "invalid_action"
	errorCodeInvalidGrade      = "invalid_grade"
	errorCodeInvalidLanguage   = "invalid_language"
	errorCodeProfileNotFound   = "profile_not_found"
	errorCodeConfiguration     = "configuration_error"
	errorCodeMissingHeaders    = "missing_headers"
	errorCodeInvalidSignature  = "invalid_signature"
	errorCodeInvalidPayload    = "invalid_payload"
	errorCodeMissingContact    = "missing_primary_contact"
	errorCodeMissingExternalID = "missing_external_id"
	errorCodeSyncFailed        = "sync_failed"
	errorCodeAwardFailed       = "award_failed"
	errorCodeOnboardingFailed  = "onboarding_failed"
	errorCodeProfileLoadFailed = "profile_load_failed"
	errorCodeRateLimited       = "rate_limited"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondWithError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, errorResponse{Error: code, Message: message})
}

func abortWithError(c *gin.Context, status int, code string, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: code, Message: message})
}
