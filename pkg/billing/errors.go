package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidSignature is returned when webhook signature validation fails
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidJSON is returned when the webhook body is not valid JSON
	ErrInvalidJSON = errors.New("invalid JSON payload")

	// ErrInvalidPayload is returned when a webhook payload cannot be normalized
	ErrInvalidPayload = errors.New("invalid billing payload")

	// ErrUnsupportedSignatureType is returned for an unknown verification scheme
	ErrUnsupportedSignatureType = errors.New("unsupported signature type")

	// ErrUserNotFound is returned when a user cannot be found in the provider's system
	ErrUserNotFound = errors.New("user not found in billing provider")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrNotSupported is returned when a provider doesn't support an operation
	ErrNotSupported = errors.New("operation not supported by this provider")
)
