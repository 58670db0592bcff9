package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrGenerationFailed is returned when generation fails for any general reason,
	// including exhausted retries.
	ErrGenerationFailed = errors.New("content generation failed")

	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during content generation")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrRequestRejected is returned when the provider rejects a request with a
	// client error that will not change on retry.
	ErrRequestRejected = errors.New("request rejected by language model provider")

	// ErrPromptTooLarge is returned when the assembled prompt exceeds the bound.
	ErrPromptTooLarge = errors.New("prompt exceeds maximum size")
)
