// Package gemini provides a generation.Completer backed by Google's Gemini
// API through the google.golang.org/genai client.
//
// The completer makes exactly one request per call. Retries, backoff and
// timeouts belong to generation.RetryingGenerator; this package translates
// between prompts and the Gemini wire types and classifies failures into the
// generation error sentinels:
//
//   - safety finish reasons and prompt blocks become ErrContentBlocked
//   - rate limiting and server errors become ErrTransientFailure
//   - empty or malformed candidates become ErrInvalidResponse
package gemini
