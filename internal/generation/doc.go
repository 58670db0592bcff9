// Package generation provides the boundary between the analysis pipeline
// and external content generation providers (Gemini, OpenAI, Anthropic).
//
// Providers implement Completer, a single attempt at turning a prompt into
// text. RetryingGenerator wraps a Completer with the bounded retry policy,
// the per-request timeout and prompt assembly, and is what pipeline code
// consumes through the Generator interface. Output is untrusted: callers
// pass it through ExtractJSON before decoding.
package generation
