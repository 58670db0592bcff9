// Package mocks provides hand-written test doubles for the interfaces that
// sit at the edges of the pipeline.
//
// Each mock records its calls behind a mutex so that tests can assert on
// them from concurrent code, and lets a test override behavior with a
// function field or fall back to canned responses.
package mocks
