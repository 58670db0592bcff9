// Package analysis implements the work each pipeline phase performs on a
// task's dataset: parsing and schema validation, the engagement threshold,
// high-performer selection, generated insights, the topic outline and
// details, and chart specifications.
//
// Analyzer methods take the current report and return or fill in the next
// piece of it. They never touch the task store; persisting results and
// progress is the task package's job.
package analysis
