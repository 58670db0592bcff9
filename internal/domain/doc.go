// Package domain contains the analysis task, its report and the rules that
// every persisted change must satisfy: the status transition table, the
// progress milestones of each phase and the consistency of the cursors.
//
// Nothing here touches storage or the network. Stores call ValidateChange
// inside their write transaction; the pipeline uses the phase milestones to
// decide what progress to record.
package domain
