// Package service contains the application-level use cases that sit between
// the HTTP API and the task store: creating analysis tasks, reading their
// progress and results, and operator requeues of failed tasks.
//
// Services receive their dependencies through constructor injection and
// depend only on the store interfaces, never on a concrete database. Store
// errors are translated into the service sentinels below so the API layer can
// map them to status codes with errors.Is.
package service
