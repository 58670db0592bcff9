// Package postgres provides the PostgreSQL implementation of store.TaskStore
// and the embedded goose migrations that create its schema. Every mutation
// is either a conditional UPDATE or a read-modify-write under SELECT ... FOR
// UPDATE inside store.RunInTransaction.
package postgres
