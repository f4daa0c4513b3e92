// Package store defines interfaces for persistence dependencies (the task
// table and the crawler monitor table). Implementations live in other
// packages; this package must not import database drivers or concrete clients.
package store
