// Package postgres provides Postgres-backed persistence implementations for
// the task table and the crawler monitor table. Connections can be routed
// through an SSH bastion.
package postgres
