// Package crawler defines the domain types and collaborator interfaces shared by
// the stage engine, the site adapters and the storage backends of regcrawl.
package crawler
