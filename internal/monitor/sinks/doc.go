// Package sinks contains the monitoring backends a list run reports its
// per-target outcomes to.
package sinks
