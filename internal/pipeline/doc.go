// Package pipeline holds the stage workflow engine: the run lifecycle around a
// stage, the generic pending-work loop, the proxy session threaded through
// retrieval calls, time window resolution and body decoding.
package pipeline
