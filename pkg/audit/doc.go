// Package audit emits authorization events. Events are written to the
// structured log; nothing is persisted by the engine itself.
package audit
