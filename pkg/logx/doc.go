// Package logx provides a small structured logging facade over zerolog.
//
// The Service owns the configured sinks (console, file) and can swap
// them at runtime via Apply(); Loggers handed out by the Service keep
// writing to whatever the current sinks are.
package logx
