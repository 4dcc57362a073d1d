// Package logx is the structured logger used across postpilot.
//
// It wraps zerolog: a human console sink (or JSON for journald), an optional
// JSON file sink, and a Service whose level and sinks can be swapped while
// derived loggers stay live.
package logx
