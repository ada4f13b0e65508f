// Package logx configures jobloop's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Repeating warnings throttled (see Throttle)
package logx
