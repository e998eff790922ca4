// Package logx configures bulkbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional remote sink that forwards warnings to an operator
//     address through one of the messaging sessions (min-level + rate limit)
package logx
