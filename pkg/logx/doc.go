// Package logx configures shiftsync's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional alert sink (JSON lines, min-level + rate limiting) for operational alerts
package logx
