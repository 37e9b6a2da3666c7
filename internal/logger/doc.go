// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - an optional rotating file sink for the embedded update client,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and convenience functions (Infof, WarnKV, etc.).
//
// Services accept a context and extract the logger from it, so every
// message carries the component name and the keys scoped by callers.
package logger
