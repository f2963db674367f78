// Package logger builds the node's slog loggers.
//
// Output is JSON or text. All loggers share one level that SetLevel can
// change while the node runs. Credential attributes are masked and inline
// base64 media is cut to a short preview.
package logger
