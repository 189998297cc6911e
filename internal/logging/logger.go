// Package logging is the structured logger every sharedrop component takes.
// The only implementation wraps log/slog.
package logging

import "context"

// Logger takes a message plus key/value pairs:
//
//	log.Info(ctx, "transfer created", "transfer_id", id, "files", n)
//
// Components derive a child with With("module", name).
type Logger interface {
	// Debug is for per-chunk and per-request chatter.
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	// Warn marks conditions that were handled but deserve a look, such as a
	// failed notification or a skipped archive entry.
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}
