// Package trace tags each console command with an id and logs its outcome.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"miaomiao/internal/log"
)

type ContextKey string

const CommandIDKey ContextKey = "command_id"

// Metrics counts traced commands.
type Metrics struct {
	TotalCommands  int64
	FailedCommands int64
	LastDuration   time.Duration
}

type Tracer struct {
	logger *log.Logger
	total  atomic.Int64
	failed atomic.Int64
	last   atomic.Int64
}

func New(logger *log.Logger) *Tracer {
	return &Tracer{logger: log.OrDiscard(logger).WithComponent(log.ComponentApp)}
}

// Run calls fn with a context carrying a fresh command id and logs the
// result: debug on success, warn on failure.
func (t *Tracer) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	id := NewCommandID()
	ctx = context.WithValue(ctx, CommandIDKey, id)

	err := fn(ctx)

	duration := time.Since(start)
	t.total.Add(1)
	t.last.Store(int64(duration))

	level := slog.LevelDebug
	if err != nil {
		t.failed.Add(1)
		level = slog.LevelWarn
	}
	t.logger.Log(ctx, level, "Command completed",
		log.FieldComponent, t.logger.Component(),
		"command_id", id,
		"command", name,
		"duration_ms", duration.Milliseconds(),
		log.FieldSuccess, err == nil,
		log.FieldError, err)
	return err
}

func (t *Tracer) Metrics() Metrics {
	return Metrics{
		TotalCommands:  t.total.Load(),
		FailedCommands: t.failed.Load(),
		LastDuration:   time.Duration(t.last.Load()),
	}
}

// NewCommandID creates a short random id.
func NewCommandID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("cmd_%d", time.Now().UnixNano())
	}
	return "cmd_" + hex.EncodeToString(b)
}

// CommandID extracts the command id from ctx.
func CommandID(ctx context.Context) string {
	if id, ok := ctx.Value(CommandIDKey).(string); ok {
		return id
	}
	return ""
}
