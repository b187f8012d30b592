package trace

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miaomiao/internal/log"
)

func TestRunTagsContextAndCounts(t *testing.T) {
	var buf bytes.Buffer
	tr := New(log.NewWriter(&buf, slog.LevelDebug, log.ComponentApp))

	var seen string
	err := tr.Run(context.Background(), "add", func(ctx context.Context) error {
		seen = CommandID(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(seen, "cmd_"))
	assert.Contains(t, buf.String(), "command=add")
	assert.Contains(t, buf.String(), seen)

	boom := errors.New("boom")
	err = tr.Run(context.Background(), "delete", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "level=WARN")

	m := tr.Metrics()
	assert.Equal(t, int64(2), m.TotalCommands)
	assert.Equal(t, int64(1), m.FailedCommands)
}

func TestCommandIDMissing(t *testing.T) {
	assert.Empty(t, CommandID(context.Background()))
	assert.NotEqual(t, NewCommandID(), NewCommandID())
}
