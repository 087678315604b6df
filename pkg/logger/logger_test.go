package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fincash/pkg/logger"
)

type ctxKey struct{}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json output with static attrs", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithAttr(slog.String("service", "fincash")),
		)

		log.Info("hello")

		rec := decode(t, &buf)
		assert.Equal(t, "hello", rec["msg"])
		assert.Equal(t, "fincash", rec["service"])
	})

	t.Run("context value is injected", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithContextValue("trace", ctxKey{}),
		)

		ctx := context.WithValue(context.Background(), ctxKey{}, "abc")
		log.InfoContext(ctx, "with ctx")

		assert.Equal(t, "abc", decode(t, &buf)["trace"])
	})

	t.Run("production environment uses json at info", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.New(
			logger.WithEnvironment("production", "fincash"),
			logger.WithOutput(&buf),
		)

		log.Debug("hidden")
		assert.Empty(t, buf.String())

		log.Info("shown")
		rec := decode(t, &buf)
		assert.Equal(t, "production", rec["env"])
		assert.Equal(t, "fincash", rec["service"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() {
			logger.New(logger.WithFormat("xml"))
		})
	})
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	assert.Equal(t, id.String(), logger.UserID(id).Value.String())
	assert.Equal(t, "intent_id", logger.IntentID("x").Key)
	assert.True(t, logger.UserID(nil).Equal(slog.Attr{}))
	assert.True(t, logger.TicketID("").Equal(slog.Attr{}))
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
	assert.Equal(t, "error", logger.Error(errors.New("boom")).Key)
	assert.True(t, logger.Errors(nil, nil).Equal(slog.Attr{}))
	assert.Equal(t, "errors", logger.Errors(nil, errors.New("x")).Key)
}
