package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestZapAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core))

	log.WithFields(map[string]interface{}{"conversationId": "c1"}).
		WithError(errors.New("boom")).
		Warn("lock wait", map[string]interface{}{"waitMs": 12})

	entries := logs.All()
	assert.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "lock wait", entries[0].Message)
	assert.Equal(t, "c1", ctx["conversationId"])
	assert.Equal(t, "boom", ctx["error"])
	assert.EqualValues(t, 12, ctx["waitMs"])
}

func TestForComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForComponent(NewZapAdapter(zap.New(core)), "matcher").Info("ready", nil)

	assert.Equal(t, "matcher", logs.All()[0].ContextMap()["component"])

	assert.NotPanics(t, func() {
		ForComponent(nil, "x").Debug("ignored", nil)
	})
}
