package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"info":    zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}

	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNop().With(String("job", "x"))
	assert.NotPanics(t, func() {
		log.Info("hello", Int("n", 1))
		log.Error("boom", Any("v", []int{1}))
	})
}
