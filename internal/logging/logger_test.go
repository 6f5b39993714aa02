package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug", "json").WithComponent("planner")

	l.LogPlan(context.Background(), "Event", "intersection", 0.12, time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, `"component":"planner"`)
	assert.Contains(t, out, `"plan":"intersection"`)
	assert.Contains(t, out, `"record_type":"Event"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn", "text")

	l.LogStatistics(context.Background(), "Event", 10, time.Second, nil)
	assert.Empty(t, buf.String())

	l.LogEvolution(context.Background(), 1, 2, 3, errors.New("rejected"))
	assert.True(t, strings.Contains(buf.String(), "metadata evolution rejected"))
}

func TestNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	OrNop(nil).Error("never printed")
}
