package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRecordKeepsRangesAndTimestamps(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 30, 0, 123, time.FixedZone("CEST", 2*3600))
	rec := NewMapRecord("Event", map[string]any{
		"id":      7,
		"title":   "launch",
		"score":   1.5,
		"at":      start,
		"period":  NewRange(start, start.Add(time.Hour)),
		"window":  NewClosedRange(1, 5),
		"venue":   map[string]any{"city": "Porto", "opens": NewRange(8, 20)},
		"missing": nil,
	})

	raw, err := MarshalRecord(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"$time":"2024-05-01T07:30:00.000000123Z"`)
	assert.Contains(t, string(raw), `"$range"`)

	out, err := UnmarshalRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "Event", out.RecordTypeName())
	assert.Equal(t, int64(7), out.Values["id"])
	assert.Equal(t, 1.5, out.Values["score"])
	assert.Nil(t, out.Values["missing"])

	at, ok := out.Values["at"].(time.Time)
	require.True(t, ok)
	assert.True(t, start.Equal(at))

	period, ok := out.Values["period"].(Range)
	require.True(t, ok)
	assert.Equal(t, BoundaryHalfOpen, period.Kind)
	assert.Equal(t, 0, Compare(start, period.Lower))
	assert.Equal(t, 0, Compare(start.Add(time.Hour), period.Upper))

	assert.Equal(t, NewClosedRange(int64(1), int64(5)), out.Values["window"])

	venue, ok := out.Field("venue")
	require.True(t, ok)
	opens, ok := venue.(Record).Field("opens")
	require.True(t, ok)
	assert.Equal(t, NewRange(int64(8), int64(20)), opens)
}

func TestUnmarshalRecordRejectsMalformedTags(t *testing.T) {
	_, err := UnmarshalRecord([]byte(`{"type":"E","values":{"at":{"$time":"yesterday"}}}`))
	assert.Error(t, err)

	_, err = UnmarshalRecord([]byte(`{"type":"E","values":{"p":{"$range":5}}}`))
	assert.Error(t, err)

	_, err = UnmarshalRecord([]byte(`not json`))
	assert.Error(t, err)
}

func TestRangeJSON(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, r := range []Range{
		NewRange(1, 10),
		NewClosedRange(0.5, 2.5),
		NewRange(day, day.Add(24*time.Hour)),
		NewClosedRange("a", "m"),
	} {
		raw, err := json.Marshal(r)
		require.NoError(t, err)

		var back Range
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, r.Kind, back.Kind, string(raw))
		assert.Equal(t, 0, Compare(r.Lower, back.Lower), string(raw))
		assert.Equal(t, 0, Compare(r.Upper, back.Upper), string(raw))
		assert.IsType(t, r.Lower, back.Lower, string(raw))
	}
}

type ticket struct {
	ID    int64
	Title string
}

func (t ticket) RecordTypeName() string { return "Ticket" }

func (t ticket) Field(name string) (any, bool) {
	switch name {
	case "id":
		return t.ID, true
	case "title":
		return t.Title, true
	}
	return nil, false
}

func (t ticket) Describe() RecordDescriptor {
	return RecordDescriptor{
		Name:       "Ticket",
		Fields:     []FieldDescriptor{{Name: "id", Kind: FieldInt}, {Name: "title", Kind: FieldString}},
		PrimaryKey: []string{"id"},
	}
}

type opaque struct{}

func (opaque) RecordTypeName() string   { return "Opaque" }
func (opaque) Field(string) (any, bool) { return nil, false }

func TestMarshalRecordUsesDescriptor(t *testing.T) {
	raw, err := MarshalRecord(ticket{ID: 3, Title: "t"})
	require.NoError(t, err)
	out, err := UnmarshalRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "Ticket", out.Type)
	assert.Equal(t, []string{"id", "title"}, out.FieldNames())

	_, err = MarshalRecord(opaque{})
	assert.Error(t, err)
}
