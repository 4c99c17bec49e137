package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsMonotonicAndNonNegative(t *testing.T) {
	p := New()
	a := p.Now()
	time.Sleep(time.Millisecond)
	b := p.Now()
	assert.GreaterOrEqual(t, b, a)
	assert.GreaterOrEqual(t, a, 0.0)
}

func TestMarkRejectsRestrictedName(t *testing.T) {
	p := New()
	_, err := p.Mark("navigationStart", MarkOptions{})
	assert.Error(t, err)
}

func TestMeasureBetweenTwoMarks(t *testing.T) {
	p := New()
	p.Mark("start", MarkOptions{StartTime: floatPtr(10)})
	p.Mark("end", MarkOptions{StartTime: floatPtr(25)})

	m, err := p.Measure("span", MeasureOptions{Start: "start", End: "end"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, m.StartTime)
	assert.Equal(t, 15.0, m.Duration)
}

func TestMeasureUnknownMarkFails(t *testing.T) {
	p := New()
	_, err := p.Measure("span", MeasureOptions{Start: "missing"})
	assert.Error(t, err)
}

func TestClearMarksRemovesOnlyMarks(t *testing.T) {
	p := New()
	p.Mark("a", MarkOptions{})
	p.Measure("b", MeasureOptions{})
	p.ClearMarks("")

	assert.Empty(t, p.GetEntriesByType(TypeMark))
	assert.Len(t, p.GetEntriesByType(TypeMeasure), 1)
}

func TestGetEntriesByNameFiltersType(t *testing.T) {
	p := New()
	p.Mark("x", MarkOptions{})
	p.Measure("x", MeasureOptions{Start: "x"})

	marks := p.GetEntriesByName("x", TypeMark)
	assert.Len(t, marks, 1)
	assert.Equal(t, TypeMark, marks[0].Type)
}

func floatPtr(v float64) *float64 { return &v }
