package extract

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/comune-cli/internal/model"
	"github.com/civicdata/comune-cli/pkg/istat"
)

type fakeLookuper struct {
	value *istat.Value
	err   error
	calls atomic.Int64
}

func (f *fakeLookuper) Lookup(context.Context, string, int) (*istat.Value, error) {
	f.calls.Add(1)
	return f.value, f.err
}

func TestExternal_ResolvesValue(t *testing.T) {
	src := &fakeLookuper{value: &istat.Value{Number: 54321, Source: istat.DatasetPopulation, Matched: true}}
	s := NewExternal(src)

	r, err := s.Attempt(context.Background(), testChunk("x"), "popolazione residente", 2023)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, float64(54321), r.Value)
	assert.Equal(t, model.MethodExternal, r.Method)
	assert.Equal(t, externalConfidence, r.Confidence)
	assert.Contains(t, r.Evidence, istat.DatasetPopulation)
}

func TestExternal_AbsenceIsNoMatch(t *testing.T) {
	s := NewExternal(&fakeLookuper{})
	r, err := s.Attempt(context.Background(), testChunk("x"), "spesa", 2023)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestExternal_CachesPerIndicatorYear(t *testing.T) {
	src := &fakeLookuper{value: &istat.Value{Number: 1, Matched: true}}
	s := NewExternal(src)

	// Different chunks, same (indicator, year): one lookup.
	_, err := s.Attempt(context.Background(), testChunk("a"), "Spesa corrente", 2023)
	require.NoError(t, err)
	_, err = s.Attempt(context.Background(), testChunk("b"), "spesa corrente", 2023)
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.calls.Load())

	// Different year: fresh lookup.
	_, err = s.Attempt(context.Background(), testChunk("a"), "spesa corrente", 2022)
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestExternal_LookupErrorPropagates(t *testing.T) {
	s := NewExternal(&fakeLookuper{err: assert.AnError})
	_, err := s.Attempt(context.Background(), testChunk("x"), "spesa", 2023)
	assert.Error(t, err)
}
