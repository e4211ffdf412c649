package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) LogEvent(_ context.Context, e Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) GetEvents(_ context.Context, eventType string, start, end time.Time) ([]Event, error) {
	return r.events, nil
}

func TestRecord(t *testing.T) {
	r := &recorder{}
	Record(context.Background(), r, TypeRunStarted, "run 1", map[string]any{"symbol": "AAPL"})
	require.Len(t, r.events, 1)
	assert.Equal(t, TypeRunStarted, r.events[0].Type)
	assert.Equal(t, "AAPL", r.events[0].Data["symbol"])
	assert.False(t, r.events[0].Time.IsZero())

	failing := &recorder{err: errors.New("disk full")}
	assert.NotPanics(t, func() {
		Record(context.Background(), failing, TypeRunFailed, "boom", nil)
	})
	assert.NotPanics(t, func() {
		Record(context.Background(), nil, TypeRunFailed, "no journal", nil)
	})
}
