package agentlink

import (
	"testing"

	"github.com/raskyld/agentlink/pkg/envelope"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Run("unbounded queue is a FIFO", func(t *testing.T) {
		q := newQueue[int](0)
		for i := 0; i < 100; i++ {
			require.Zero(t, q.push(i))
		}
		require.Equal(t, 100, q.len())
		for i := 0; i < 100; i++ {
			v, ok := q.pop()
			require.True(t, ok)
			require.Equal(t, i, v)
		}
		_, ok := q.pop()
		require.False(t, ok)
	})

	t.Run("bulk lane keeps the most recent batches", func(t *testing.T) {
		q := newQueue[*envelope.Envelope](BulkDepth)
		var sent []*envelope.Envelope
		dropped := 0
		for i := 0; i < 7; i++ {
			env := envelope.Wrap(&envelope.Images{Main: []byte{byte(i)}})
			sent = append(sent, env)
			dropped += q.push(env)
			require.LessOrEqual(t, q.len(), BulkDepth)
		}

		require.Equal(t, 5, dropped)
		for _, want := range sent[len(sent)-BulkDepth:] {
			got, ok := q.pop()
			require.True(t, ok)
			require.Same(t, want, got)
		}
	})

	t.Run("reset empties the queue", func(t *testing.T) {
		q := newQueue[string](0)
		q.push("a")
		q.push("b")
		require.Equal(t, 2, q.reset())
		require.Zero(t, q.len())
	})
}

func TestSignal(t *testing.T) {
	ch := make(chan struct{}, 1)
	signal(ch)
	signal(ch)
	require.Len(t, ch, 1)
}
