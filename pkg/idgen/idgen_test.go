package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsOutOfRangeNode(t *testing.T) {
	_, err := New(4096)
	assert.Error(t, err)
}

func TestGenerator_Prefixes(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(g.ReceivableNo(), PrefixReceivable))
	assert.True(t, strings.HasPrefix(g.EntryNo(), PrefixEntry))
	assert.True(t, strings.HasPrefix(g.EventKey(), PrefixEvent))
}

func TestGenerator_UniqueUnderConcurrency(t *testing.T) {
	g, err := New(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				no := g.EntryNo()
				mu.Lock()
				seen[no] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
