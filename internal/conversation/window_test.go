package conversation

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachrelay/pkg/types"
)

func TestStore_RenderEmpty(t *testing.T) {
	s := NewStore(0, 0)
	assert.Equal(t, "", s.Render("missing"))
	assert.Nil(t, s.Snapshot("missing"))
}

func TestStore_RenderOrder(t *testing.T) {
	s := NewStore(6, 150)
	s.Append("s1", types.KindQuestion, "Why this company?")
	s.Append("s1", types.KindAnswer, "Tie it to their mission.")

	assert.Equal(t, "Q: Why this company?\nA: Tie it to their mission.", s.Render("s1"))
	assert.Equal(t, "", s.Render("s2"))
}

func TestStore_TrimsOldestFirst(t *testing.T) {
	s := NewStore(3, 150)
	for i := 1; i <= 5; i++ {
		s.Append("s1", types.KindQuestion, fmt.Sprintf("q%d", i))
	}

	snap := s.Snapshot("s1")
	require.Len(t, snap, 3)
	assert.Equal(t, "q3", snap[0].Text)
	assert.Equal(t, "q5", snap[2].Text)
}

func TestStore_IgnoresSystemEntries(t *testing.T) {
	s := NewStore(6, 150)
	s.Append("s1", types.KindSystem, "peer connected")
	assert.Nil(t, s.Snapshot("s1"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_LineBudget(t *testing.T) {
	s := NewStore(6, 10)
	s.Append("s1", types.KindAnswer, strings.Repeat("a", 40))
	assert.Equal(t, "A: "+strings.Repeat("a", 10), s.Render("s1"))
}

func TestStore_Drop(t *testing.T) {
	s := NewStore(6, 150)
	s.Append("s1", types.KindQuestion, "q")
	s.Drop("s1")
	assert.Equal(t, "", s.Render("s1"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := NewStore(6, 150)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append("s1", types.KindQuestion, fmt.Sprintf("q%d", i))
			_ = s.Render("s1")
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Snapshot("s1"), 6)
}
