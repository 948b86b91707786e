package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(2)
	w.Append("one", "r1")
	w.Append("two", "r2")
	w.Append("three", "r3")

	users, replies := w.Exchanges()
	require.Equal(t, []string{"two", "three"}, users)
	require.Equal(t, []string{"r2", "r3"}, replies)
	require.Equal(t, 2, w.Len())
}

func TestWindowSnippetIncludesName(t *testing.T) {
	w := NewWindow(4)
	w.Append("hi, my name is ada", "Hello Ada!")

	require.Equal(t, "Ada", w.UserName())
	require.Equal(t, "The user's name is Ada.\nUser: hi, my name is ada\nAssistant: Hello Ada!", w.Snippet())
}

func TestExtractUserName(t *testing.T) {
	cases := map[string]string{
		"call me Max":            "Max",
		"I'm Priya by the way":   "Priya",
		"i'm fine thanks":        "",
		"I'm Sorry about that":   "",
		"what's the weather":     "",
		"My name is jean-luc ok": "Jean-luc",
	}
	for in, want := range cases {
		require.Equal(t, want, ExtractUserName(in), in)
	}
}

func TestWindowConcurrentReaders(t *testing.T) {
	w := NewWindow(3)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.Snippet()
			if i%2 == 0 {
				w.Append(fmt.Sprintf("u%d", i), "r")
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 3, w.Len())
}
