package guard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTicket_LatestWins(t *testing.T) {
	site := NewScope().Site()

	r1 := site.Begin()
	r2 := site.Begin()

	// R1 resolves after R2 was issued: discarded
	assert.False(t, r1.Current())
	assert.True(t, r2.Current())
	assert.Greater(t, r2.ID(), r1.ID())
}

func TestTicket_StaleResponseDoesNotOverwrite(t *testing.T) {
	site := NewScope().Site()
	displayed := ""

	apply := func(tk Ticket, result string) {
		if tk.Current() {
			displayed = result
		}
	}

	r1 := site.Begin()
	r2 := site.Begin()
	apply(r2, "filter=b")
	apply(r1, "filter=a")

	assert.Equal(t, "filter=b", displayed)
}

func TestTicket_UnmountedScope(t *testing.T) {
	scope := NewScope()
	site := scope.Site()

	tk := site.Begin()
	assert.True(t, tk.Current())

	scope.Unmount()
	assert.False(t, tk.Current())
	assert.False(t, site.Begin().Current())
}

func TestSite_IndependentSites(t *testing.T) {
	scope := NewScope()
	list := scope.Site()
	history := scope.Site()

	a := list.Begin()
	b := history.Begin()
	list.Begin()

	assert.False(t, a.Current())
	assert.True(t, b.Current())
}

func TestTicket_ZeroValue(t *testing.T) {
	var tk Ticket
	assert.False(t, tk.Current())
}

func TestSite_ConcurrentBegin(t *testing.T) {
	site := NewScope().Site()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			site.Begin()
		}()
	}
	wg.Wait()

	last := site.Begin()
	assert.EqualValues(t, 51, last.ID())
	assert.True(t, last.Current())
}
