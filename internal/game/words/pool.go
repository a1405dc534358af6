// Package words provides the guess-word list and the replenishing pool that
// rooms draw words from.
package words

import (
	"fmt"
)

// Pool selects guess words by sampling without replacement from a working
// copy of a static word list. A depleted working copy is refilled from the
// full list, so words repeat across refills but never within one undepleted
// pool.
//
// Pool is not safe for concurrent use; each Room owns one and accesses it
// under the room lock.
type Pool struct {
	full      []string
	available []string
	src       Source
}

// NewPool creates a Pool over the given word list.
//
// Precondition: list must be non-empty; src must be non-nil.
// Postcondition: Returns a Pool whose first len(list) draws are all distinct.
func NewPool(list []string, src Source) (*Pool, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("word list must not be empty")
	}
	if src == nil {
		return nil, fmt.Errorf("random source must not be nil")
	}
	p := &Pool{
		full: append([]string(nil), list...),
		src:  src,
	}
	p.refill()
	return p, nil
}

// Next draws the next guess word, refilling the working copy from the full
// list first if it is depleted.
//
// Postcondition: Returns a word from the list. No word is returned twice
// between two refills.
func (p *Pool) Next() string {
	if len(p.available) == 0 {
		p.refill()
	}
	i := p.src.Intn(len(p.available))
	word := p.available[i]
	p.available = append(p.available[:i], p.available[i+1:]...)
	return word
}

// Remaining reports how many words are left before the next refill.
func (p *Pool) Remaining() int {
	return len(p.available)
}

// Size reports the size of the full word list.
func (p *Pool) Size() int {
	return len(p.full)
}

func (p *Pool) refill() {
	p.available = append([]string(nil), p.full...)
}
