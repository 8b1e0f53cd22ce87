package encoder

import (
	"sync"
	"testing"
)

func TestSubmissionTakeExactlyOnce(t *testing.T) {
	t.Parallel()
	var table submissionTable

	token := table.attach(42, true)
	sub, ok := table.take(token)
	if !ok {
		t.Fatal("first take failed")
	}
	if sub.targetTsNs != 42 || !sub.forceIDR {
		t.Errorf("submission = %+v", sub)
	}

	// The completion path and the submission-failure path can never both
	// release: the second take must miss.
	if _, ok := table.take(token); ok {
		t.Fatal("second take succeeded; context released twice")
	}
}

func TestSubmissionTokensDistinct(t *testing.T) {
	t.Parallel()
	var table submissionTable
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		token := table.attach(uint64(i), false)
		if seen[token] {
			t.Fatalf("token %d reused", token)
		}
		seen[token] = true
	}
	if table.outstanding() != 100 {
		t.Errorf("outstanding = %d, want 100", table.outstanding())
	}
}

func TestSubmissionTableConcurrent(t *testing.T) {
	t.Parallel()
	var table submissionTable
	var wg sync.WaitGroup
	taken := make(chan bool, 200)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := table.attach(uint64(i), false)
			// Race two releasers for the same token.
			var inner sync.WaitGroup
			for j := 0; j < 2; j++ {
				inner.Add(1)
				go func() {
					defer inner.Done()
					_, ok := table.take(token)
					taken <- ok
				}()
			}
			inner.Wait()
		}(i)
	}
	wg.Wait()
	close(taken)

	releases := 0
	for ok := range taken {
		if ok {
			releases++
		}
	}
	if releases != 100 {
		t.Errorf("%d successful releases for 100 tokens", releases)
	}
}
