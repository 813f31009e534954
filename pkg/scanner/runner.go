package scanner

import (
	"context"
	"sync"

	"github.com/miethe/skillmeat-sub006/pkg/artifact"
)

// SourceResult pairs one source with its scan outcome.
type SourceResult struct {
	Source artifact.Source
	Result ScanResult
	Err    error
}

// ScanAll scans independent sources concurrently with a worker pool. Sources
// share no mutable state, so a failure in one never affects its siblings.
// onDone, when non-nil, is called per source from worker goroutines as each
// scan completes.
func (s *Scanner) ScanAll(ctx context.Context, sources []artifact.Source, concurrency int, onDone func(SourceResult)) []SourceResult {
	if len(sources) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	if concurrency > len(sources) {
		concurrency = len(sources)
	}

	sourceChan := make(chan int, len(sources))
	results := make([]SourceResult, len(sources))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range sourceChan {
				src := sources[idx]
				res, err := s.Scan(ctx, src)
				results[idx] = SourceResult{Source: src, Result: res, Err: err}
				if onDone != nil {
					onDone(results[idx])
				}
			}
		}()
	}

	for i := range sources {
		sourceChan <- i
	}
	close(sourceChan)
	wg.Wait()

	return results
}
