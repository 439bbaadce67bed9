package engine

import (
	"context"
	"sync"
)

// ComputeBatch runs ComputeWallet for every wallet through a bounded
// worker pool. Books share nothing across wallets, so workers need no
// synchronization beyond the job channel. Results keep the order of the
// input slice; a wallet that failed hard holds a nil slot, and the first
// such error returns after the whole batch drains.
func (e *Engine) ComputeBatch(ctx context.Context, wallets []string, concurrency int) ([]*WalletPnlResult, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(wallets) {
		concurrency = len(wallets)
	}

	type job struct {
		idx    int
		wallet string
	}

	jobs := make(chan job)
	results := make([]*WalletPnlResult, len(wallets))
	errs := make([]error, len(wallets))

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.idx], errs[j.idx] = e.ComputeWallet(ctx, j.wallet)
			}
		}()
	}

	for i, wallet := range wallets {
		jobs <- job{idx: i, wallet: wallet}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
