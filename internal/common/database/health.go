package database

import (
	"context"
	"sync"
	"time"
)

// Pinger is a backing store that can report reachability.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// CheckAll pings every store concurrently and returns "ok" or the error text
// per store name.
func CheckAll(ctx context.Context, timeout time.Duration, pingers ...Pinger) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]string, len(pingers))
	)
	for _, p := range pingers {
		if p == nil {
			continue
		}
		wg.Add(1)
		go func(p Pinger) {
			defer wg.Done()
			status := "ok"
			if err := p.Ping(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			out[p.Name()] = status
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return out
}

// Healthy reports whether every entry in a CheckAll result is "ok".
func Healthy(results map[string]string) bool {
	for _, status := range results {
		if status != "ok" {
			return false
		}
	}
	return true
}
