package research

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = time.Second
	cfg.RetryInitialBackoff = time.Millisecond
	return cfg
}

// fakeSearch answers every query with the same sources and a per-query text.
type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	respond func(query string) (SearchResponse, error)
}

func (f *fakeSearch) Search(ctx context.Context, query string) (SearchResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.respond(query)
}

func (f *fakeSearch) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func staticSearch(sources ...Source) *fakeSearch {
	return &fakeSearch{respond: func(query string) (SearchResponse, error) {
		return SearchResponse{Sources: sources, Text: "Findings for " + query}, nil
	}}
}

// countingGenerator returns the same answer or error on every call.
type countingGenerator struct {
	calls atomic.Int32
	out   string
	err   error
}

func (g *countingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return g.out, nil
}

func failingGenerator() *countingGenerator {
	return &countingGenerator{err: fmt.Errorf("connection refused")}
}

// stubReflector returns the same reflection on every call.
type stubReflector struct {
	calls      atomic.Int32
	reflection Reflection
}

func (r *stubReflector) Reflect(ctx context.Context, topic string, accumulated []string, loopCount, maxLoops int) (Reflection, error) {
	r.calls.Add(1)
	return r.reflection, nil
}
