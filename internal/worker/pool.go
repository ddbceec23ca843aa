package worker

import (
	"os"
	"sync"
)

const envWorker = "WFC_WORKER"

// IsWorkerProcess reports whether the current process was spawned as a
// worker. The cmd layer checks this before normal CLI dispatch.
func IsWorkerProcess() bool {
	return os.Getenv(envWorker) == "1"
}

// Pool manages a set of worker clients for parallel evaluation.
type Pool struct {
	mu      sync.Mutex
	clients []*Client
	current int
}

// NewPool spawns size workers. Sizes below one are clamped to one.
func NewPool(size int, opts Options) (*Pool, error) {
	if size <= 0 {
		size = 1
	}

	clients := make([]*Client, size)
	for i := 0; i < size; i++ {
		client, err := NewClient(opts)
		if err != nil {
			for j := 0; j < i; j++ {
				clients[j].Close()
			}
			return nil, err
		}
		clients[i] = client
	}

	return &Pool{clients: clients}, nil
}

// Get returns the next client in the pool, round-robin.
func (p *Pool) Get() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	client := p.clients[p.current]
	p.current = (p.current + 1) % len(p.clients)
	return client
}

// Close shuts down all workers in the pool.
func (p *Pool) Close() error {
	var lastErr error
	for _, client := range p.clients {
		if err := client.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.clients)
}
