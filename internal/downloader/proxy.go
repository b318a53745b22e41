package downloader

import "sync"

// ProxyStatus is a snapshot of the rotator for status reporting.
type ProxyStatus struct {
	Total      int
	Current    int
	Configured bool
}

// ProxyRotator hands out proxies round-robin. An empty rotator never yields one.
type ProxyRotator struct {
	mu      sync.Mutex
	proxies []string
	next    int
}

func NewProxyRotator(proxies []string) *ProxyRotator {
	return &ProxyRotator{proxies: append([]string(nil), proxies...)}
}

// Next returns the proxy at the cursor and advances it.
func (r *ProxyRotator) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.proxies) == 0 {
		return "", false
	}
	proxy := r.proxies[r.next]
	r.next = (r.next + 1) % len(r.proxies)
	return proxy, true
}

func (r *ProxyRotator) Configured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies) > 0
}

func (r *ProxyRotator) Status() ProxyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ProxyStatus{
		Total:      len(r.proxies),
		Current:    r.next,
		Configured: len(r.proxies) > 0,
	}
}
