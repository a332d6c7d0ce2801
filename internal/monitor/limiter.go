package monitor

// HostLimiter caps how many distinct hosts under one root domain get visited
type HostLimiter struct {
	maxPerRoot int
	// root domain -> set of hosts
	hosts map[string]map[string]bool
}

// NewHostLimiter creates a limiter allowing maxPerRoot hosts per root domain
func NewHostLimiter(maxPerRoot int) *HostLimiter {
	return &HostLimiter{
		maxPerRoot: maxPerRoot,
		hosts:      make(map[string]map[string]bool),
	}
}

// CanAdd checks if host can be added without exceeding the limit.
// Does NOT modify state - use Add() to register the host.
func (l *HostLimiter) CanAdd(host string) bool {
	set, exists := l.hosts[RootDomain(host)]
	if !exists || set[host] {
		return true
	}
	return len(set) < l.maxPerRoot
}

// Add registers host with the limiter.
// Returns false if the root domain is already at its limit.
func (l *HostLimiter) Add(host string) bool {
	root := RootDomain(host)
	if l.hosts[root] == nil {
		l.hosts[root] = make(map[string]bool)
	}
	set := l.hosts[root]
	if set[host] {
		return true
	}
	if len(set) >= l.maxPerRoot {
		return false
	}
	set[host] = true
	return true
}

// Count returns the number of hosts registered under rootDomain
func (l *HostLimiter) Count(rootDomain string) int {
	return len(l.hosts[rootDomain])
}
