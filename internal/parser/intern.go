package parser

import (
	"sync"
)

// maxInternPoolSize bounds the pool; past it strings are returned as is.
const maxInternPoolSize = 200000

// StringIntern deduplicates the short strings that repeat on nearly every
// record of a large layer: attribute values, font names and symbol names.
// Safe for concurrent use, so one pool can serve every file of a session.
type StringIntern struct {
	mu   sync.RWMutex
	pool map[string]string
}

// NewStringIntern creates an empty pool.
func NewStringIntern() *StringIntern {
	return &StringIntern{pool: make(map[string]string, 1024)}
}

// Intern returns the pooled copy of s, adding s when it is new.
func (si *StringIntern) Intern(s string) string {
	if s == "" {
		return s
	}

	si.mu.RLock()
	pooled, ok := si.pool[s]
	full := len(si.pool) >= maxInternPoolSize
	si.mu.RUnlock()
	if ok {
		return pooled
	}
	if full {
		return s
	}

	si.mu.Lock()
	defer si.mu.Unlock()
	if pooled, ok := si.pool[s]; ok {
		return pooled
	}
	if len(si.pool) < maxInternPoolSize {
		si.pool[s] = s
	}
	return s
}

// Len returns the number of pooled strings.
func (si *StringIntern) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.pool)
}
