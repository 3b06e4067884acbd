package system

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// CleanupStack manages cleanup operations in reverse order (LIFO)
type CleanupStack struct {
	cleanups []func() error
	mu       sync.Mutex
}

// NewCleanupStack creates a new cleanup stack
func NewCleanupStack() *CleanupStack {
	return &CleanupStack{
		cleanups: make([]func() error, 0),
	}
}

// Add adds a cleanup function to the stack
func (s *CleanupStack) Add(cleanup func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, cleanup)
}

// Execute runs all cleanup functions in reverse order (LIFO) and empties the
// stack, so a second call does nothing
func (s *CleanupStack) Execute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.cleanups = nil

	return result.ErrorOrNil()
}

// Len returns the number of pending cleanup functions
func (s *CleanupStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleanups)
}
