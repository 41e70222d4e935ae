package budget

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle is an opaque reference to a budget or workspace held in a Store.
type Handle string

// Store is the owning arena for budgets and workspaces. Entries are created
// with an ownership flag: a runtime destroys only the handles it created, and
// leaves caller-supplied ones alone.
type Store struct {
	mu         sync.RWMutex
	budgets    map[Handle]*budgetEntry
	workspaces map[Handle]*workspaceEntry
}

type budgetEntry struct {
	budget *Budget
	owner  string
}

type workspaceEntry struct {
	workspace *Workspace
	owner     string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		budgets:    make(map[Handle]*budgetEntry),
		workspaces: make(map[Handle]*workspaceEntry),
	}
}

func newHandle(kind string) Handle {
	return Handle(fmt.Sprintf("%s-%s", kind, uuid.NewString()))
}

// CreateBudget allocates a budget owned by owner and returns its handle.
func (s *Store) CreateBudget(owner string, maxChildren, tokenBudget int) Handle {
	h := newHandle("budget")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[h] = &budgetEntry{budget: NewBudget(maxChildren, tokenBudget), owner: owner}
	return h
}

// CreateWorkspace allocates a workspace owned by owner and returns its handle.
func (s *Store) CreateWorkspace(owner string) Handle {
	h := newHandle("workspace")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[h] = &workspaceEntry{workspace: NewWorkspace(), owner: owner}
	return h
}

// Budget resolves a budget handle.
func (s *Store) Budget(h Handle) (*Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.budgets[h]
	if !ok {
		return nil, fmt.Errorf("budget handle %s not found", h)
	}
	return e.budget, nil
}

// Workspace resolves a workspace handle.
func (s *Store) Workspace(h Handle) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.workspaces[h]
	if !ok {
		return nil, fmt.Errorf("workspace handle %s not found", h)
	}
	return e.workspace, nil
}

// Owns reports whether owner created the handle. Unknown handles are not owned.
func (s *Store) Owns(h Handle, owner string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.budgets[h]; ok {
		return e.owner == owner
	}
	if e, ok := s.workspaces[h]; ok {
		return e.owner == owner
	}
	return false
}

// Destroy removes a handle if owner created it. Destroying an inherited or
// unknown handle is a no-op; children share their parent's handles and must
// not tear them down.
func (s *Store) Destroy(h Handle, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.budgets[h]; ok && e.owner == owner {
		delete(s.budgets, h)
	}
	if e, ok := s.workspaces[h]; ok && e.owner == owner {
		delete(s.workspaces, h)
	}
}

// Len returns the number of live budgets and workspaces.
func (s *Store) Len() (nBudgets, nWorkspaces int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.budgets), len(s.workspaces)
}
