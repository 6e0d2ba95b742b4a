package execution

import "sync"

// Registry 以执行编号保存已完成的执行记录，仅支持按唯一键插入。
type Registry struct {
	mu    sync.RWMutex
	items map[string]Summary
}

// NewRegistry 创建空登记表。
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Summary)}
}

// Insert 插入执行记录，编号已存在时返回 ErrDuplicateExecution。
func (r *Registry) Insert(summary Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[summary.ExecutionID]; exists {
		return ErrDuplicateExecution
	}
	r.items[summary.ExecutionID] = summary.clone()
	return nil
}

// Get 按编号读取执行记录。
func (r *Registry) Get(id string) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.items[id]
	if !ok {
		return Summary{}, false
	}
	return s.clone(), true
}

// Snapshot 返回全部执行记录的副本。
func (r *Registry) Snapshot() map[string]Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Summary, len(r.items))
	for id, s := range r.items {
		out[id] = s.clone()
	}
	return out
}

// Len 返回登记数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
