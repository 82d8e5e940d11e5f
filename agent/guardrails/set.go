package guardrails

import (
	"fmt"
)

// Set 有序、只增不减的护栏集合
// 注册顺序即报告顺序与并发改写的决胜顺序。With 采用复制扩展，
// 原集合保持不变，因此一个 Set 可以在多次执行之间安全共享。
type Set struct {
	guardrails []Guardrail
}

// NewSet 创建护栏集合
func NewSet(guardrails ...Guardrail) *Set {
	s := &Set{guardrails: make([]Guardrail, 0, len(guardrails))}
	for _, g := range guardrails {
		if g != nil {
			s.guardrails = append(s.guardrails, g)
		}
	}
	return s
}

// With 返回追加了 g 的新集合，接收者不变
func (s *Set) With(g Guardrail) *Set {
	return s.WithAll(g)
}

// WithAll 返回按顺序追加了 gs 的新集合
func (s *Set) WithAll(gs ...Guardrail) *Set {
	existing := s.Guardrails()
	next := make([]Guardrail, 0, len(existing)+len(gs))
	next = append(next, existing...)
	for _, g := range gs {
		if g != nil {
			next = append(next, g)
		}
	}
	return &Set{guardrails: next}
}

// Guardrails 返回护栏列表的副本
func (s *Set) Guardrails() []Guardrail {
	if s == nil {
		return nil
	}
	out := make([]Guardrail, len(s.guardrails))
	copy(out, s.guardrails)
	return out
}

// Len 返回护栏数量
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.guardrails)
}

// IsEmpty 是否为空
func (s *Set) IsEmpty() bool {
	return s.Len() == 0
}

// Names 按注册顺序返回护栏名称
func (s *Set) Names() []string {
	names := make([]string, 0, s.Len())
	for _, g := range s.Guardrails() {
		names = append(names, g.Name())
	}
	return names
}

// Validate 检查名称非空且唯一，用于构建期校验
func (s *Set) Validate() error {
	seen := make(map[string]int, s.Len())
	for i, g := range s.Guardrails() {
		name := g.Name()
		if name == "" {
			return fmt.Errorf("%w: guardrail at index %d has an empty name", ErrInvalidConfig, i)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %q registered at index %d and %d", ErrDuplicateGuardrail, name, prev, i)
		}
		seen[name] = i
	}
	return nil
}

// partition 按注册顺序拆分为并发组与顺序组
func (s *Set) partition() (concurrent, sequential []Guardrail) {
	for _, g := range s.Guardrails() {
		if g.RunParallel() {
			concurrent = append(concurrent, g)
		} else {
			sequential = append(sequential, g)
		}
	}
	return concurrent, sequential
}
