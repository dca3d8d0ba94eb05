package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"planner-engine/internal/recurrence"
)

// memStore is an in-memory recurrence.Store. Atomically does not roll back,
// which models a crash between the instance insert and the cursor update.
type memStore struct {
	mu        sync.Mutex
	rules     map[uint]recurrence.Rule
	instances map[string]recurrence.Instance
	created   []recurrence.Instance
	nextTask  uint

	loadErr      error
	createErr    map[uint]error
	advanceErr   map[uint]error
	advanceFails map[uint]int
}

func newMemStore(rules ...recurrence.Rule) *memStore {
	s := &memStore{
		rules:        map[uint]recurrence.Rule{},
		instances:    map[string]recurrence.Instance{},
		nextTask:     1000,
		createErr:    map[uint]error{},
		advanceErr:   map[uint]error{},
		advanceFails: map[uint]int{},
	}
	for _, r := range rules {
		if r.Version == 0 {
			r.Version = 1
		}
		s.rules[r.ID] = r
	}
	return s
}

func instanceKey(ruleID uint, at time.Time) string {
	return fmt.Sprintf("%d@%d", ruleID, at.UnixNano())
}

func (s *memStore) LoadActiveRules(_ context.Context, now time.Time) ([]recurrence.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []recurrence.Rule
	for _, r := range s.rules {
		if r.ActiveAt(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetRule(_ context.Context, id uint) (recurrence.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return recurrence.Rule{}, fmt.Errorf("rule %d: %w", id, recurrence.ErrNotFound)
	}
	return r, nil
}

func (s *memStore) GetRuleByTask(_ context.Context, taskID uint) (recurrence.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.TaskID == taskID {
			return r, nil
		}
	}
	return recurrence.Rule{}, fmt.Errorf("rule of task %d: %w", taskID, recurrence.ErrNotFound)
}

func (s *memStore) UpsertRule(_ context.Context, rule recurrence.Rule) (recurrence.Rule, error) {
	if err := rule.Validate(); err != nil {
		return recurrence.Rule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.rules {
		if cur.TaskID == rule.TaskID {
			rule.ID = cur.ID
			rule.Version = cur.Version + 1
			if cur.LastMaterializedAt != nil {
				rule = rule.WithCursor(*cur.LastMaterializedAt)
			}
			s.rules[rule.ID] = rule
			return rule, nil
		}
	}
	rule.ID = uint(len(s.rules) + 1)
	rule.Version = 1
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *memStore) DeleteRule(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("rule %d: %w", id, recurrence.ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

func (s *memStore) CreateInstance(_ context.Context, rule recurrence.Rule, dueAt time.Time) (recurrence.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[rule.ID]; err != nil {
		return recurrence.Instance{}, err
	}
	key := instanceKey(rule.ID, dueAt)
	if inst, ok := s.instances[key]; ok {
		inst.Created = false
		return inst, nil
	}
	s.nextTask++
	inst := recurrence.Instance{TaskID: s.nextTask, RuleID: rule.ID, TemplateTaskID: rule.TaskID, DueAt: dueAt, Created: true}
	s.instances[key] = inst
	s.created = append(s.created, inst)
	return inst, nil
}

func (s *memStore) AdvanceCursor(_ context.Context, ruleID uint, version int64, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.advanceFails[ruleID]; n > 0 {
		s.advanceFails[ruleID] = n - 1
		return fmt.Errorf("%w: simulated crash", recurrence.ErrPersistence)
	}
	if err := s.advanceErr[ruleID]; err != nil {
		return err
	}
	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %d: %w", ruleID, recurrence.ErrNotFound)
	}
	if r.Version != version {
		return fmt.Errorf("rule %d changed since version %d: %w", ruleID, version, recurrence.ErrConflict)
	}
	t := next
	r.LastMaterializedAt = &t
	r.Version++
	s.rules[ruleID] = r
	return nil
}

func (s *memStore) Atomically(_ context.Context, fn func(tx recurrence.Store) error) error {
	return fn(s)
}

// instancesOf returns the instances of a rule in creation order.
func (s *memStore) instancesOf(ruleID uint) []recurrence.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recurrence.Instance
	for _, inst := range s.created {
		if inst.RuleID == ruleID {
			out = append(out, inst)
		}
	}
	return out
}

func (s *memStore) rule(id uint) recurrence.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[id]
}

func (s *memStore) bumpVersion(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rules[id]
	r.Version++
	s.rules[id] = r
}

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func dailyRule(id uint, anchor time.Time) recurrence.Rule {
	return recurrence.Rule{
		ID:             id,
		TaskID:         id * 10,
		Period:         recurrence.DailyPeriod{N: 1},
		InfiniteRepeat: true,
		AnchorDate:     anchor,
		Version:        1,
	}
}
