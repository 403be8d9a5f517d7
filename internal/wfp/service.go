// Package wfp is the food assistance ledger guarded by the access
// layer. A distribution cycle tracks disbursements to beneficiaries
// within one region; regions double as assignment targets for field
// officers.
package wfp

import (
	"context"
	"errors"
	"sync"
	"time"

	"aidcore.org/internal/ids"
)

// CycleStatus is the lifecycle state of a distribution cycle.
type CycleStatus string

const (
	CycleOpen   CycleStatus = "open"
	CycleClosed CycleStatus = "closed"
)

// Cycle is one distribution cycle within a region.
type Cycle struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Region        string      `json:"region"`
	Status        CycleStatus `json:"status"`
	Beneficiaries int         `json:"beneficiaries"`
	Disbursed     int64       `json:"disbursed"` // minor units
	Currency      string      `json:"currency"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Disbursement is one recorded payout inside a cycle.
type Disbursement struct {
	ID            string    `json:"id"`
	CycleID       string    `json:"cycle_id"`
	Amount        int64     `json:"amount"` // minor units
	Beneficiaries int       `json:"beneficiaries"`
	RecordedBy    string    `json:"recorded_by"`
	CreatedAt     time.Time `json:"created_at"`
}

var (
	ErrNotFound      = errors.New("not found")
	ErrCycleClosed   = errors.New("cycle is closed")
	ErrInvalidCycle  = errors.New("cycle name and region are required")
	ErrInvalidAmount = errors.New("invalid amount (must be > 0)")
)

// Service defines cycle registry operations.
type Service interface {
	CreateCycle(ctx context.Context, name, region, currency string) (Cycle, error)
	GetCycle(ctx context.Context, id string) (Cycle, error)
	ListCycles(ctx context.Context, region string) ([]Cycle, error)
	RecordDisbursement(ctx context.Context, cycleID, recordedBy string, amount int64, beneficiaries int) (Disbursement, error)
	CloseCycle(ctx context.Context, id string) (Cycle, error)
	ListDisbursements(ctx context.Context, cycleID string) ([]Disbursement, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu     sync.RWMutex
	cycles map[string]*Cycle
	order  []string
	disbs  map[string][]Disbursement // cycle id -> payouts
}

// NewInMemory creates a fresh registry.
func NewInMemory() *InMemory {
	return &InMemory{
		cycles: make(map[string]*Cycle),
		disbs:  make(map[string][]Disbursement),
	}
}

func (s *InMemory) CreateCycle(ctx context.Context, name, region, currency string) (Cycle, error) {
	if name == "" || region == "" {
		return Cycle{}, ErrInvalidCycle
	}
	if currency == "" {
		currency = "USD"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	c := &Cycle{
		ID:        ids.New(),
		Name:      name,
		Region:    region,
		Status:    CycleOpen,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.cycles[c.ID] = c
	s.order = append(s.order, c.ID)
	return *c, nil
}

func (s *InMemory) GetCycle(ctx context.Context, id string) (Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return Cycle{}, ErrNotFound
	}
	return *c, nil
}

// ListCycles returns cycles in creation order, optionally filtered by region.
func (s *InMemory) ListCycles(ctx context.Context, region string) ([]Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Cycle, 0, len(s.order))
	for _, id := range s.order {
		c := s.cycles[id]
		if region != "" && c.Region != region {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *InMemory) RecordDisbursement(ctx context.Context, cycleID, recordedBy string, amount int64, beneficiaries int) (Disbursement, error) {
	if amount <= 0 || beneficiaries <= 0 {
		return Disbursement{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cycles[cycleID]
	if !ok {
		return Disbursement{}, ErrNotFound
	}
	if c.Status != CycleOpen {
		return Disbursement{}, ErrCycleClosed
	}

	now := time.Now().UTC()
	d := Disbursement{
		ID:            ids.New(),
		CycleID:       cycleID,
		Amount:        amount,
		Beneficiaries: beneficiaries,
		RecordedBy:    recordedBy,
		CreatedAt:     now,
	}
	s.disbs[cycleID] = append(s.disbs[cycleID], d)
	c.Disbursed += amount
	c.Beneficiaries += beneficiaries
	c.UpdatedAt = now
	return d, nil
}

func (s *InMemory) CloseCycle(ctx context.Context, id string) (Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return Cycle{}, ErrNotFound
	}
	if c.Status == CycleClosed {
		return *c, nil
	}
	c.Status = CycleClosed
	c.UpdatedAt = time.Now().UTC()
	return *c, nil
}

func (s *InMemory) ListDisbursements(ctx context.Context, cycleID string) ([]Disbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.cycles[cycleID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Disbursement, len(s.disbs[cycleID]))
	copy(out, s.disbs[cycleID])
	return out, nil
}
