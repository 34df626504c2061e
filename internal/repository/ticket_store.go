package repository

import (
	"errors"
	"sync"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
)

var ErrTicketNotFound = errors.New("ticket not found")

// TicketStore holds live search tickets in memory. Tickets are transient:
// they die on cancellation, expiry, or a successful lock, so nothing here
// touches durable storage. Every status transition runs under the owning
// ticket's lock so a cancel racing a match-found resolves deterministically.
type TicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*ticketEntry
}

type ticketEntry struct {
	mu     sync.Mutex
	ticket *models.SearchTicket
}

func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets: make(map[string]*ticketEntry),
	}
}

// Put registers a ticket.
func (s *TicketStore) Put(t *models.SearchTicket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = &ticketEntry{ticket: t}
}

// Get returns a snapshot copy of the ticket.
func (s *TicketStore) Get(id string) (*models.SearchTicket, error) {
	s.mu.RLock()
	entry, ok := s.tickets[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrTicketNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	snapshot := *entry.ticket
	return &snapshot, nil
}

// WithTicket runs fn under the ticket's lock. fn sees and may mutate the live
// ticket; this is the only way to transition status.
func (s *TicketStore) WithTicket(id string, fn func(t *models.SearchTicket) error) error {
	s.mu.RLock()
	entry, ok := s.tickets[id]
	s.mu.RUnlock()

	if !ok {
		return ErrTicketNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.ticket)
}

// Remove destroys the ticket.
func (s *TicketStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, id)
}

// ListByMode returns snapshot copies of every ticket in the given mode.
func (s *TicketStore) ListByMode(mode string) []*models.SearchTicket {
	s.mu.RLock()
	entries := make([]*ticketEntry, 0, len(s.tickets))
	for _, entry := range s.tickets {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	var out []*models.SearchTicket
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.ticket.Mode == mode {
			snapshot := *entry.ticket
			out = append(out, &snapshot)
		}
		entry.mu.Unlock()
	}
	return out
}

// PlayerConflictError reports which party member already holds a live ticket.
type PlayerConflictError struct {
	PlayerID string
	TicketID string
}

func (e *PlayerConflictError) Error() string {
	return "player " + e.PlayerID + " already holds ticket " + e.TicketID
}

// PutExclusive registers a ticket unless any of its party members already
// belongs to a live ticket. Check and insert happen under one store lock, so
// two concurrent enqueues for the same player cannot both land. Party
// membership never changes after creation, so the scan skips entry locks.
func (s *TicketStore) PutExclusive(t *models.SearchTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.tickets {
		for _, existing := range entry.ticket.PartyIDs {
			for _, pid := range t.PartyIDs {
				if pid == existing {
					return &PlayerConflictError{PlayerID: pid, TicketID: entry.ticket.ID}
				}
			}
		}
	}
	s.tickets[t.ID] = &ticketEntry{ticket: t}
	return nil
}

// Count reports the number of live tickets per mode.
func (s *TicketStore) Count() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, entry := range s.tickets {
		counts[entry.ticket.Mode]++
	}
	return counts
}
