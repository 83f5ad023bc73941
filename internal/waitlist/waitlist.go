package waitlist

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/model"
)

// Service keeps one FIFO queue per machine type. It never reserves machines:
// a freed machine only produces an opportunity for the head of the queue.
//
// Mutations publish while holding mu so waitlist events follow commit order.
// The bus may deliver other queued events on that goroutine, so Handle reads
// the queue heads under frontMu only.
type Service struct {
	mu     sync.Mutex
	queues map[model.MachineType][]model.WaitlistItem

	frontMu sync.RWMutex
	fronts  map[model.MachineType]model.WaitlistItem

	pub event.Publisher
	now func() time.Time
	log *zap.Logger
}

// New creates an empty waitlist.
func New(pub event.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		queues: make(map[model.MachineType][]model.WaitlistItem),
		fronts: make(map[model.MachineType]model.WaitlistItem),
		pub:    pub,
		now:    time.Now,
		log:    log,
	}
}

// Join appends requester to the queue for typ. Joining twice returns the
// existing entry.
func (s *Service) Join(typ model.MachineType, requester identity.Identity) (model.WaitlistItem, error) {
	if _, ok := model.ParseMachineType(string(typ)); !ok {
		return model.WaitlistItem{}, apperr.New(apperr.ErrInvalidMachineType, "unknown machine type %q", typ)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[typ]
	for i, item := range queue {
		if item.UserID == requester.UserID {
			item.Position = i + 1
			return item, nil
		}
	}

	item := model.WaitlistItem{
		ID:       uuid.NewString(),
		UserID:   requester.UserID,
		Type:     typ,
		JoinedAt: s.now(),
	}
	s.queues[typ] = append(queue, item)
	s.refreshFront(typ)
	item.Position = len(s.queues[typ])

	s.pub.Publish(event.Event{
		Kind:        event.WaitlistJoined,
		At:          item.JoinedAt,
		Actor:       requester.UserID,
		MachineType: typ,
		Item:        &item,
		Waitlist:    s.listLocked(typ),
	})
	return item, nil
}

// Leave removes target, a user id or an item id, from the queue for typ.
// Only the entry's owner or an administrator may remove it.
func (s *Service) Leave(typ model.MachineType, actor identity.Identity, target string) (model.WaitlistItem, error) {
	if _, ok := model.ParseMachineType(string(typ)); !ok {
		return model.WaitlistItem{}, apperr.New(apperr.ErrInvalidMachineType, "unknown machine type %q", typ)
	}
	if target == "" {
		target = actor.UserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[typ]
	idx := -1
	for i, item := range queue {
		if item.ID == target || item.UserID == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.WaitlistItem{}, apperr.New(apperr.ErrWaitlistItemNotFound, "%q is not waiting for a %s", target, typ)
	}
	item := queue[idx]
	if item.UserID != actor.UserID && !actor.Admin {
		return model.WaitlistItem{}, apperr.New(apperr.ErrNotOwner, "waitlist entry belongs to another user")
	}

	s.queues[typ] = append(queue[:idx:idx], queue[idx+1:]...)
	s.refreshFront(typ)
	item.Position = 0

	s.pub.Publish(event.Event{
		Kind:        event.WaitlistLeft,
		At:          s.now(),
		Actor:       actor.UserID,
		MachineType: typ,
		Item:        &item,
		Waitlist:    s.listLocked(typ),
	})
	return item, nil
}

// Restore replaces every queue with items, taken in join order. Entries of an
// unknown type and repeat entries for a user already queued are skipped.
// Nothing is published.
func (s *Service) Restore(items []model.WaitlistItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queues = make(map[model.MachineType][]model.WaitlistItem)
	for _, item := range items {
		if _, ok := model.ParseMachineType(string(item.Type)); !ok {
			s.log.Warn("skipping stored waitlist item", zap.String("id", item.ID), zap.String("machine_type", string(item.Type)))
			continue
		}
		if s.queuedLocked(item.Type, item.UserID) {
			continue
		}
		item.Position = 0
		s.queues[item.Type] = append(s.queues[item.Type], item)
	}
	for _, typ := range model.MachineTypes {
		s.refreshFront(typ)
	}
}

// Snapshot returns every non-empty queue with 1-based positions.
func (s *Service) Snapshot() map[model.MachineType][]model.WaitlistItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.MachineType][]model.WaitlistItem, len(s.queues))
	for typ, queue := range s.queues {
		if len(queue) > 0 {
			out[typ] = s.listLocked(typ)
		}
	}
	return out
}

// List returns the queue for typ with 1-based positions.
func (s *Service) List(typ model.MachineType) []model.WaitlistItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(typ)
}

// PeekFront returns the head of the queue without removing it.
func (s *Service) PeekFront(typ model.MachineType) (model.WaitlistItem, bool) {
	s.frontMu.RLock()
	defer s.frontMu.RUnlock()
	item, ok := s.fronts[typ]
	return item, ok
}

// Position returns the 1-based position of userID, or 0 when absent.
func (s *Service) Position(typ model.MachineType, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.queues[typ] {
		if item.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// Handle implements event.Handler. A freed machine is offered to whoever is
// first in line for its type.
func (s *Service) Handle(e event.Event) {
	if e.Kind != event.MachineFreed {
		return
	}
	front, ok := s.PeekFront(e.MachineType)
	if !ok {
		return
	}
	s.log.Info("machine available for waitlist head",
		zap.Int64("machine_id", e.MachineID),
		zap.String("user_id", front.UserID))
	s.pub.Publish(event.Event{
		Kind:        event.WaitlistOpportunity,
		At:          s.now(),
		Actor:       identity.System.UserID,
		Recipient:   front.UserID,
		MachineID:   e.MachineID,
		MachineType: e.MachineType,
		Machines:    e.Machines,
		Item:        &front,
	})
}

// refreshFront must be called with mu held after every queue change.
func (s *Service) refreshFront(typ model.MachineType) {
	s.frontMu.Lock()
	defer s.frontMu.Unlock()
	queue := s.queues[typ]
	if len(queue) == 0 {
		delete(s.fronts, typ)
		return
	}
	front := queue[0]
	front.Position = 1
	s.fronts[typ] = front
}

func (s *Service) listLocked(typ model.MachineType) []model.WaitlistItem {
	queue := s.queues[typ]
	out := make([]model.WaitlistItem, len(queue))
	for i, item := range queue {
		item.Position = i + 1
		out[i] = item
	}
	return out
}

func (s *Service) queuedLocked(typ model.MachineType, userID string) bool {
	for _, item := range s.queues[typ] {
		if item.UserID == userID {
			return true
		}
	}
	return false
}
