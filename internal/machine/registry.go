package machine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/event"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/model"
)

// Registry is the single writer for every machine. All operations hold one
// mutex and publish their events before releasing it, so the bus sees events
// in commit order.
type Registry struct {
	mu       sync.Mutex
	machines map[int64]*model.Machine
	order    []int64
	catalog  *Catalog
	pub      event.Publisher
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for event and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty registry.
func NewRegistry(catalog *Catalog, pub event.Publisher, opts ...Option) *Registry {
	r := &Registry{
		machines: make(map[int64]*model.Machine),
		catalog:  catalog,
		pub:      pub,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provisioned returns a fresh pool: washers take ids 1..washers, dryers follow.
func Provisioned(washers, dryers int) []model.Machine {
	machines := make([]model.Machine, 0, washers+dryers)
	var id int64
	for i := 0; i < washers; i++ {
		id++
		machines = append(machines, model.Machine{ID: id, Type: model.Washer, Status: model.StatusAvailable, Enabled: true})
	}
	for i := 0; i < dryers; i++ {
		id++
		machines = append(machines, model.Machine{ID: id, Type: model.Dryer, Status: model.StatusAvailable, Enabled: true})
	}
	return machines
}

// Load replaces the registry contents. It is meant for boot, before any
// command runs, and rejects machines that violate the occupancy invariants.
func (r *Registry) Load(machines []model.Machine) error {
	loaded := make(map[int64]*model.Machine, len(machines))
	order := make([]int64, 0, len(machines))
	for i := range machines {
		m := machines[i].Clone()
		if err := m.CheckInvariants(); err != nil {
			return fmt.Errorf("load machines: %w", err)
		}
		if _, dup := loaded[m.ID]; dup {
			return fmt.Errorf("load machines: duplicate id %d", m.ID)
		}
		loaded[m.ID] = &m
		order = append(order, m.ID)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines = loaded
	r.order = order
	return nil
}

// Catalog returns the category catalog used to validate Start.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Start begins a cycle for requester.
func (r *Registry) Start(id int64, requester identity.Identity, category string) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	if !m.Enabled || !can(m, EventStart) {
		return model.Machine{}, apperr.New(apperr.ErrNotAvailable, "machine %d is %s", id, m.Status)
	}
	d, ok := r.catalog.Duration(m.Type, category)
	if !ok {
		return model.Machine{}, apperr.New(apperr.ErrInvalidCategory, "%q is not a %s category", category, m.Type)
	}

	if err := transition(m, EventStart); err != nil {
		return model.Machine{}, fmt.Errorf("start machine %d: %w", id, err)
	}
	m.CurrentUser = requester.UserID
	m.Category = category
	m.TimeLeftSeconds = int(d / time.Second)

	snap := m.Clone()
	r.publish(event.Event{
		Kind:        event.MachineStarted,
		Actor:       requester.UserID,
		MachineID:   id,
		MachineType: m.Type,
		Machines:    []model.Machine{snap},
		Details:     fmt.Sprintf("category=%s duration=%s", category, d),
	})
	return snap, nil
}

// Cancel aborts a running cycle. The owner or an administrator may cancel.
func (r *Registry) Cancel(id int64, requester identity.Identity) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	if !can(m, EventCancel) {
		return model.Machine{}, apperr.New(apperr.ErrInvalidState, "machine %d is %s", id, m.Status)
	}
	if m.CurrentUser != requester.UserID && !requester.Admin {
		return model.Machine{}, apperr.New(apperr.ErrNotOwner, "machine %d belongs to another user", id)
	}

	owner := m.CurrentUser
	if err := transition(m, EventCancel); err != nil {
		return model.Machine{}, fmt.Errorf("cancel machine %d: %w", id, err)
	}
	clearOccupancy(m)

	snap := m.Clone()
	r.publish(event.Event{
		Kind:        event.MachineCancelled,
		Actor:       requester.UserID,
		MachineID:   id,
		MachineType: m.Type,
		Machines:    []model.Machine{snap},
		Details:     "owner=" + owner,
	})
	return snap, nil
}

// EndCycle force-completes a running cycle. Administrators only.
func (r *Registry) EndCycle(id int64, requester identity.Identity) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !requester.Admin {
		return model.Machine{}, apperr.New(apperr.ErrAdminRequired, "ending a cycle early requires administrative capability")
	}
	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	if !can(m, EventComplete) {
		return model.Machine{}, apperr.New(apperr.ErrInvalidState, "machine %d is %s", id, m.Status)
	}

	r.complete(m)
	snap := m.Clone()
	r.publish(event.Event{
		Kind:        event.MachineCompleted,
		Actor:       requester.UserID,
		Recipient:   m.CurrentUser,
		MachineID:   id,
		MachineType: m.Type,
		Machines:    []model.Machine{snap},
		Details:     "ended early",
	})
	return snap, nil
}

// AwaitCollection moves a completed machine to awaiting_collection. Owner only.
func (r *Registry) AwaitCollection(id int64, requester identity.Identity) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	if !can(m, EventAwait) {
		return model.Machine{}, apperr.New(apperr.ErrInvalidState, "machine %d is %s", id, m.Status)
	}
	if m.CurrentUser != requester.UserID {
		return model.Machine{}, apperr.New(apperr.ErrNotOwner, "machine %d belongs to another user", id)
	}

	if err := transition(m, EventAwait); err != nil {
		return model.Machine{}, fmt.Errorf("await collection on machine %d: %w", id, err)
	}

	snap := m.Clone()
	r.publish(event.Event{
		Kind:        event.MachineAwaitingCollection,
		Actor:       requester.UserID,
		MachineID:   id,
		MachineType: m.Type,
		Machines:    []model.Machine{snap},
	})
	return snap, nil
}

// Collect frees a completed machine. Only the owner can collect.
func (r *Registry) Collect(id int64, requester identity.Identity) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	if !can(m, EventCollect) {
		return model.Machine{}, apperr.New(apperr.ErrInvalidState, "machine %d is %s", id, m.Status)
	}
	if m.CurrentUser != requester.UserID {
		return model.Machine{}, apperr.New(apperr.ErrNotOwner, "machine %d belongs to another user", id)
	}

	if err := transition(m, EventCollect); err != nil {
		return model.Machine{}, fmt.Errorf("collect machine %d: %w", id, err)
	}
	clearOccupancy(m)

	snap := m.Clone()
	r.publish(event.Event{
		Kind:        event.MachineFreed,
		Actor:       requester.UserID,
		MachineID:   id,
		MachineType: m.Type,
		Machines:    []model.Machine{snap},
	})
	return snap, nil
}

// SetEnabled toggles a machine in or out of service. Administrators only.
// Disabling evicts any occupant; setting the current value changes nothing.
func (r *Registry) SetEnabled(id int64, enabled bool, actor identity.Identity) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !actor.Admin {
		return model.Machine{}, apperr.New(apperr.ErrAdminRequired, "enabling or disabling a machine requires administrative capability")
	}
	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	if m.Enabled == enabled {
		return m.Clone(), nil
	}
	if enabled {
		r.enable(m)
		snap := m.Clone()
		r.publish(event.Event{
			Kind:        event.MachineEnabled,
			Actor:       actor.UserID,
			MachineID:   id,
			MachineType: m.Type,
			Machines:    []model.Machine{snap},
		})
		return snap, nil
	}

	evicted := r.disable(m)
	snap := m.Clone()
	r.publish(r.disabledEvent(snap, actor.UserID, evicted, ""))
	return snap, nil
}

// ApplyTick advances every running cycle by one second. It reports whether
// any machine is still counting down afterwards.
func (r *Registry) ApplyTick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		ticked    []model.Machine
		completed []*model.Machine
		active    bool
	)
	for _, id := range r.order {
		m := r.machines[id]
		if m.Status != model.StatusInUse || m.TimeLeftSeconds <= 0 {
			continue
		}
		m.TimeLeftSeconds--
		if m.TimeLeftSeconds == 0 {
			r.complete(m)
			completed = append(completed, m)
		} else {
			active = true
		}
		ticked = append(ticked, m.Clone())
	}
	if len(ticked) == 0 {
		return false
	}

	events := make([]event.Event, 0, 1+len(completed))
	events = append(events, event.Event{Kind: event.MachineTicked, At: r.now(), Actor: identity.System.UserID, Machines: ticked})
	for _, m := range completed {
		events = append(events, event.Event{
			Kind:        event.MachineCompleted,
			At:          r.now(),
			Actor:       identity.System.UserID,
			Recipient:   m.CurrentUser,
			MachineID:   m.ID,
			MachineType: m.Type,
			Machines:    []model.Machine{m.Clone()},
			Details:     "cycle finished",
		})
	}
	r.pub.Publish(events...)
	return active
}

// FaultOutcome describes the effect of a recorded fault report.
type FaultOutcome struct {
	Machine      model.Machine
	OpenReports  int
	AutoDisabled bool
}

// AddFaultReport appends report to the machine. When the open count reaches
// threshold on an enabled machine, the machine is disabled by the system actor.
func (r *Registry) AddFaultReport(id int64, report model.FaultReport, threshold int) (FaultOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.lookup(id)
	if err != nil {
		return FaultOutcome{}, err
	}
	report.MachineID = id
	if report.CreatedAt.IsZero() {
		report.CreatedAt = r.now()
	}
	held := report
	held.PhotoData = ""
	m.FaultReports = append(m.FaultReports, held)
	open := len(m.FaultReports)

	r.publish(event.Event{
		Kind:        event.FaultReported,
		Actor:       report.Reporter,
		MachineID:   id,
		MachineType: m.Type,
		Machines:    []model.Machine{m.Clone()},
		Fault:       &report,
		OpenFaults:  open,
		Details:     report.Description,
	})

	out := FaultOutcome{OpenReports: open}
	if open >= threshold && m.Enabled {
		evicted := r.disable(m)
		note := fmt.Sprintf("auto-disabled: %d fault reports", open)
		m.Issues = append(m.Issues, model.MaintenanceNote{
			MachineID: id,
			Note:      note,
			Actor:     identity.System.UserID,
			CreatedAt: r.now(),
		})
		r.log.Warn("machine auto-disabled", zap.Int64("machine_id", id), zap.Int("open_reports", open))
		r.publish(r.disabledEvent(m.Clone(), identity.System.UserID, evicted, note))
		out.AutoDisabled = true
	}
	out.Machine = m.Clone()
	return out, nil
}

// RecordMaintenance appends an issue note, stamps the maintenance time and
// clears every open fault report.
func (r *Registry) RecordMaintenance(id int64, note model.MaintenanceNote) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	now := r.now()
	note.MachineID = id
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	m.Issues = append(m.Issues, note)
	m.LastMaintenance = &now
	cleared := len(m.FaultReports)
	m.FaultReports = nil

	snap := m.Clone()
	r.publish(event.Event{
		Kind:        event.MaintenanceRecorded,
		Actor:       note.Actor,
		MachineID:   id,
		MachineType: m.Type,
		Machines:    []model.Machine{snap},
		OpenFaults:  0,
		Details:     fmt.Sprintf("%s (cleared %d fault reports)", note.Note, cleared),
	})
	return snap, nil
}

// Snapshot returns copies of every machine ordered by id.
func (r *Registry) Snapshot() []model.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Machine, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.machines[id].Clone())
	}
	return out
}

// Get returns a copy of one machine.
func (r *Registry) Get(id int64) (model.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.lookup(id)
	if err != nil {
		return model.Machine{}, err
	}
	return m.Clone(), nil
}

// HasActive reports whether any machine is counting down.
func (r *Registry) HasActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.machines {
		if m.Status == model.StatusInUse && m.TimeLeftSeconds > 0 {
			return true
		}
	}
	return false
}

func (r *Registry) lookup(id int64) (*model.Machine, error) {
	m, ok := r.machines[id]
	if !ok {
		return nil, apperr.New(apperr.ErrMachineNotFound, "machine %d does not exist", id)
	}
	return m, nil
}

// complete finishes the cycle in place; the owner is kept until collection.
func (r *Registry) complete(m *model.Machine) {
	if err := transition(m, EventComplete); err != nil {
		r.log.Error("complete transition rejected", zap.Int64("machine_id", m.ID), zap.Error(err))
		return
	}
	m.TimeLeftSeconds = 0
	m.TotalCycles++
}

func (r *Registry) disable(m *model.Machine) (evicted string) {
	evicted = m.CurrentUser
	if err := transition(m, EventDisable); err != nil {
		r.log.Error("disable transition rejected", zap.Int64("machine_id", m.ID), zap.Error(err))
		return ""
	}
	m.Enabled = false
	clearOccupancy(m)
	return evicted
}

func (r *Registry) enable(m *model.Machine) {
	if err := transition(m, EventEnable); err != nil {
		r.log.Error("enable transition rejected", zap.Int64("machine_id", m.ID), zap.Error(err))
		return
	}
	m.Enabled = true
}

func (r *Registry) disabledEvent(snap model.Machine, actor, evicted, details string) event.Event {
	return event.Event{
		Kind:        event.MachineDisabled,
		Actor:       actor,
		MachineID:   snap.ID,
		MachineType: snap.Type,
		Machines:    []model.Machine{snap},
		Evicted:     evicted,
		Details:     details,
	}
}

func (r *Registry) publish(e event.Event) {
	if e.At.IsZero() {
		e.At = r.now()
	}
	r.pub.Publish(e)
}

func clearOccupancy(m *model.Machine) {
	m.CurrentUser = ""
	m.Category = ""
	m.TimeLeftSeconds = 0
}
