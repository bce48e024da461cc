// Package memory is an in-process store. Writes are staged per unit of work
// and applied under a single short critical section on commit; per-task locks
// serialize units that touch the same task.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kazz187/auditflow/internal/audittrail"
	"github.com/kazz187/auditflow/internal/calendar"
	"github.com/kazz187/auditflow/internal/step"
	"github.com/kazz187/auditflow/internal/store"
	"github.com/kazz187/auditflow/internal/task"
	"github.com/kazz187/auditflow/internal/ticket"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu        sync.Mutex
	tasks     map[string]*task.Task
	tickets   map[string]string
	steps     map[string][]*step.Step
	audits    map[string][]*audittrail.Entry
	templates map[string]*step.Template
	hours     []calendar.BusinessHours
	holidays  map[string]calendar.Holiday
	sequences map[string]int

	lockMu    sync.Mutex
	taskLocks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		tasks:     make(map[string]*task.Task),
		tickets:   make(map[string]string),
		steps:     make(map[string][]*step.Step),
		audits:    make(map[string][]*audittrail.Entry),
		templates: make(map[string]*step.Template),
		holidays:  make(map[string]calendar.Holiday),
		sequences: make(map[string]int),
		taskLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) LoadCalendar(_ context.Context) ([]calendar.BusinessHours, []calendar.Holiday, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hours := make([]calendar.BusinessHours, len(s.hours))
	copy(hours, s.hours)
	holidays := make([]calendar.Holiday, 0, len(s.holidays))
	for _, h := range s.holidays {
		holidays = append(holidays, h)
	}
	sort.Slice(holidays, func(i, j int) bool { return holidays[i].Date.Before(holidays[j].Date) })
	return hours, holidays, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := newTx(s)
	defer t.release()
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) taskLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.taskLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.taskLocks[id] = l
	}
	return l
}

type tx struct {
	s      *Store
	locked map[string]*sync.Mutex

	tasks          map[string]*task.Task
	created        map[string]struct{}
	deleted        map[string]struct{}
	steps          map[string]*step.Step
	createdSteps   []*step.Step
	audits         []*audittrail.Entry
	templates      map[string]*step.Template
	hours          []calendar.BusinessHours
	addHolidays    map[string]calendar.Holiday
	removeHolidays map[string]struct{}
}

func newTx(s *Store) *tx {
	return &tx{
		s:              s,
		locked:         make(map[string]*sync.Mutex),
		tasks:          make(map[string]*task.Task),
		created:        make(map[string]struct{}),
		deleted:        make(map[string]struct{}),
		steps:          make(map[string]*step.Step),
		templates:      make(map[string]*step.Template),
		addHolidays:    make(map[string]calendar.Holiday),
		removeHolidays: make(map[string]struct{}),
	}
}

func (t *tx) release() {
	for _, l := range t.locked {
		l.Unlock()
	}
	t.locked = nil
}

func (t *tx) lock(id string) {
	if _, ok := t.locked[id]; ok {
		return
	}
	l := t.s.taskLock(id)
	l.Lock()
	t.locked[id] = l
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
}

func (t *tx) CreateTask(_ context.Context, tk *task.Task) error {
	t.s.mu.Lock()
	_, dup := t.s.tickets[tk.TicketID]
	_, exists := t.s.tasks[tk.ID]
	t.s.mu.Unlock()
	if dup {
		return fmt.Errorf("%s: %w", tk.TicketID, ticket.ErrDuplicateTicketID)
	}
	if exists {
		return fmt.Errorf("task %s already exists", tk.ID)
	}
	for _, staged := range t.tasks {
		if staged.TicketID == tk.TicketID {
			return fmt.Errorf("%s: %w", tk.TicketID, ticket.ErrDuplicateTicketID)
		}
	}
	t.lock(tk.ID)
	t.tasks[tk.ID] = tk.Clone()
	t.created[tk.ID] = struct{}{}
	delete(t.deleted, tk.ID)
	return nil
}

func (t *tx) GetTask(_ context.Context, id string) (*task.Task, error) {
	if _, ok := t.deleted[id]; ok {
		return nil, notFound("task", id)
	}
	if staged, ok := t.tasks[id]; ok {
		return staged.Clone(), nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tk, ok := t.s.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	return tk.Clone(), nil
}

func (t *tx) GetTaskForUpdate(ctx context.Context, id string) (*task.Task, error) {
	t.lock(id)
	return t.GetTask(ctx, id)
}

func (t *tx) UpdateTask(ctx context.Context, tk *task.Task) error {
	if _, err := t.GetTask(ctx, tk.ID); err != nil {
		return err
	}
	t.tasks[tk.ID] = tk.Clone()
	return nil
}

func (t *tx) DeleteTask(ctx context.Context, id string) error {
	if _, err := t.GetTaskForUpdate(ctx, id); err != nil {
		return err
	}
	delete(t.tasks, id)
	delete(t.created, id)
	t.deleted[id] = struct{}{}
	return nil
}

func (t *tx) ListTasks(ctx context.Context, f store.TaskFilter) ([]*task.Task, int, error) {
	t.s.mu.Lock()
	ids := make(map[string]struct{}, len(t.s.tasks)+len(t.tasks))
	for id := range t.s.tasks {
		ids[id] = struct{}{}
	}
	t.s.mu.Unlock()
	for id := range t.tasks {
		ids[id] = struct{}{}
	}

	var all []*task.Task
	for id := range ids {
		tk, err := t.GetTask(ctx, id)
		if err != nil {
			continue
		}
		if f.Status != "" && tk.Status != f.Status {
			continue
		}
		if f.AssigneeID != "" && tk.AssigneeID != f.AssigneeID {
			continue
		}
		if f.AuditorID != "" && tk.AuditorID != f.AuditorID {
			continue
		}
		all = append(all, tk)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].TicketID > all[j].TicketID
	})

	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (t *tx) CreateSteps(_ context.Context, steps []*step.Step) error {
	for _, st := range steps {
		for _, existing := range t.createdSteps {
			if existing.TaskID == st.TaskID && existing.Order == st.Order {
				return fmt.Errorf("step %d of task %s already exists", st.Order, st.TaskID)
			}
		}
		t.s.mu.Lock()
		committed := t.s.steps[st.TaskID]
		t.s.mu.Unlock()
		for _, existing := range committed {
			if existing.Order == st.Order {
				return fmt.Errorf("step %d of task %s already exists", st.Order, st.TaskID)
			}
		}
		t.createdSteps = append(t.createdSteps, st.Clone())
	}
	return nil
}

func (t *tx) ListSteps(_ context.Context, taskID string) ([]*step.Step, error) {
	if _, ok := t.deleted[taskID]; ok {
		return nil, nil
	}
	t.s.mu.Lock()
	committed := t.s.steps[taskID]
	out := make([]*step.Step, 0, len(committed))
	for _, st := range committed {
		out = append(out, st.Clone())
	}
	t.s.mu.Unlock()
	for _, st := range t.createdSteps {
		if st.TaskID == taskID {
			out = append(out, st.Clone())
		}
	}
	for i, st := range out {
		if staged, ok := t.steps[st.ID]; ok {
			out[i] = staged.Clone()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (t *tx) UpdateStep(ctx context.Context, st *step.Step) error {
	steps, err := t.ListSteps(ctx, st.TaskID)
	if err != nil {
		return err
	}
	for _, existing := range steps {
		if existing.ID == st.ID {
			t.steps[st.ID] = st.Clone()
			return nil
		}
	}
	return notFound("step", st.ID)
}

func (t *tx) AppendAudit(_ context.Context, e *audittrail.Entry) error {
	c := *e
	t.audits = append(t.audits, &c)
	return nil
}

func (t *tx) ListAudit(_ context.Context, taskID string) ([]*audittrail.Entry, error) {
	t.s.mu.Lock()
	committed := t.s.audits[taskID]
	out := make([]*audittrail.Entry, 0, len(committed))
	for _, e := range committed {
		c := *e
		out = append(out, &c)
	}
	t.s.mu.Unlock()
	for _, e := range t.audits {
		if e.TaskID == taskID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *tx) NextTicketSequence(_ context.Context, day string) (int, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.sequences[day]++
	return t.s.sequences[day], nil
}

func (t *tx) ListTemplates(_ context.Context) ([]*step.Template, error) {
	t.s.mu.Lock()
	merged := make(map[string]*step.Template, len(t.s.templates))
	for id, tpl := range t.s.templates {
		c := *tpl
		merged[id] = &c
	}
	t.s.mu.Unlock()
	for id, tpl := range t.templates {
		c := *tpl
		merged[id] = &c
	}
	out := make([]*step.Template, 0, len(merged))
	for _, tpl := range merged {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) GetTemplate(ctx context.Context, id string) (*step.Template, error) {
	templates, err := t.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	for _, tpl := range templates {
		if tpl.ID == id {
			return tpl, nil
		}
	}
	return nil, notFound("step template", id)
}

func (t *tx) SaveTemplate(_ context.Context, tpl *step.Template) error {
	c := *tpl
	t.templates[tpl.ID] = &c
	return nil
}

func (t *tx) SetBusinessHours(_ context.Context, hours []calendar.BusinessHours) error {
	if err := calendar.Validate(hours); err != nil {
		return err
	}
	t.hours = make([]calendar.BusinessHours, len(hours))
	copy(t.hours, hours)
	return nil
}

func (t *tx) AddHoliday(_ context.Context, h calendar.Holiday) error {
	key := h.Date.Format(calendar.DateLayout)
	delete(t.removeHolidays, key)
	t.addHolidays[key] = h
	return nil
}

func (t *tx) RemoveHoliday(_ context.Context, date string) error {
	t.s.mu.Lock()
	_, committed := t.s.holidays[date]
	t.s.mu.Unlock()
	_, staged := t.addHolidays[date]
	if !committed && !staged {
		return notFound("holiday", date)
	}
	delete(t.addHolidays, date)
	t.removeHolidays[date] = struct{}{}
	return nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.created {
		tk := t.tasks[id]
		if owner, ok := s.tickets[tk.TicketID]; ok && owner != id {
			return fmt.Errorf("%s: %w", tk.TicketID, ticket.ErrDuplicateTicketID)
		}
	}
	for _, st := range t.createdSteps {
		for _, existing := range s.steps[st.TaskID] {
			if existing.Order == st.Order {
				return fmt.Errorf("step %d of task %s already exists", st.Order, st.TaskID)
			}
		}
	}

	for id := range t.deleted {
		if tk, ok := s.tasks[id]; ok {
			delete(s.tickets, tk.TicketID)
		}
		delete(s.tasks, id)
		delete(s.steps, id)
		delete(s.audits, id)
	}
	for id, tk := range t.tasks {
		s.tasks[id] = tk
		s.tickets[tk.TicketID] = id
	}
	for _, st := range t.createdSteps {
		if _, gone := t.deleted[st.TaskID]; gone {
			continue
		}
		if staged, ok := t.steps[st.ID]; ok {
			st = staged
			delete(t.steps, st.ID)
		}
		s.steps[st.TaskID] = append(s.steps[st.TaskID], st)
	}
	for id, staged := range t.steps {
		list := s.steps[staged.TaskID]
		for i := range list {
			if list[i].ID == id {
				list[i] = staged
			}
		}
	}
	for taskID, list := range s.steps {
		sort.Slice(list, func(i, j int) bool { return list[i].Order < list[j].Order })
		s.steps[taskID] = list
	}
	for _, e := range t.audits {
		if _, gone := t.deleted[e.TaskID]; gone {
			continue
		}
		s.audits[e.TaskID] = append(s.audits[e.TaskID], e)
	}
	for id, tpl := range t.templates {
		s.templates[id] = tpl
	}
	if t.hours != nil {
		s.hours = t.hours
	}
	for key := range t.removeHolidays {
		delete(s.holidays, key)
	}
	for key, h := range t.addHolidays {
		s.holidays[key] = h
	}
	return nil
}
