// Package selection models cross-page record selection for bulk operations.
package selection

import (
	"errors"

	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// ErrCannotEscalate is returned when Escalate is called before every record on
// the page is selected, or when the page already holds every match.
var ErrCannotEscalate = errors.New("selection cannot be escalated")

// Selection is either ExplicitIDs or AllMatching.
type Selection interface {
	isSelection()
}

// ExplicitIDs selects exactly the listed records.
type ExplicitIDs struct {
	IDs []string
}

// AllMatching selects every record matching Filter at execution time.
// Total is the count the user saw when escalating.
type AllMatching struct {
	Filter entity.RecordFilter
	Total  int
}

func (ExplicitIDs) isSelection() {}
func (AllMatching) isSelection() {}

// Manager holds the selection state of one listing view.
type Manager struct {
	pageSize int
	filter   entity.RecordFilter
	pageIDs  []string
	total    int

	explicit    map[string]struct{}
	order       []string
	allMatching bool
}

func NewManager(pageSize int, filter entity.RecordFilter) *Manager {
	return &Manager{
		pageSize: pageSize,
		filter:   filter,
		explicit: make(map[string]struct{}),
	}
}

// ChangePage loads a new page. Explicit ids are dropped unless escalated.
func (m *Manager) ChangePage(ids []string, total int) {
	m.pageIDs = append([]string(nil), ids...)
	m.total = total
	if !m.allMatching {
		m.clearExplicit()
	}
}

// ChangeFilter switches the active filter. Explicit ids are dropped unless escalated.
func (m *Manager) ChangeFilter(filter entity.RecordFilter) {
	m.filter = filter
	if !m.allMatching {
		m.clearExplicit()
	}
}

// Filter returns the active filter.
func (m *Manager) Filter() entity.RecordFilter { return m.filter }

// Toggle flips one record. Deselecting while escalated falls back to the
// loaded page minus that record.
func (m *Manager) Toggle(id string) {
	if m.allMatching {
		m.allMatching = false
		m.clearExplicit()
		for _, p := range m.pageIDs {
			if p != id {
				m.add(p)
			}
		}
		return
	}
	if _, ok := m.explicit[id]; ok {
		m.remove(id)
		return
	}
	m.add(id)
}

// SelectPage selects or deselects every record on the loaded page.
func (m *Manager) SelectPage(selected bool) {
	if !selected {
		m.allMatching = false
		for _, id := range m.pageIDs {
			m.remove(id)
		}
		return
	}
	for _, id := range m.pageIDs {
		m.add(id)
	}
}

// AllOnPageSelected reports whether the loaded page is non-empty and fully selected.
func (m *Manager) AllOnPageSelected() bool {
	if len(m.pageIDs) == 0 {
		return false
	}
	if m.allMatching {
		return true
	}
	for _, id := range m.pageIDs {
		if _, ok := m.explicit[id]; !ok {
			return false
		}
	}
	return true
}

// CanEscalate reports whether "select all matching" should be offered.
func (m *Manager) CanEscalate() bool {
	return !m.allMatching && m.AllOnPageSelected() && m.total > m.pageSize
}

// Escalate promotes the page selection to every record matching the filter.
func (m *Manager) Escalate() error {
	if !m.CanEscalate() {
		return ErrCannotEscalate
	}
	m.allMatching = true
	return nil
}

// Clear resets both the explicit ids and the escalation.
func (m *Manager) Clear() {
	m.allMatching = false
	m.clearExplicit()
}

// Escalated reports whether every matching record is selected.
func (m *Manager) Escalated() bool { return m.allMatching }

// Count is the number of records a bulk operation would target.
func (m *Manager) Count() int {
	if m.allMatching {
		return m.total
	}
	return len(m.order)
}

func (m *Manager) IsSelected(id string) bool {
	if m.allMatching {
		return true
	}
	_, ok := m.explicit[id]
	return ok
}

// Selection snapshots the current state.
func (m *Manager) Selection() Selection {
	if m.allMatching {
		return AllMatching{Filter: m.filter, Total: m.total}
	}
	return ExplicitIDs{IDs: append([]string(nil), m.order...)}
}

func (m *Manager) add(id string) {
	if _, ok := m.explicit[id]; ok {
		return
	}
	m.explicit[id] = struct{}{}
	m.order = append(m.order, id)
}

func (m *Manager) remove(id string) {
	if _, ok := m.explicit[id]; !ok {
		return
	}
	delete(m.explicit, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) clearExplicit() {
	m.explicit = make(map[string]struct{})
	m.order = nil
}
