package conflict

import (
	"errors"
	"fmt"

	"github.com/joseph-ayodele/steps-tracker/constants"
)

// ErrUnknownRow is returned when a table operation names an item not in the table.
var ErrUnknownRow = errors.New("no conflict row for item")

// Row is one line of the bulk resolution table.
type Row struct {
	Case    *Case
	Checked bool
}

// Table drives bulk conflict resolution. Rows keep insertion order.
type Table struct {
	rows  []*Row
	index map[string]int
}

func NewTable(cases []*Case) *Table {
	t := &Table{index: make(map[string]int, len(cases))}
	for _, c := range cases {
		if _, dup := t.index[c.ItemID]; dup {
			continue
		}
		t.index[c.ItemID] = len(t.rows)
		t.rows = append(t.rows, &Row{Case: c})
	}
	return t
}

func (t *Table) row(itemID string) (*Row, error) {
	i, ok := t.index[itemID]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownRow, itemID)
	}
	return t.rows[i], nil
}

// Rows returns a snapshot of the table.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = *r
	}
	return out
}

// Override sets one row's resolution.
func (t *Table) Override(itemID string, r constants.Resolution) error {
	row, err := t.row(itemID)
	if err != nil {
		return err
	}
	return row.Case.SetResolution(r)
}

func (t *Table) Check(itemID string) error   { return t.setChecked(itemID, true) }
func (t *Table) Uncheck(itemID string) error { return t.setChecked(itemID, false) }

func (t *Table) setChecked(itemID string, v bool) error {
	row, err := t.row(itemID)
	if err != nil {
		return err
	}
	row.Checked = v
	return nil
}

// CheckAll sets every row's checkbox.
func (t *Table) CheckAll(v bool) {
	for _, r := range t.rows {
		r.Checked = v
	}
}

// BulkApply overwrites the resolution of every checked row and returns how many changed.
func (t *Table) BulkApply(r constants.Resolution) (int, error) {
	if !r.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidResolution, r)
	}
	n := 0
	for _, row := range t.rows {
		if !row.Checked {
			continue
		}
		_ = row.Case.SetResolution(r)
		n++
	}
	return n, nil
}

// Cases returns the cases in row order.
func (t *Table) Cases() []*Case {
	out := make([]*Case, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Case
	}
	return out
}
