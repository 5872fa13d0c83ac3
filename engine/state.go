package engine

import (
	"github.com/m4xw311/puck/protocol"
)

// Lifetime decides when a variable or array is reset.
type Lifetime string

const (
	// LifetimeIteration values are replaced every batch.
	LifetimeIteration Lifetime = "iteration"
	// LifetimeExecution values persist for the whole run.
	LifetimeExecution Lifetime = "execution"
)

// VariableDef declares a variable. Iteration variables are assigned from
// records whose delimiter equals Name.
type VariableDef struct {
	Name     string
	Lifetime Lifetime
}

// ArrayDef declares a named array. Arrays with a Delimiter collect matching
// records during classification; arrays without one change only through
// responders.
type ArrayDef struct {
	Name      string
	Delimiter string
	Lifetime  Lifetime
}

// Variable holds the payload text of the last matching record, or a value
// set by a responder.
type Variable struct {
	Name     string
	Lifetime Lifetime
	Value    string
	Set      bool
}

// Array is an ordered list of records.
type Array struct {
	Name      string
	Delimiter string
	Lifetime  Lifetime
	Values    []protocol.Record
}

// Len returns the number of values.
func (a *Array) Len() int { return len(a.Values) }

// Texts returns each value's trimmed payload text.
func (a *Array) Texts() []string {
	out := make([]string, len(a.Values))
	for i, v := range a.Values {
		out[i] = v.Text()
	}
	return out
}

// Front returns the first value.
func (a *Array) Front() (protocol.Record, bool) {
	if len(a.Values) == 0 {
		return protocol.Record{}, false
	}
	return a.Values[0], true
}

// PopFront removes and returns the first value.
func (a *Array) PopFront() (protocol.Record, bool) {
	rec, ok := a.Front()
	if ok {
		a.Values = a.Values[1:]
	}
	return rec, ok
}

// Append adds values at the back.
func (a *Array) Append(recs ...protocol.Record) {
	a.Values = append(a.Values, recs...)
}

// Reset empties the array.
func (a *Array) Reset() { a.Values = nil }

// Store is the run's variables and arrays. It is rebuilt from the
// declarations whenever a run starts.
type Store struct {
	vars   []*Variable
	arrays []*Array
}

func newStore(vars []VariableDef, arrays []ArrayDef) *Store {
	s := &Store{}
	for _, d := range vars {
		s.vars = append(s.vars, &Variable{Name: d.Name, Lifetime: d.Lifetime})
	}
	for _, d := range arrays {
		s.arrays = append(s.arrays, &Array{Name: d.Name, Delimiter: d.Delimiter, Lifetime: d.Lifetime})
	}
	return s
}

// Variable looks a variable up by name.
func (s *Store) Variable(name string) *Variable {
	for _, v := range s.vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Array looks an array up by name.
func (s *Store) Array(name string) *Array {
	for _, a := range s.arrays {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Arrays returns every array in declaration order.
func (s *Store) Arrays() []*Array { return s.arrays }

// Variables returns every variable in declaration order.
func (s *Store) Variables() []*Variable { return s.vars }

// SetVariable assigns a value through responder logic.
func (s *Store) SetVariable(name, value string) bool {
	v := s.Variable(name)
	if v == nil {
		return false
	}
	v.Value, v.Set = value, true
	return true
}

// classify routes a fresh batch into delimited arrays. Iteration arrays are
// replaced by the matching records, execution arrays append them.
func (s *Store) classify(batch []protocol.Record) {
	for _, a := range s.arrays {
		if a.Delimiter == "" {
			continue
		}
		var matched []protocol.Record
		for _, rec := range batch {
			if rec.Delimiter == a.Delimiter {
				matched = append(matched, rec)
			}
		}
		if a.Lifetime == LifetimeIteration {
			a.Values = matched
			continue
		}
		a.Append(matched...)
	}
}

// assign updates the iteration variable named by rec's delimiter.
func (s *Store) assign(rec protocol.Record) {
	if rec.IsTitle() {
		return
	}
	v := s.Variable(rec.Delimiter)
	if v == nil || v.Lifetime != LifetimeIteration {
		return
	}
	v.Value, v.Set = rec.Text(), true
}
