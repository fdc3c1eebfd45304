package parser

// SymbolTable maps symbol indexes from `$n name` records to symbol names.
// A later definition of the same index replaces the earlier one.
type SymbolTable struct {
	names map[int]string
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{names: make(map[int]string)}
}

// Define binds index to name.
func (t *SymbolTable) Define(index int, name string) {
	t.names[index] = name
}

// Lookup returns the name bound to index, if any.
func (t *SymbolTable) Lookup(index int) (string, bool) {
	name, ok := t.names[index]
	return name, ok
}

// Len returns the number of bound indexes.
func (t *SymbolTable) Len() int {
	return len(t.names)
}

// Snapshot copies the bindings.
func (t *SymbolTable) Snapshot() map[int]string {
	out := make(map[int]string, len(t.names))
	for k, v := range t.names {
		out[k] = v
	}
	return out
}
