package spreadsheet

// StringTable interns the text literals stored in a grid. each id carries a
// reference count so a string is dropped once no cell holds it. not safe
// for concurrent use; the owning grid serializes access.
type StringTable struct {
	strings    map[string]uint32
	reverseMap map[uint32]string
	refCounts  map[uint32]int
	nextID     uint32
}

// NewStringTable creates a new string table
func NewStringTable() *StringTable {
	return &StringTable{
		strings:    make(map[string]uint32),
		reverseMap: make(map[uint32]string),
		refCounts:  make(map[uint32]int),
		nextID:     1, // 0 means no string
	}
}

// Intern adds a string to the table or increments its reference count if
// it already exists. returns the ID of the string.
func (st *StringTable) Intern(s string) uint32 {
	if id, exists := st.strings[s]; exists {
		st.refCounts[id]++
		return id
	}

	id := st.nextID
	st.strings[s] = id
	st.reverseMap[id] = s
	st.refCounts[id] = 1
	st.nextID++
	return id
}

// GetString retrieves a string by its ID
func (st *StringTable) GetString(id uint32) (string, bool) {
	s, exists := st.reverseMap[id]
	return s, exists
}

// RemoveReference decrements the reference count for a string ID. the
// string is dropped when the count reaches 0. returns true if it was.
func (st *StringTable) RemoveReference(id uint32) bool {
	s, exists := st.reverseMap[id]
	if !exists {
		return false
	}

	st.refCounts[id]--
	if st.refCounts[id] > 0 {
		return false
	}
	delete(st.strings, s)
	delete(st.reverseMap, id)
	delete(st.refCounts, id)
	return true
}

// Count returns the number of unique strings in the table
func (st *StringTable) Count() int {
	return len(st.strings)
}

// TotalReferences returns the total number of references across all strings
func (st *StringTable) TotalReferences() int {
	total := 0
	for _, count := range st.refCounts {
		total += count
	}
	return total
}
