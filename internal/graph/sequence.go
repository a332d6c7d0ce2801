package graph

import "sort"

// Sequence hands out edge ids. Each graph owns one, so ids restart at 1
// for every monitoring session.
type Sequence struct {
	last EdgeID
}

// Next returns the next id
func (s *Sequence) Next() EdgeID {
	s.last++
	return s.last
}

// Last returns the most recently allocated id, 0 if none
func (s *Sequence) Last() EdgeID { return s.last }

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}
