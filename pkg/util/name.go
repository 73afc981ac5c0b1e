package util

import "strconv"

// NameSeq generates monotonically increasing names with a fixed prefix:
// s0, s1, s2, ... Names are never reused within one sequence.
type NameSeq struct {
	prefix string
	next   int
}

func NewNameSeq(prefix string) *NameSeq {
	return &NameSeq{prefix: prefix}
}

func (s *NameSeq) Next() string {
	name := s.prefix + strconv.Itoa(s.next)
	s.next++
	return name
}

// Count returns how many names have been handed out so far.
func (s *NameSeq) Count() int { return s.next }
