package main

import (
	"flag"
	"fmt"
)

// stringsOpt is a repeatable string flag.
type stringsOpt struct {
	val []string
	set bool
}

func (s *stringsOpt) String() string {
	return fmt.Sprint(s.val)
}

func (s *stringsOpt) Set(value string) error {
	if !s.set {
		s.val = nil
	}
	s.set = true
	s.val = append(s.val, value)
	return nil
}

func (s *stringsOpt) List() []string {
	return s.val
}

func newStringsOpt(name string, value []string, usage string) *stringsOpt {
	s := &stringsOpt{val: append([]string(nil), value...)}
	flag.Var(s, name, usage)
	return s
}
