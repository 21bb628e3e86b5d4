// Package uci reads and writes the text forms of the router's Unified
// Configuration Interface.
//
// The package parses `uci show` output into a Table, builds the shell
// commands used to modify configuration, and resolves the dynamically
// numbered data_sender sections that belong to one forwarding instance.
// All values are strings; interpretation of booleans and numbers is left
// to the caller.
package uci

import "strings"

// Value is a UCI option value. It is either a single string or an ordered
// list of strings built from repeated option lines.
//
// The zero Value is the absent sentinel: String returns "" and List returns
// nil.
type Value struct {
	items []string
	list  bool
}

// Scalar returns a single-string Value.
func Scalar(s string) Value {
	return Value{items: []string{s}}
}

// List returns a list Value holding items in order.
func List(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{items: cp, list: true}
}

// String returns the scalar value, or the list items joined by a single space.
func (v Value) String() string {
	return strings.Join(v.items, " ")
}

// List returns the items of the value. A scalar yields a one-element slice.
func (v Value) List() []string {
	if len(v.items) == 0 {
		return nil
	}
	cp := make([]string, len(v.items))
	copy(cp, v.items)
	return cp
}

// IsList reports whether the value was built from more than one line or
// declared as a list.
func (v Value) IsList() bool {
	return v.list
}

// IsZero reports whether the value is the absent sentinel.
func (v Value) IsZero() bool {
	return len(v.items) == 0
}

// Contains reports whether any item equals s.
func (v Value) Contains(s string) bool {
	for _, item := range v.items {
		if item == s {
			return true
		}
	}
	return false
}

// appendItem adds another occurrence of the option and promotes the value to
// a list.
func (v Value) appendItem(s string) Value {
	if v.IsZero() {
		return Scalar(s)
	}
	items := make([]string, len(v.items), len(v.items)+1)
	copy(items, v.items)
	return Value{items: append(items, s), list: true}
}
