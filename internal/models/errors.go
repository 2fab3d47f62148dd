package models

import "strconv"

// ParseError is returned when a string does not name a known enum value.
type ParseError struct {
	Type  string
	Value string
}

func (e *ParseError) Error() string {
	return "formkeep: invalid " + e.Type + " value: " + strconv.Quote(e.Value)
}

// MarshalError is returned when an enum value outside the known set is
// serialized. It usually means a zero value escaped validation.
type MarshalError struct {
	Type  string
	Value int
}

func (e *MarshalError) Error() string {
	return "formkeep: cannot marshal invalid " + e.Type + " value: " + strconv.Itoa(e.Value)
}

// UnmarshalError is returned when a serialized payload cannot populate a
// typed value.
type UnmarshalError struct {
	Type   string
	Data   []byte
	Reason string
}

func (e *UnmarshalError) Error() string {
	return "formkeep: cannot unmarshal " + strconv.Quote(string(e.Data)) + " into " + e.Type + ": " + e.Reason
}
