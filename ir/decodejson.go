package ir

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrVersionMismatch is returned by DecodeJSON when the artifact was written
// by a different version of the compiler.
var ErrVersionMismatch = errors.New("compiled routes were written by a different version")

// DecodeJSON reads a program written by EncodeJSON.
func DecodeJSON(input []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(input, &p); err != nil {
		return nil, err
	}
	if p.Version != Version {
		return nil, fmt.Errorf("%w (got %v, want %v)", ErrVersionMismatch, p.Version, Version)
	}
	if p.Root == nil {
		p.Root = &Node{}
	}
	return &p, nil
}
