package id

import "github.com/google/uuid"

// Generator creates unique IDs.
type Generator interface {
	New() string
}

type UUIDv4 struct{}

func (UUIDv4) New() string { return uuid.NewString() }

// Prefixed tags IDs with where they were minted, e.g. "enroll.<uuid>".
type Prefixed struct {
	Prefix string
	Next   Generator
}

func (p Prefixed) New() string {
	next := p.Next
	if next == nil {
		next = UUIDv4{}
	}
	if p.Prefix == "" {
		return next.New()
	}
	return p.Prefix + "." + next.New()
}
