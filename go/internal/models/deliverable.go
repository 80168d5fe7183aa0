package models

import (
	"fmt"
	"net/url"
	"strings"
)

// DeliverableKind is the typed variant of what a quest accepts as a
// submission. Each kind carries its own payload validation; call sites
// dispatch through Validate rather than comparing strings.
type DeliverableKind string

const (
	DeliverableKindFile         DeliverableKind = "FILE"
	DeliverableKindText         DeliverableKind = "TEXT"
	DeliverableKindURL          DeliverableKind = "URL"
	DeliverableKindPresentation DeliverableKind = "PRESENTATION"
)

// Valid reports whether the kind is one of the known variants.
func (k DeliverableKind) Valid() bool {
	switch k {
	case DeliverableKindFile, DeliverableKindText, DeliverableKindURL, DeliverableKindPresentation:
		return true
	}
	return false
}

// Validate checks a submission payload reference against the kind's rules.
// File kinds expect an object-store key, text kinds a non-empty body, URL
// kinds a parseable absolute URL, and presentations carry no payload at all.
func (k DeliverableKind) Validate(payloadRef string) error {
	switch k {
	case DeliverableKindFile:
		if strings.TrimSpace(payloadRef) == "" {
			return fmt.Errorf("file deliverable requires a storage reference")
		}
	case DeliverableKindText:
		if strings.TrimSpace(payloadRef) == "" {
			return fmt.Errorf("text deliverable requires a body")
		}
	case DeliverableKindURL:
		u, err := url.Parse(payloadRef)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("url deliverable requires an absolute URL")
		}
	case DeliverableKindPresentation:
		// Presented live; nothing to validate.
	default:
		return fmt.Errorf("unknown deliverable kind: %s", k)
	}
	return nil
}

// AcceptsKind reports whether the quest accepts the given deliverable kind.
func (q *Quest) AcceptsKind(kind DeliverableKind) bool {
	for _, k := range q.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
