package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
)

// SubjectPrefix is prepended to the canonical account address to form a snapshot subject.
const SubjectPrefix = "history."

// SnapshotEvent is an account history snapshot published to NATS.
// It is published to the subject "history.{address}" in JetStream.
type SnapshotEvent struct {
	aptos.AccountHistory

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// NewSnapshotEvent wraps a snapshot for publishing.
func NewSnapshotEvent(h *aptos.AccountHistory) *SnapshotEvent {
	return &SnapshotEvent{
		AccountHistory: *h,
		PublishedAt:    time.Now().UTC(),
	}
}

// Subject returns the subject snapshots of address are published under.
// Addresses are canonicalized so "0x0A" and "0xa" share a subject.
func Subject(address string) string {
	return fmt.Sprintf("%s%s", SubjectPrefix, aptos.CanonicalAddress(address))
}
