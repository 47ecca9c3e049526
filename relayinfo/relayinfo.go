// Package relayinfo defines the NIP-11 relay information document: the
// self-description a relay returns for an HTTP GET with an
// "application/nostr+json" Accept header.
package relayinfo

import "sort"

// NIP names one numbered Nostr Implementation Possibility this relay
// supports.
type NIP int

const (
	BasicProtocol                   NIP = 1
	Authentication                  NIP = 42
	EventDeletion                   NIP = 9
	ExpirationTimestamp             NIP = 40
	EventTreatment                  NIP = 16
	GenericTagQueries               NIP = 12
	ParameterizedReplaceableEvents  NIP = 33
	RelayInformationDocument        NIP = 11
	CountingResults                 NIP = 45
	DelegatedEventSigning           NIP = 26
)

// List is a sortable set of NIPs, rendered as a JSON array of integers.
type List []NIP

func (l List) Len() int           { return len(l) }
func (l List) Less(i, j int) bool { return l[i] < l[j] }
func (l List) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// GetList returns a List built from the given NIPs, unsorted; callers
// typically sort.Sort it before marshaling.
func GetList(nips ...NIP) List {
	out := make(List, len(nips))
	copy(out, nips)
	return out
}

// Limits is the NIP-11 "limitation" object: the advertised constraints a
// client should respect before even connecting.
type Limits struct {
	MaxMessageLength int   `json:"max_message_length"`
	MaxSubscriptions int   `json:"max_subscriptions"`
	MaxFilters       int   `json:"max_filters"`
	MaxLimit         int   `json:"max_limit"`
	MaxSubIDLength   int   `json:"max_subid_length"`
	MaxEventTags     int   `json:"max_event_tags"`
	MaxContentLength int   `json:"max_content_length"`
	MinPowDifficulty int   `json:"min_pow_difficulty"`
	AuthRequired     bool  `json:"auth_required"`
	PaymentRequired  bool  `json:"payment_required"`
	RestrictedWrites bool  `json:"restricted_writes"`
	CreatedAtLower   int64 `json:"created_at_lower_limit"`
	CreatedAtUpper   int64 `json:"created_at_upper_limit"`
}

// T is the full NIP-11 document.
type T struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Pubkey        string `json:"pubkey,omitempty"`
	Contact       string `json:"contact,omitempty"`
	Nips          List   `json:"supported_nips"`
	Software      string `json:"software"`
	Version       string `json:"version"`
	Limitation    Limits `json:"limitation"`
}

// Sorted returns t's NIP list in ascending order; handleRelayInfo calls
// this right before marshaling so the field stays sorted without every
// caller having to remember sort.Sort.
func (t *T) Sorted() *T {
	sort.Sort(t.Nips)
	return t
}
