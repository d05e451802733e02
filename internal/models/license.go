package models

import (
	"encoding/json"
	"sort"
	"time"
)

type Plan string

const (
	PlanSingle Plan = "single"
	PlanMulti  Plan = "multi"
)

type Status string

const (
	StatusInactive  Status = "inactive"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

func (p Plan) Valid() bool {
	return p == PlanSingle || p == PlanMulti
}

// License is the record granting usage rights. Token is empty until the first
// activation and never changes afterwards. ExternalSubscriptionRef points at
// the payment provider's recurring agreement currently backing the license.
type License struct {
	ID                      string
	AccountID               string
	Token                   string
	Plan                    Plan
	Status                  Status
	ExpiresAt               time.Time
	Devices                 DeviceSet
	ExternalSubscriptionRef string
	Features                map[string]bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Clone returns a deep copy so callers can mutate freely.
func (l *License) Clone() *License {
	cp := *l
	cp.Devices = l.Devices.clone()
	if l.Features != nil {
		cp.Features = make(map[string]bool, len(l.Features))
		for k, v := range l.Features {
			cp.Features[k] = v
		}
	}
	return &cp
}

// DeviceSet holds the opaque device identifiers bound to a license.
// Serializes as a sorted JSON array so persisted rows are deterministic.
type DeviceSet map[string]struct{}

func NewDeviceSet(ids ...string) DeviceSet {
	s := make(DeviceSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s DeviceSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s DeviceSet) Add(id string) {
	s[id] = struct{}{}
}

func (s DeviceSet) Remove(id string) {
	delete(s, id)
}

func (s DeviceSet) Len() int {
	return len(s)
}

func (s DeviceSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s DeviceSet) clone() DeviceSet {
	cp := make(DeviceSet, len(s))
	for id := range s {
		cp[id] = struct{}{}
	}
	return cp
}

func (s DeviceSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *DeviceSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewDeviceSet(ids...)
	return nil
}
