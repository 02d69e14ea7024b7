package environment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type PromotionStatus string

const (
	StatusDraft      PromotionStatus = "draft"
	StatusApproved   PromotionStatus = "approved"
	StatusPromoted   PromotionStatus = "promoted"
	StatusDeprecated PromotionStatus = "deprecated"
)

// ErrTestDataNotPromotable is returned when a test-flagged record is approved
// or promoted. Test data never leaves its environment.
var ErrTestDataNotPromotable = errors.New("test data cannot be promoted")

// Lifecycle is the promotion capability embedded by any entity that moves
// between environments. Fields mirror the lifecycle columns each entity table
// carries.
type Lifecycle struct {
	Environment             Environment     `json:"environment"`
	IsTestData              bool            `json:"isTestData"`
	TestDataReason          *string         `json:"testDataReason,omitempty"`
	IsPromotable            bool            `json:"isPromotable"`
	PromotionStatus         PromotionStatus `json:"promotionStatus"`
	PromotedFromEnvironment *Environment    `json:"promotedFromEnvironment,omitempty"`
	PromotedToEnvironments  []Environment   `json:"promotedToEnvironments"`
	PromotedAt              *time.Time      `json:"promotedAt,omitempty"`
	PromotedByUserID        *uuid.UUID      `json:"promotedByUserId,omitempty"`
	SourceID                *uuid.UUID      `json:"sourceId,omitempty"`
	SourceEnvironment       *Environment    `json:"sourceEnvironment,omitempty"`
}

// EnvironmentAware is implemented by entities that embed the lifecycle
// capability. Declaring the capability is explicit; there is no runtime
// field sniffing.
type EnvironmentAware interface {
	EnvLifecycle() *Lifecycle
}

// EnvLifecycle satisfies EnvironmentAware for any struct embedding Lifecycle,
// so entity types opt in by embedding alone.
func (l *Lifecycle) EnvLifecycle() *Lifecycle { return l }

// NewLifecycle returns the capability in its initial state: plain draft data
// in the given environment, not promotable until approved.
func NewLifecycle(env Environment) Lifecycle {
	return Lifecycle{
		Environment:            env,
		PromotionStatus:        StatusDraft,
		PromotedToEnvironments: []Environment{},
	}
}

// MarkAsTestData flags the record as synthetic. The flag is a one-way gate:
// it clears promotability and approval must fail afterwards.
func (l *Lifecycle) MarkAsTestData(reason string) {
	l.IsTestData = true
	l.TestDataReason = &reason
	l.IsPromotable = false
}

// ApproveForPromotion marks the record eligible for promotion.
func (l *Lifecycle) ApproveForPromotion() error {
	if l.IsTestData {
		return ErrTestDataNotPromotable
	}
	l.IsPromotable = true
	l.PromotionStatus = StatusApproved
	return nil
}

// MarkAsPromoted records a completed promotion to target. Appending the same
// target twice is a no-op, so the operation is idempotent per environment.
func (l *Lifecycle) MarkAsPromoted(target Environment, byUser uuid.UUID) {
	l.PromotionStatus = StatusPromoted
	now := time.Now().UTC()
	l.PromotedAt = &now
	l.PromotedByUserID = &byUser
	for _, env := range l.PromotedToEnvironments {
		if env == target {
			return
		}
	}
	l.PromotedToEnvironments = append(l.PromotedToEnvironments, target)
}

func (l *Lifecycle) IsProduction() bool {
	return l.Environment == Prod
}

func (l *Lifecycle) IsDevelopment() bool {
	return l.Environment == Dev
}

func (l *Lifecycle) IsStaging() bool {
	return l.Environment == Stage
}

// CanBePromoted reports whether the record is eligible to be copied onward:
// approved, promotable and not test data.
func (l *Lifecycle) CanBePromoted() bool {
	return l.IsPromotable && !l.IsTestData && l.PromotionStatus == StatusApproved
}

// IsPromotedItem reports whether this record was itself created by a
// promotion from another environment.
func (l *Lifecycle) IsPromotedItem() bool {
	return l.SourceID != nil
}

// PromotedTo reports whether the record has already been promoted into env.
func (l *Lifecycle) PromotedTo(env Environment) bool {
	for _, e := range l.PromotedToEnvironments {
		if e == env {
			return true
		}
	}
	return false
}

// Clone returns a deep copy sharing no pointers or slices with the receiver.
func (l Lifecycle) Clone() Lifecycle {
	out := l
	if l.TestDataReason != nil {
		v := *l.TestDataReason
		out.TestDataReason = &v
	}
	if l.PromotedFromEnvironment != nil {
		v := *l.PromotedFromEnvironment
		out.PromotedFromEnvironment = &v
	}
	out.PromotedToEnvironments = append([]Environment(nil), l.PromotedToEnvironments...)
	if l.PromotedAt != nil {
		v := *l.PromotedAt
		out.PromotedAt = &v
	}
	if l.PromotedByUserID != nil {
		v := *l.PromotedByUserID
		out.PromotedByUserID = &v
	}
	if l.SourceID != nil {
		v := *l.SourceID
		out.SourceID = &v
	}
	if l.SourceEnvironment != nil {
		v := *l.SourceEnvironment
		out.SourceEnvironment = &v
	}
	return out
}
