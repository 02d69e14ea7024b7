package repo

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nimbusworks/envlift/internal/environment"
)

// Every capability-bearing table carries these columns, in this order, as an
// additive extension after the entity's own columns.
func lifecycleColumns() []string {
	return []string{
		"environment",
		"is_test_data",
		"test_data_reason",
		"is_promotable",
		"promotion_status",
		"promoted_from_environment",
		"promoted_to_environments",
		"promoted_at",
		"promoted_by_user_id",
		"source_id",
		"source_environment",
	}
}

// lifecycleRow holds the nullable scan targets for the lifecycle columns.
type lifecycleRow struct {
	env          string
	isTest       bool
	reason       sql.NullString
	isPromotable bool
	status       string
	promotedFrom sql.NullString
	promotedTo   pq.StringArray
	promotedAt   sql.NullTime
	promotedBy   uuid.NullUUID
	sourceID     uuid.NullUUID
	sourceEnv    sql.NullString
}

func (r *lifecycleRow) dest() []interface{} {
	return []interface{}{
		&r.env,
		&r.isTest,
		&r.reason,
		&r.isPromotable,
		&r.status,
		&r.promotedFrom,
		&r.promotedTo,
		&r.promotedAt,
		&r.promotedBy,
		&r.sourceID,
		&r.sourceEnv,
	}
}

func (r *lifecycleRow) apply(lc *environment.Lifecycle) {
	lc.Environment = environment.Environment(r.env)
	lc.IsTestData = r.isTest
	if r.reason.Valid {
		v := r.reason.String
		lc.TestDataReason = &v
	} else {
		lc.TestDataReason = nil
	}
	lc.IsPromotable = r.isPromotable
	lc.PromotionStatus = environment.PromotionStatus(r.status)
	lc.PromotedFromEnvironment = envPtrFromNull(r.promotedFrom)
	lc.PromotedToEnvironments = envsFromStrings(r.promotedTo)
	if r.promotedAt.Valid {
		t := r.promotedAt.Time
		lc.PromotedAt = &t
	} else {
		lc.PromotedAt = nil
	}
	if r.promotedBy.Valid {
		v := r.promotedBy.UUID
		lc.PromotedByUserID = &v
	} else {
		lc.PromotedByUserID = nil
	}
	if r.sourceID.Valid {
		v := r.sourceID.UUID
		lc.SourceID = &v
	} else {
		lc.SourceID = nil
	}
	lc.SourceEnvironment = envPtrFromNull(r.sourceEnv)
}

// lifecycleArgs aligns with lifecycleColumns for INSERT and UPDATE.
func lifecycleArgs(lc *environment.Lifecycle) []interface{} {
	return []interface{}{
		string(lc.Environment),
		lc.IsTestData,
		lc.TestDataReason,
		lc.IsPromotable,
		string(lc.PromotionStatus),
		envArg(lc.PromotedFromEnvironment),
		pq.Array(envsToStrings(lc.PromotedToEnvironments)),
		lc.PromotedAt,
		lc.PromotedByUserID,
		lc.SourceID,
		envArg(lc.SourceEnvironment),
	}
}

func envsToStrings(envs []environment.Environment) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = string(e)
	}
	return out
}

func envsFromStrings(raw []string) []environment.Environment {
	out := make([]environment.Environment, len(raw))
	for i, s := range raw {
		out[i] = environment.Environment(s)
	}
	return out
}

func envPtrFromNull(ns sql.NullString) *environment.Environment {
	if !ns.Valid {
		return nil
	}
	e := environment.Environment(ns.String)
	return &e
}

func envArg(e *environment.Environment) interface{} {
	if e == nil {
		return nil
	}
	return string(*e)
}
