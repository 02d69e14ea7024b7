package environment_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/environment"
)

func TestParse(t *testing.T) {
	for _, s := range []string{"dev", "stage", "prod"} {
		env, err := environment.Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", s, err)
		}
		if env.String() != s {
			t.Fatalf("Parse(%q) = %q", s, env)
		}
	}
	if _, err := environment.Parse("production"); !errors.Is(err, environment.ErrInvalidEnvironment) {
		t.Fatalf("Parse(production) expected ErrInvalidEnvironment, got %v", err)
	}
}

func TestCanPromoteOrdering(t *testing.T) {
	allowed := [][2]environment.Environment{
		{environment.Dev, environment.Stage},
		{environment.Stage, environment.Prod},
		{environment.Dev, environment.Prod},
	}
	for _, pair := range allowed {
		if err := environment.CanPromote(pair[0], pair[1]); err != nil {
			t.Fatalf("CanPromote(%s, %s) unexpectedly rejected: %v", pair[0], pair[1], err)
		}
	}

	rejected := [][2]environment.Environment{
		{environment.Prod, environment.Dev},
		{environment.Prod, environment.Stage},
		{environment.Stage, environment.Dev},
		{environment.Dev, environment.Dev},
		{environment.Prod, environment.Prod},
	}
	for _, pair := range rejected {
		if err := environment.CanPromote(pair[0], pair[1]); err == nil {
			t.Fatalf("CanPromote(%s, %s) unexpectedly allowed", pair[0], pair[1])
		}
	}

	if err := environment.CanPromote("qa", environment.Prod); !errors.Is(err, environment.ErrInvalidEnvironment) {
		t.Fatalf("expected ErrInvalidEnvironment for unknown source, got %v", err)
	}
}

func TestTestDataGateIsOneWay(t *testing.T) {
	lc := environment.NewLifecycle(environment.Dev)
	if err := lc.ApproveForPromotion(); err != nil {
		t.Fatalf("approve clean record: %v", err)
	}
	if !lc.IsPromotable || lc.PromotionStatus != environment.StatusApproved {
		t.Fatalf("approve did not take effect: %+v", lc)
	}

	lc.MarkAsTestData("placeholder email")
	if !lc.IsTestData {
		t.Fatalf("expected IsTestData after MarkAsTestData")
	}
	if lc.IsPromotable {
		t.Fatalf("test data must never stay promotable")
	}
	if lc.TestDataReason == nil || *lc.TestDataReason != "placeholder email" {
		t.Fatalf("reason not recorded: %+v", lc.TestDataReason)
	}

	// Approval after flagging must fail and leave promotability off.
	if err := lc.ApproveForPromotion(); !errors.Is(err, environment.ErrTestDataNotPromotable) {
		t.Fatalf("expected ErrTestDataNotPromotable, got %v", err)
	}
	if lc.IsPromotable {
		t.Fatalf("failed approval must not flip IsPromotable")
	}
	if lc.CanBePromoted() {
		t.Fatalf("test data reported promotable")
	}
}

func TestMarkAsPromotedIdempotent(t *testing.T) {
	lc := environment.NewLifecycle(environment.Dev)
	if err := lc.ApproveForPromotion(); err != nil {
		t.Fatalf("approve: %v", err)
	}

	user := uuid.New()
	lc.MarkAsPromoted(environment.Stage, user)
	lc.MarkAsPromoted(environment.Stage, user)

	if len(lc.PromotedToEnvironments) != 1 || lc.PromotedToEnvironments[0] != environment.Stage {
		t.Fatalf("expected exactly one stage entry, got %v", lc.PromotedToEnvironments)
	}
	if lc.PromotionStatus != environment.StatusPromoted {
		t.Fatalf("status = %s, want promoted", lc.PromotionStatus)
	}
	if lc.PromotedAt == nil || lc.PromotedByUserID == nil || *lc.PromotedByUserID != user {
		t.Fatalf("promotion stamps missing: %+v", lc)
	}

	lc.MarkAsPromoted(environment.Prod, user)
	if len(lc.PromotedToEnvironments) != 2 {
		t.Fatalf("second target not appended: %v", lc.PromotedToEnvironments)
	}
	if !lc.PromotedTo(environment.Stage) || !lc.PromotedTo(environment.Prod) {
		t.Fatalf("PromotedTo lookups wrong: %v", lc.PromotedToEnvironments)
	}
}

func TestDerivedPredicates(t *testing.T) {
	lc := environment.NewLifecycle(environment.Prod)
	if !lc.IsProduction() || lc.IsDevelopment() || lc.IsStaging() {
		t.Fatalf("environment predicates wrong for prod: %+v", lc)
	}
	if lc.IsPromotedItem() {
		t.Fatalf("fresh record is not a promotion artifact")
	}

	src := uuid.New()
	from := environment.Dev
	lc.SourceID = &src
	lc.SourceEnvironment = &from
	if !lc.IsPromotedItem() {
		t.Fatalf("record with source_id should report IsPromotedItem")
	}

	// Draft records are not promotable even outside test data.
	if lc.CanBePromoted() {
		t.Fatalf("draft record reported promotable")
	}
}
