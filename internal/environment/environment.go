// Package environment defines the deployment environments records live in and
// the lifecycle capability promotable entities embed.
package environment

import (
	"errors"
	"fmt"
)

type Environment string

const (
	Dev   Environment = "dev"
	Stage Environment = "stage"
	Prod  Environment = "prod"
)

var (
	ErrInvalidEnvironment = errors.New("invalid environment")
	ErrPromotionOrder     = errors.New("invalid promotion order")
)

// All lists the environments in promotion order.
func All() []Environment {
	return []Environment{Dev, Stage, Prod}
}

// Parse validates a raw environment name.
func Parse(s string) (Environment, error) {
	switch Environment(s) {
	case Dev, Stage, Prod:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, s)
	}
}

func (e Environment) Valid() bool {
	switch e {
	case Dev, Stage, Prod:
		return true
	}
	return false
}

// Rank orders environments from least to most protected.
func (e Environment) Rank() int {
	switch e {
	case Dev:
		return 0
	case Stage:
		return 1
	case Prod:
		return 2
	}
	return -1
}

func (e Environment) String() string {
	return string(e)
}

// CanPromote enforces the promotion ordering policy: promotions move strictly
// forward in rank, so dev->stage, stage->prod and dev->prod are allowed while
// same-environment and backward promotions are rejected.
func CanPromote(source, target Environment) error {
	if !source.Valid() {
		return fmt.Errorf("%w: source %q", ErrInvalidEnvironment, source)
	}
	if !target.Valid() {
		return fmt.Errorf("%w: target %q", ErrInvalidEnvironment, target)
	}
	if source == target {
		return fmt.Errorf("%w: source and target must differ (both %q)", ErrPromotionOrder, source)
	}
	if target.Rank() < source.Rank() {
		return fmt.Errorf("%w: cannot promote backwards from %q to %q", ErrPromotionOrder, source, target)
	}
	return nil
}
