package engine

import (
	"fmt"

	"govline/internal/domain"
)

// ForbiddenError reports that the actor's role is not allowed to perform the
// attempted action.
type ForbiddenError struct {
	Role   domain.Role
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s cannot %s", e.Role, e.Action)
}

// ValidationError reports malformed input rejected at the boundary.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// InvalidReferenceError reports a request pointing at an entity that does not
// exist.
type InvalidReferenceError struct {
	Kind string
	ID   string
}

func (e InvalidReferenceError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Kind, e.ID)
}

// AlreadyProcessedError reports a decision attempt on a request that already
// left PENDING, including a concurrent decision that lost the race.
type AlreadyProcessedError struct {
	ID     string
	Status domain.RequestStatus
}

func (e AlreadyProcessedError) Error() string {
	return fmt.Sprintf("request %s already processed (status %s)", e.ID, e.Status)
}
