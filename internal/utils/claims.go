package utils

import (
	"errors"

	"ledgercore/internal/domain/identity"

	"github.com/gofiber/fiber/v2"
)

// ActorLocal is the fiber locals key holding the caller identity.
const ActorLocal = "actor"

// GetActor extracts the caller identity from the Fiber context.
// It returns an error if the actor is missing or of an invalid type.
func GetActor(c *fiber.Ctx) (identity.Actor, error) {
	v := c.Locals(ActorLocal)
	if v == nil {
		return identity.Actor{}, errors.New("actor not found in context")
	}

	actor, ok := v.(identity.Actor)
	if !ok {
		return identity.Actor{}, errors.New("invalid actor type")
	}
	return actor, nil
}
