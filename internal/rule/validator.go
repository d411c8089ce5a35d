package rule

import (
	"fmt"
	"strings"

	"halia/internal/graph"
	"halia/pkg/errors"
)

const maxNameLength = 255

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.ErrValidation.WithMessage("rule name is required")
	}
	if len(name) > maxNameLength {
		return errors.ErrValidation.WithMessage("rule name must be at most %d characters", maxNameLength)
	}
	return nil
}

// validateGraph builds the graph once and discards it. Build reports config
// and reference errors with their own codes.
func validateGraph(conf graph.Conf) error {
	if len(conf.Nodes) == 0 {
		return errors.ErrConfig.WithMessage("rule graph has no nodes")
	}
	if err := graph.Validate(conf); err != nil {
		return errors.Wrap(err, errors.ErrConfig)
	}
	return nil
}

func ValidateCreateRequest(req CreateRuleRequest) error {
	if err := validateName(req.Name); err != nil {
		return err
	}
	return validateGraph(req.Graph)
}

func ValidateUpdateRequest(req UpdateRuleRequest) error {
	if req.Name == nil && req.Description == nil && req.Graph == nil {
		return errors.ErrValidation.WithMessage("at least one field must be provided")
	}
	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			return err
		}
	}
	if req.Graph != nil {
		if err := validateGraph(*req.Graph); err != nil {
			return err
		}
	}
	return nil
}

func normalizeQuery(q SearchQuery, defaultSize, maxSize int) SearchQuery {
	q.Name = strings.TrimSpace(q.Name)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = defaultSize
	}
	if q.Size > maxSize {
		q.Size = maxSize
	}
	return q
}

func offset(q SearchQuery) int { return (q.Page - 1) * q.Size }

func notFound(id string) error {
	return errors.ErrNotFound.WithMessage("rule %s not found", id).WithDetail("id", id)
}

func nameConflict(name string, cause error) error {
	err := errors.ErrConflict.WithMessage("rule with name '%s' already exists", name)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

func storageError(op string, err error) error {
	return errors.ErrInternal.WithCause(fmt.Errorf("failed to %s: %w", op, err))
}
