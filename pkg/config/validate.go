package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"kmesh/pkg/balancer"
	"kmesh/pkg/broadcast"
	"kmesh/pkg/log"
	"kmesh/pkg/models"
	"kmesh/pkg/router"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrFallbackRepeatsPrimary is returned when a route lists its primary among its fallbacks.
	ErrFallbackRepeatsPrimary = errors.New("fallback repeats primary")

	// ErrDuplicateRoute is returned when two routes share query type and match mode.
	ErrDuplicateRoute = errors.New("duplicate route")

	// ErrUnknownBackendKind is returned for a kind outside models.BackendKinds.
	ErrUnknownBackendKind = errors.New("unknown backend kind")

	// ErrUnknownQueryType is returned when a route can never match a supported query type.
	ErrUnknownQueryType = errors.New("unknown query type")

	// ErrMissingStore is returned when a route names a kind with no store configured.
	ErrMissingStore = errors.New("no store configured for backend kind")
)

// Validate checks struct tags first, then the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, formatValidationError(err))
	}

	var errs []error
	if _, err := balancer.ParseStrategy(c.Balancer.Strategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := broadcast.ParseMode(c.Broadcast.Mode); err != nil {
		errs = append(errs, err)
	}
	if err := log.ValidLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for _, kind := range c.Transport.Preference {
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("unknown transport kind %q", kind))
		}
	}
	for kind := range c.Stores {
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("%w: stores.%s", ErrUnknownBackendKind, kind))
		}
	}
	errs = append(errs, c.validateRoutes()...)
	errs = append(errs, validateRoster("peers", c.Peers)...)
	errs = append(errs, validateRoster("clusters", c.Clusters)...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) validateRoutes() []error {
	var errs []error
	seen := make(map[string]bool, len(c.Routes))

	for i, route := range c.Routes {
		name := fmt.Sprintf("routes[%d] %s", i, route.QueryType)

		key := string(route.Match) + "|" + string(route.QueryType)
		if seen[key] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateRoute, name))
		}
		seen[key] = true

		switch route.Match {
		case models.MatchExact:
			if !router.Supported(route.QueryType) {
				errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownQueryType, name))
			}
		case models.MatchPrefix:
			if !matchesAnySupported(route.QueryType) {
				errs = append(errs, fmt.Errorf("%w: prefix %s matches nothing", ErrUnknownQueryType, name))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown match mode %q", name, route.Match))
		}

		used := make(map[models.BackendKind]bool, 1+len(route.Fallbacks))
		for j, kind := range route.Candidates() {
			if !kind.Valid() {
				errs = append(errs, fmt.Errorf("%w: %s: %q", ErrUnknownBackendKind, name, kind))
				continue
			}
			if j > 0 && kind == route.Primary {
				errs = append(errs, fmt.Errorf("%w: %s: %s", ErrFallbackRepeatsPrimary, name, kind))
			} else if used[kind] {
				errs = append(errs, fmt.Errorf("%w: %s: fallback %s listed twice", ErrDuplicateRoute, name, kind))
			}
			used[kind] = true
			if _, ok := c.Stores[kind]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s: %s", ErrMissingStore, name, kind))
			}
		}
	}
	return errs
}

func matchesAnySupported(prefix models.QueryType) bool {
	for _, qt := range router.QueryTypes() {
		if strings.HasPrefix(string(qt), string(prefix)) {
			return true
		}
	}
	return false
}

func validateRoster(field string, peers []models.PeerID) []error {
	var errs []error
	seen := make(map[models.PeerID]bool, len(peers))
	for _, peer := range peers {
		if seen[peer] {
			errs = append(errs, fmt.Errorf("%s: %s listed twice", field, peer))
		}
		seen[peer] = true
	}
	return errs
}

// formatValidationError converts validator errors into one readable error.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	messages := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s: is required", e.Namespace()))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s: must not be negative", e.Namespace()))
		default:
			messages = append(messages, fmt.Sprintf("%s: failed %s validation", e.Namespace(), e.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
