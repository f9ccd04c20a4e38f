package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/modelport/internal/envvar"
)

// Environment is the runtime environment the binary runs in.
type Environment string

const (
	// Development enables human readable console logs.
	Development Environment = "development"

	// Production enables JSON logs.
	Production Environment = "production"
)

// FromEnv reads the environment from MODELPORT_ENV, defaulting to development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.ModelportEnv))
}

// Parse converts a string into an Environment.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return Production
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
