// Package identity resolves the process service identity and performs
// signing, verification, and authorisation of A2A messages.
package identity

import (
	"context"
	"os"
	"sync"

	"cloud.google.com/go/compute/metadata"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/common/config"
	"github.com/agenticnav/navigator/internal/common/logger"
)

// Environment variable fallbacks for identity resolution.
const (
	EnvServiceAccountEmail = "NAVIGATOR_SERVICE_ACCOUNT_EMAIL"
	EnvProjectID           = "NAVIGATOR_PROJECT_ID"
)

// Identity describes the process service account.
type Identity struct {
	Email     string `json:"email"`
	ProjectID string `json:"project_id"`
	UniqueID  string `json:"unique_id"`
}

// Service resolves and caches the process identity. Resolution order:
// platform metadata endpoint, environment variables, then a synthetic
// development identity. In production the synthetic identity is still
// returned, after an error is logged.
type Service struct {
	environment string
	logger      *logger.Logger

	once sync.Once
	id   Identity
}

// NewService creates an identity service for the given environment.
func NewService(environment string, log *logger.Logger) *Service {
	return &Service{
		environment: environment,
		logger:      log.Component("identity"),
	}
}

// CurrentIdentity resolves the process identity. The result is cached for
// the process lifetime.
func (s *Service) CurrentIdentity(ctx context.Context) Identity {
	s.once.Do(func() {
		s.id = s.resolve(ctx)
	})
	return s.id
}

func (s *Service) resolve(ctx context.Context) Identity {
	if metadata.OnGCE() {
		if id, ok := s.fromMetadata(ctx); ok {
			s.logger.Info("resolved identity from metadata server",
				zap.String("email", id.Email),
				zap.String("project_id", id.ProjectID))
			return id
		}
	}

	if email := os.Getenv(EnvServiceAccountEmail); email != "" {
		id := Identity{
			Email:     email,
			ProjectID: os.Getenv(EnvProjectID),
			UniqueID:  uuid.NewSHA1(uuid.NameSpaceDNS, []byte(email)).String(),
		}
		s.logger.Info("resolved identity from environment", zap.String("email", id.Email))
		return id
	}

	if s.environment == config.EnvProduction {
		s.logger.Error("no identity source available in production")
	}

	id := DevIdentity()
	s.logger.Warn("using synthetic development identity", zap.String("email", id.Email))
	return id
}

func (s *Service) fromMetadata(ctx context.Context) (Identity, bool) {
	email, err := metadata.EmailWithContext(ctx, "default")
	if err != nil {
		s.logger.Warn("metadata server email lookup failed", zap.Error(err))
		return Identity{}, false
	}
	projectID, err := metadata.ProjectIDWithContext(ctx)
	if err != nil {
		s.logger.Warn("metadata server project lookup failed", zap.Error(err))
		return Identity{}, false
	}
	instanceID, err := metadata.InstanceIDWithContext(ctx)
	if err != nil {
		// Not fatal: Cloud Run and similar platforms have no instance id.
		instanceID = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(email)).String()
	}
	return Identity{Email: email, ProjectID: projectID, UniqueID: instanceID}, true
}

// DevIdentity returns the synthetic identity used in development mode.
func DevIdentity() Identity {
	return Identity{
		Email:     "navigator-dev@development.local",
		ProjectID: "navigator-dev",
		UniqueID:  "dev-00000000",
	}
}
