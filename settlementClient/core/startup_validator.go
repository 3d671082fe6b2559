package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
)

// ProgramStatus is the deployment state of one settlement program.
type ProgramStatus struct {
	Kind     registry.ProgramKind
	ID       string
	Deployed bool
}

// StartupValidationResult lists the deployment state of every program.
type StartupValidationResult struct {
	Cluster  string
	Programs []ProgramStatus
}

// AllDeployed reports whether every program is executable on the ledger.
func (r *StartupValidationResult) AllDeployed() bool {
	for _, p := range r.Programs {
		if !p.Deployed {
			return false
		}
	}
	return true
}

// StartupValidator checks that the settlement programs resolve and exist
type StartupValidator struct {
	log      zerolog.Logger
	programs svm.ProgramSource
	ledger   svm.Ledger
}

// NewStartupValidator creates a new startup validator
func NewStartupValidator(log zerolog.Logger, programs svm.ProgramSource, ledger svm.Ledger) *StartupValidator {
	return &StartupValidator{
		log:      log.With().Str("component", "startup_validator").Logger(),
		programs: programs,
		ledger:   ledger,
	}
}

// ValidateStartupRequirements resolves the program identifiers and checks each on the
// ledger. A missing program is not an error: its intents settle by direct transfer.
func (sv *StartupValidator) ValidateStartupRequirements(ctx context.Context) (*StartupValidationResult, error) {
	sv.log.Info().Msg("🔍 Validating settlement programs")

	programs, err := sv.programs.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve program identifiers: %w", err)
	}

	result := &StartupValidationResult{Cluster: programs.Cluster}
	for _, kind := range registry.Kinds {
		id, _ := programs.ID(kind)
		deployed, err := svm.ProgramExists(ctx, sv.ledger, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s program %s: %w", kind, id, err)
		}
		result.Programs = append(result.Programs, ProgramStatus{Kind: kind, ID: id.String(), Deployed: deployed})

		if deployed {
			sv.log.Info().Str("program", string(kind)).Str("id", id.String()).Msg("✅ program deployed")
		} else {
			sv.log.Warn().
				Str("program", string(kind)).
				Str("id", id.String()).
				Str("cluster", programs.Cluster).
				Msg("program not deployed, intents will settle by direct transfer")
		}
	}
	return result, nil
}
