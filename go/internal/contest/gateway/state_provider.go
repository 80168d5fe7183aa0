package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/rvera/gauntlet/go/internal/contest"
	"github.com/rvera/gauntlet/go/internal/models"
)

// StateProvider is what viewers re-fetch after a CollectionChanged event.
type StateProvider interface {
	GetSnapshot(ctx context.Context) (*contest.Snapshot, error)
	GetStandings(ctx context.Context) ([]models.TeamStanding, error)
	GetEvaluatorHistory(ctx context.Context, evaluatorID uuid.UUID) ([]models.Evaluation, error)
}

// ScoringApp is the slice of the submissions command layer the gateway
// reads from.
type ScoringApp interface {
	GetStandings(ctx context.Context) ([]models.TeamStanding, error)
	GetEvaluatorHistory(ctx context.Context, evaluatorID uuid.UUID) ([]models.Evaluation, error)
}

// AppStateProvider implements StateProvider over the contest and
// submissions apps.
type AppStateProvider struct {
	contest *contest.App
	scoring ScoringApp
}

func NewAppStateProvider(contestApp *contest.App, scoring ScoringApp) *AppStateProvider {
	return &AppStateProvider{
		contest: contestApp,
		scoring: scoring,
	}
}

func (p *AppStateProvider) GetSnapshot(ctx context.Context) (*contest.Snapshot, error) {
	return p.contest.GetSnapshot(ctx)
}

func (p *AppStateProvider) GetStandings(ctx context.Context) ([]models.TeamStanding, error) {
	return p.scoring.GetStandings(ctx)
}

func (p *AppStateProvider) GetEvaluatorHistory(ctx context.Context, evaluatorID uuid.UUID) ([]models.Evaluation, error) {
	return p.scoring.GetEvaluatorHistory(ctx, evaluatorID)
}
