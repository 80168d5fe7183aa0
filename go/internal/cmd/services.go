package main

import (
	"context"
	"database/sql"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"github.com/rvera/gauntlet/go/internal/contest"
	"github.com/rvera/gauntlet/go/internal/contest/gateway"
	"github.com/rvera/gauntlet/go/internal/contest/outbox"
	"github.com/rvera/gauntlet/go/internal/contest/repository"
	"github.com/rvera/gauntlet/go/internal/submissions"
)

type Services struct {
	Contest     *contest.Service
	Submissions *submissions.Service
	Gateway     *gateway.Service

	ContestApp *contest.App
	ScoringApp *submissions.App
}

func setupServices(ctx context.Context, database *sql.DB, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()

	// Contest progression
	contestRepo := repository.NewRepository(database)
	outboxRepo := outbox.NewRepository(database)
	contestApp := contest.NewApp(contestRepo, outboxRepo, clock, contest.Config{
		EvaluationPeriodMins: config.Contest.EvaluationPeriodMins,
		FinalCountdownMins:   config.Contest.FinalCountdownMins,
	})
	// Phase and quest transitions are picked up by the orchestrator
	// process through the event stream, so no in-process waker here.
	contestService := contest.NewService(contestApp, nil)

	// Submissions and scoring
	store := submissions.NewStore(database)
	scoringApp := submissions.NewApp(store, contestApp, clock)
	scoringService := submissions.NewService(scoringApp)

	// Viewer gateway
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.URL = getEnv("NATS_URL", nats.DefaultURL)
	stateProvider := gateway.NewAppStateProvider(contestApp, scoringApp)
	versions := gateway.NewDBVersionSource(database)
	gatewayService, err := gateway.NewService(ctx, gatewayConfig, stateProvider, versions)
	if err != nil {
		return nil, err
	}

	return &Services{
		Contest:     contestService,
		Submissions: scoringService,
		Gateway:     gatewayService,
		ContestApp:  contestApp,
		ScoringApp:  scoringApp,
	}, nil
}
