package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/rvera/gauntlet/go/internal/dbconfig"
)

// EventTemplate mirrors the YAML event definition. Deadlines are stored
// as minute offsets; absolute times are computed at activation.
type EventTemplate struct {
	Name   string `yaml:"name"`
	Phases []struct {
		Number    int    `yaml:"number"`
		Name      string `yaml:"name"`
		TotalMins int    `yaml:"total_mins"`
		Quests    []struct {
			Name           string   `yaml:"name"`
			Kinds          []string `yaml:"kinds"`
			MaxPoints      int      `yaml:"max_points"`
			DeadlineMins   int      `yaml:"deadline_mins"`
			LateWindowMins int      `yaml:"late_window_mins"`
			LatePenaltyPts int      `yaml:"late_penalty_pts"`
			Boss           bool     `yaml:"boss"`
		} `yaml:"quests"`
	} `yaml:"phases"`
	Teams []struct {
		Name string `yaml:"name"`
	} `yaml:"teams"`
}

func main() {
	ctx := context.Background()

	path := "go/internal/assets/event.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read template: %v\n", err)
		os.Exit(1)
	}
	var tmpl EventTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal template: %v\n", err)
		os.Exit(1)
	}
	if tmpl.Name == "" || len(tmpl.Phases) == 0 {
		fmt.Fprintln(os.Stderr, "template needs a name and at least one phase")
		os.Exit(1)
	}

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "begin: %v\n", err)
		os.Exit(1)
	}
	defer tx.Rollback(ctx)

	// The coordinator runs a single event at a time.
	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&existing); err != nil {
		fmt.Fprintf(os.Stderr, "count events: %v\n", err)
		os.Exit(1)
	}
	if existing > 0 {
		fmt.Fprintln(os.Stderr, "an event already exists; refusing to seed a second one")
		os.Exit(1)
	}

	eventID := uuid.New()
	if _, err := tx.Exec(ctx, `
        INSERT INTO events (id, name, started, ended, current_phase)
        VALUES ($1, $2, FALSE, FALSE, 0)`,
		eventID, tmpl.Name,
	); err != nil {
		fmt.Fprintf(os.Stderr, "insert event: %v\n", err)
		os.Exit(1)
	}

	var phases, quests int
	for _, p := range tmpl.Phases {
		phaseID := uuid.New()
		if _, err := tx.Exec(ctx, `
            INSERT INTO phases (id, event_id, number, name, total_mins, status)
            VALUES ($1, $2, $3, $4, $5, 'SCHEDULED')`,
			phaseID, eventID, p.Number, p.Name, p.TotalMins,
		); err != nil {
			fmt.Fprintf(os.Stderr, "insert phase %d: %v\n", p.Number, err)
			os.Exit(1)
		}
		phases++

		for idx, q := range p.Quests {
			if _, err := tx.Exec(ctx, `
                INSERT INTO quests (
                  id, phase_id, order_idx, name, kinds, max_points,
                  deadline_mins, late_window_mins, late_penalty_pts, boss, status
                ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'SCHEDULED')`,
				uuid.New(), phaseID, idx, q.Name, q.Kinds, q.MaxPoints,
				q.DeadlineMins, q.LateWindowMins, q.LatePenaltyPts, q.Boss,
			); err != nil {
				fmt.Fprintf(os.Stderr, "insert quest %q: %v\n", q.Name, err)
				os.Exit(1)
			}
			quests++
		}
	}

	var teams int
	for _, t := range tmpl.Teams {
		cmdTag, err := tx.Exec(ctx, `
            INSERT INTO teams (id, name) VALUES ($1, $2)
            ON CONFLICT (name) DO NOTHING`,
			uuid.New(), t.Name,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "insert team %q: %v\n", t.Name, err)
			os.Exit(1)
		}
		teams += int(cmdTag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "commit: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf(
		"Event seed complete: %q with %d phases, %d quests, %d teams\n",
		tmpl.Name, phases, quests, teams,
	)
}
