// Command electionctl runs the scheduled election transitions. It is meant
// to be invoked from cron or a Kubernetes CronJob.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"classvote.org/internal/app"
	"classvote.org/internal/config"
	"classvote.org/internal/obs"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatal("usage: electionctl [activate-due|complete-due] [flags]")
	}
	cmd := os.Args[1]

	cfg, err := config.Load(os.Args[2:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("missing DSN: provide via -dsn or CLASSVOTE_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	switch cmd {
	case "activate-due":
		opened, err := a.Elections.ActivateDue(ctx)
		if err != nil {
			log.Fatalf("activate-due: %v", err)
		}
		for _, e := range opened {
			obs.Info("election_activated", map[string]any{"election_id": e.ID, "title": e.Title})
		}
		obs.Info("activate_due_done", map[string]any{"count": len(opened)})
	case "complete-due":
		tallies, err := a.Elections.CompleteDue(ctx)
		if err != nil {
			log.Fatalf("complete-due: %v", err)
		}
		for _, t := range tallies {
			obs.Info("election_completed", map[string]any{"election_id": t.ElectionID, "total_votes": t.TotalVotes})
		}
		obs.Info("complete_due_done", map[string]any{"count": len(tallies)})
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}
