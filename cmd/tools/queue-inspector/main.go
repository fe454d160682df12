// cmd/tools/queue-inspector/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"tinko-recovery/internal/common/config"
	"tinko-recovery/internal/common/database"
	"tinko-recovery/internal/models"
	"tinko-recovery/internal/queue"
	"tinko-recovery/internal/recovery"
)

func main() {
	countsCmd := flag.NewFlagSet("counts", flag.ExitOnError)
	jobCmd := flag.NewFlagSet("job", flag.ExitOnError)
	attemptCmd := flag.NewFlagSet("attempt", flag.ExitOnError)

	jobID := jobCmd.Int64("id", 0, "Job ID to inspect")
	attemptToken := attemptCmd.String("token", "", "Recovery link token to inspect")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: config load failed: %v\n", err)
		os.Exit(1)
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: postgres connection failed: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "counts":
		countsCmd.Parse(os.Args[2:])
		counts, err := queue.NewStore(pg.DB).CountByStatus(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, status := range []string{"pending", "running", "completed", "failed"} {
			fmt.Printf("%-12s %d\n", status, counts[models.JobStatus(status)])
		}

	case "job":
		jobCmd.Parse(os.Args[2:])
		if *jobID <= 0 {
			fmt.Println("Error: -id is required for job.")
			jobCmd.Usage()
			os.Exit(1)
		}
		job, err := queue.NewStore(pg.DB).GetByID(ctx, *jobID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printJSON(job)

	case "attempt":
		attemptCmd.Parse(os.Args[2:])
		if *attemptToken == "" {
			fmt.Println("Error: -token is required for attempt.")
			attemptCmd.Usage()
			os.Exit(1)
		}
		attempt, err := recovery.NewStore(pg.DB).GetAttemptByToken(ctx, *attemptToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printJSON(attempt)

	default:
		help()
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func help() {
	fmt.Println("Usage: queue-inspector <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  counts               Show job counts per status")
	fmt.Println("  job -id <id>         Show one scheduled job")
	fmt.Println("  attempt -token <t>   Show one recovery attempt")
}
