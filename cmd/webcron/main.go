package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"webcron/internal/api"
	"webcron/internal/challenge"
	"webcron/internal/dispatch"
	"webcron/internal/history"
	"webcron/internal/httpexec"
	"webcron/internal/schedule"
	"webcron/internal/store"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "HTTP bind address")
		dbPath   = flag.String("db", "webcron.db", "SQLite DB path")
		workers  = flag.Int("workers", 20, "worker pool size across all jobs")
		perJob   = flag.Int("per-job", 3, "max concurrent attempts of one job")
		tick     = flag.Duration("tick", 250*time.Millisecond, "scheduling tick")
		timeout  = flag.Duration("timeout", 30*time.Second, "per-attempt network timeout")
		maxHops  = flag.Int("max-hops", 10, "challenge resolver hop bound")
		hopDelay = flag.Duration("hop-delay", time.Second, "delay between challenge hops")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure jobs schema")
	}
	if err := history.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure history schema")
	}

	jobs := store.New(db)
	recorder := history.New(db)
	engine := httpexec.New(httpexec.Config{
		Timeout:   *timeout,
		Challenge: challenge.Config{MaxHops: *maxHops, HopDelay: *hopDelay},
	})

	table := schedule.NewTable()
	dispatcher := dispatch.New(dispatch.Config{
		Tick:        *tick,
		Workers:     *workers,
		PerJobLimit: *perJob,
	}, table, jobs, engine, recorder)

	// Register stored active jobs. A bad spec skips that job only;
	// missed firings from downtime are not replayed.
	active, err := jobs.ListActive(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("list active jobs")
	}
	for _, j := range active {
		if err := dispatcher.Register(j); err != nil {
			log.Warn().Err(err).Str("job_id", j.ID).Msg("skipping job with bad cron spec")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(jobs, dispatcher, recorder)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
