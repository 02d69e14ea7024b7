package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimbusworks/envlift/internal/audit"
	"github.com/nimbusworks/envlift/internal/auth"
	"github.com/nimbusworks/envlift/internal/config"
	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/httpserver"
	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/objectstore"
	"github.com/nimbusworks/envlift/internal/promotion"
	"github.com/nimbusworks/envlift/internal/repo"
	"github.com/nimbusworks/envlift/internal/testdata"
	"github.com/nimbusworks/envlift/internal/vectorindex"
	"github.com/nimbusworks/envlift/internal/worker"
)

func main() {
	runSweeper := flag.Bool("run-sweeper", false, "start the background test-data sweep")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[startup] config load: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[startup] db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("[startup] db ping: %v", err)
	}

	// Payload storage: per-environment S3 buckets when configured, an
	// in-memory store otherwise so local stacks work without AWS.
	var store objectstore.Store = objectstore.NewMemoryStore()
	hasBuckets, err := cfg.HasBuckets()
	if err != nil {
		log.Fatalf("[startup] bucket config: %v", err)
	}
	if hasBuckets {
		s3store, err := objectstore.NewS3Store(ctx, map[environment.Environment]string{
			environment.Dev:   cfg.BucketDev,
			environment.Stage: cfg.BucketStage,
			environment.Prod:  cfg.BucketProd,
		})
		if err != nil {
			log.Fatalf("[startup] s3 store: %v", err)
		}
		store = s3store
	} else {
		log.Printf("[startup] warning: no payload buckets configured, using in-memory object store")
	}

	var index vectorindex.Index = vectorindex.NewMemoryIndex()
	if cfg.WeaviateURL != "" {
		wv, err := vectorindex.NewWeaviateIndex(cfg.WeaviateURL)
		if err != nil {
			log.Fatalf("[startup] weaviate client: %v", err)
		}
		if err := wv.Ready(ctx); err != nil {
			log.Fatalf("[startup] weaviate: %v", err)
		}
		if err := wv.EnsureClasses(ctx, []string{"Document"}); err != nil {
			log.Fatalf("[startup] weaviate schema: %v", err)
		}
		index = wv
	} else {
		log.Printf("[startup] warning: no weaviate configured, using in-memory vector index")
	}

	auditLogs := repo.NewAuditLogRepository(db)
	var producer audit.Producer
	if len(cfg.KafkaBrokers) > 0 {
		ep, err := audit.NewEventProducer(audit.ProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("[startup] kafka producer: %v", err)
		}
		defer ep.Close()
		producer = ep
	}
	recorder := audit.NewRecorder(auditLogs, producer)

	var archiver promotion.RunArchiver
	if cfg.ArchiveBucket != "" {
		archiver, err = promotion.NewS3RunArchiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("[startup] run archiver: %v", err)
		}
	}

	docRepos := func(env environment.Environment) repo.EnvRepository[*models.Document] {
		return repo.NewDocumentRepository(db, env, true)
	}
	tplRepos := func(env environment.Environment) repo.EnvRepository[*models.PromptTemplate] {
		return repo.NewPromptTemplateRepository(db, env, true)
	}

	registry := promotion.NewRegistry()
	registry.Register(promotion.NewDocumentPromoter(docRepos, store, index))
	registry.Register(promotion.NewPromptTemplatePromoter(tplRepos))

	ledger := promotion.NewPGLedgerStore(db)
	orch := promotion.NewOrchestrator(registry, ledger, recorder, archiver, cfg.CopyConcurrency)

	detector := testdata.NewDetector()
	docScan := func(ctx context.Context, env environment.Environment, batchSize int) (testdata.Report, error) {
		return testdata.ScanAndMark(ctx, detector, docRepos(env), batchSize)
	}
	tplScan := func(ctx context.Context, env environment.Environment, batchSize int) (testdata.Report, error) {
		return testdata.ScanAndMark(ctx, detector, tplRepos(env), batchSize)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.AllowDebugToken, cfg.DebugToken)
	server := httpserver.New(verifier, orch, recorder, db.PingContext, cfg.Environment)
	server.RegisterEntity(promotion.DocumentType, func(env environment.Environment) httpserver.EntityAdmin {
		return docRepos(env)
	}, docScan)
	server.RegisterEntity(promotion.PromptTemplateType, func(env environment.Environment) httpserver.EntityAdmin {
		return tplRepos(env)
	}, tplScan)

	if shouldRunSweeper(*runSweeper) {
		log.Printf("[startup] starting test-data sweeper for %s every %s", cfg.Environment, cfg.ScanInterval)
		go worker.RunSweeper(ctx, []worker.Sweep{
			{Name: promotion.DocumentType, Run: func(ctx context.Context, batchSize int) (testdata.Report, error) {
				return docScan(ctx, cfg.Environment, batchSize)
			}},
			{Name: promotion.PromptTemplateType, Run: func(ctx context.Context, batchSize int) (testdata.Report, error) {
				return tplScan(ctx, cfg.Environment, batchSize)
			}},
		}, worker.Config{Interval: cfg.ScanInterval, BatchSize: cfg.ScanBatchSize})
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("envlift service (%s) listening on %s", cfg.Environment, cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func shouldRunSweeper(flagValue bool) bool {
	if flagValue {
		return true
	}
	if v := os.Getenv("ENVLIFT_SWEEPER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return false
}
