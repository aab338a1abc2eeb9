package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kevin07696/payout-service/internal/adapters/lock"
	"github.com/kevin07696/payout-service/internal/adapters/postgres"
	"github.com/kevin07696/payout-service/internal/adapters/secrets"
	"github.com/kevin07696/payout-service/internal/adapters/wise"
	"github.com/kevin07696/payout-service/internal/config"
	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/services/payout"
	"github.com/kevin07696/payout-service/internal/services/reconcile"
	"github.com/kevin07696/payout-service/internal/services/settlement"
	"github.com/kevin07696/payout-service/pkg/crypto"
	httpclient "github.com/kevin07696/payout-service/pkg/http"
	"github.com/kevin07696/payout-service/pkg/logging"
	"github.com/kevin07696/payout-service/pkg/resilience"
)

// AdminCLI re-invokes settlement operations by hand. Resubmitting is the
// retry path for failed aggregation, payout and reconciliation runs.
type AdminCLI struct {
	ctx        context.Context
	aggregator *settlement.Aggregator
	executor   *payout.Executor
	reconciler *reconcile.Reconciler
}

func main() {
	var (
		action      = flag.String("action", "", "Action to perform: aggregate, execute, replay-event, generate-keypair")
		companyID   = flag.String("company", "", "Company ID")
		payeeID     = flag.String("payee", "", "Payee ID for non-batched payouts")
		batchID     = flag.String("batch", "", "Batch ID to execute")
		obligations = flag.String("obligations", "", "Comma-separated obligation IDs")
		eventFile   = flag.String("event", "", "JSON file with a transfer event to replay")
	)
	flag.Parse()

	if *action == "" {
		fmt.Println("Usage: admin -action=<action> [options]")
		fmt.Println("Actions:")
		fmt.Println("  aggregate        - Batch payable invoices (-company, optional -obligations; no -company sweeps all)")
		fmt.Println("  execute          - Pay a batch (-batch), a payee (-company -payee -obligations) or every awaiting batch")
		fmt.Println("  replay-event     - Reprocess a transfer event (-event file.json)")
		fmt.Println("  generate-keypair - Print a fresh RSA key pair for webhook signing tests")
		os.Exit(1)
	}

	if *action == "generate-keypair" {
		generateKeyPair()
		return
	}

	cli, cleanup := newCLI()
	defer cleanup()

	switch *action {
	case "aggregate":
		cli.aggregate(*companyID, splitIDs(*obligations))
	case "execute":
		cli.execute(*batchID, *companyID, *payeeID, splitIDs(*obligations))
	case "replay-event":
		cli.replayEvent(*eventFile)
	default:
		fmt.Printf("Unknown action: %s\n", *action)
		os.Exit(1)
	}
}

func newCLI() (*AdminCLI, func()) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	zapLogger, err := logging.New(cfg.Server.Environment, cfg.Logger.Level)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	logger := logging.NewZapLogger(zapLogger)

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	dbExec := postgres.NewDBExecutor(pool)
	obligations := postgres.NewObligationRepository(dbExec)
	batches := postgres.NewBatchRepository(dbExec)
	payments := postgres.NewPaymentRepository(dbExec)
	outbox := postgres.NewNotificationOutbox(dbExec)
	directory := postgres.NewDirectoryRepository(dbExec)

	creds, err := secrets.New(ctx, cfg.Secrets, logger)
	if err != nil {
		log.Fatal("Failed to init credential store: ", err)
	}
	provider := wise.NewClient(wise.Config{
		BaseURL:   cfg.Provider.BaseURL,
		ProfileID: cfg.Provider.ProfileID,
		TokenPath: cfg.Provider.TokenPath,
		Timeout:   cfg.Provider.Timeout,
	}, httpclient.NewHTTPClient(httpclient.ProviderClientConfig(), cfg.Provider.Timeout), creds, logger)

	// Share the server's lock so a manual run cannot race a scheduled one
	retry := lock.RetryPolicy{
		Backoff:    resilience.LockRetryBackoff(cfg.Lock.RetryBase, cfg.Lock.RetryMax, cfg.Lock.RetryJitter),
		MaxRetries: cfg.Lock.MaxRetries,
	}
	var locker ports.Locker = lock.NewMemoryLocker(retry)
	var rdb *redis.Client
	if cfg.Lock.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr, Password: cfg.Lock.RedisPassword, DB: cfg.Lock.RedisDB})
		locker = lock.NewRedisLocker(rdb, cfg.Lock.TTL, logger, lock.WithRetryPolicy(retry))
	}

	cli := &AdminCLI{
		ctx:        ctx,
		aggregator: settlement.NewAggregator(dbExec, obligations, batches, directory, directory, locker, cfg.Lock.WaitTimeout, logger),
		executor: payout.NewExecutor(dbExec, obligations, batches, payments, outbox, directory, directory, provider, locker, payout.Config{
			SourceCurrency:     cfg.Provider.SourceCurrency,
			PayoutMinimumCents: cfg.Settlement.PayoutMinimumCents,
			LockTimeout:        cfg.Lock.WaitTimeout,
			SweepLimit:         cfg.Settlement.ExecuteSweepLimit,
		}, logger),
		reconciler: reconcile.NewReconciler(dbExec, payments, obligations, batches, outbox, provider, logger),
	}

	return cli, func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		pool.Close()
		_ = zapLogger.Sync()
	}
}

func (cli *AdminCLI) aggregate(companyID string, ids []string) {
	if companyID == "" {
		if len(ids) > 0 {
			log.Fatal("-obligations requires -company")
		}
		runs, err := cli.aggregator.RunAll(cli.ctx)
		if err != nil {
			log.Fatal("Sweep failed: ", err)
		}
		for _, run := range runs {
			if run.Err != nil {
				fmt.Printf("❌ %s: %v\n", run.CompanyID, run.Err)
				continue
			}
			printAggregate(run.CompanyID, run.Result)
		}
		return
	}

	res, err := cli.aggregator.Run(cli.ctx, settlement.AggregateRequest{CompanyID: companyID, ObligationIDs: ids})
	if err != nil {
		log.Fatalf("Aggregation failed (%s): %v", domain.GetErrorCode(err), err)
	}
	printAggregate(companyID, res)
}

func printAggregate(companyID string, res *settlement.AggregateResult) {
	if res.NothingToDo {
		fmt.Printf("➖ %s: nothing to batch\n", companyID)
		return
	}
	fmt.Printf("✅ %s: batch %s with %d obligations, principal %d cents, fees %d cents\n",
		companyID, res.Batch.ID, len(res.Obligations), res.Batch.PrincipalCents, res.Batch.FeeCents)
}

func (cli *AdminCLI) execute(batchID, companyID, payeeID string, ids []string) {
	switch {
	case batchID != "":
		runs, err := cli.executor.ExecuteBatch(cli.ctx, batchID)
		if err != nil {
			log.Fatalf("Batch execution failed (%s): %v", domain.GetErrorCode(err), err)
		}
		printRuns(batchID, runs)

	case payeeID != "":
		if companyID == "" || len(ids) == 0 {
			log.Fatal("-payee requires -company and -obligations")
		}
		res, err := cli.executor.Execute(cli.ctx, payout.PaymentTarget{CompanyID: companyID, PayeeID: payeeID, ObligationIDs: ids})
		if err != nil {
			log.Fatalf("Execution failed (%s): %v", domain.GetErrorCode(err), err)
		}
		printResult(payeeID, res)

	default:
		sweep, err := cli.executor.ExecuteAwaiting(cli.ctx)
		if err != nil {
			log.Fatal("Sweep failed: ", err)
		}
		if len(sweep) == 0 {
			fmt.Println("➖ No batches awaiting payout")
		}
		for id, runs := range sweep {
			printRuns(id, runs)
		}
	}
}

func printRuns(batchID string, runs []payout.PayeeRun) {
	fmt.Printf("Batch %s:\n", batchID)
	for _, run := range runs {
		if run.Err != nil {
			fmt.Printf("  ❌ %s: %v\n", run.PayeeID, run.Err)
			continue
		}
		printResult(run.PayeeID, run.Result)
	}
}

func printResult(payeeID string, res *payout.ExecutionResult) {
	switch {
	case res.Payment != nil:
		fmt.Printf("  ✅ %s: payment %s (%s)\n", payeeID, res.Payment.ID, res.Payment.State)
	case res.Policy != nil:
		fmt.Printf("  ⏸  %s: %s\n", payeeID, res.Policy.Reason)
	}
}

func (cli *AdminCLI) replayEvent(file string) {
	if file == "" {
		log.Fatal("-event is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		log.Fatal("Failed to read event file: ", err)
	}

	var ev domain.TransferEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Fatal("Failed to parse event: ", err)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	res, err := cli.reconciler.Process(cli.ctx, ev)
	if err != nil {
		log.Fatalf("Replay failed (%s): %v", domain.GetErrorCode(err), err)
	}
	fmt.Printf("✅ transfer %s: %s (payment %s, bucket %s)\n", ev.ResourceID, res.Effect, res.PaymentID, res.Bucket)
}

func generateKeyPair() {
	kp, err := crypto.GenerateRSAKeyPair()
	if err != nil {
		log.Fatal("Failed to generate key pair: ", err)
	}
	fmt.Printf("Fingerprint: %s\n\n%s\n%s", kp.Fingerprint, kp.PublicKeyPEM, kp.PrivateKeyPEM)
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
