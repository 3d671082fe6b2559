package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/crowdfund/settlement-node/settlementClient/api"
	"github.com/crowdfund/settlement-node/settlementClient/backend"
	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	"github.com/crowdfund/settlement-node/settlementClient/config"
	"github.com/crowdfund/settlement-node/settlementClient/db"
	"github.com/crowdfund/settlement-node/settlementClient/idl"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
	"github.com/crowdfund/settlement-node/settlementClient/settlement"
	"github.com/crowdfund/settlement-node/settlementClient/signer"
)

// SettlementClient wires the backend, the ledger and the local store into a router.
type SettlementClient struct {
	ctx context.Context
	log zerolog.Logger
	cfg *config.Config
	db  *db.DB

	backend      *backend.Client
	registry     *registry.Registry
	ledger       *svm.RPCClient
	orchestrator *signer.Orchestrator
	router       *settlement.Router

	queryServer *api.Server
	retrier     *ReportRetrier
}

// NewSettlementClient resolves the program registry and connects to the ledger. The
// RPC endpoints come from the config when set and from the backend otherwise.
func NewSettlementClient(ctx context.Context, log zerolog.Logger, database *db.DB, cfg *config.Config) (*SettlementClient, error) {
	backendClient, err := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	programs := registry.New(backendClient, log)

	resolved, err := programs.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settlement programs: %w", err)
	}
	rpcURLs := cfg.RPCURLs
	if len(rpcURLs) == 0 {
		rpcURLs = []string{resolved.RPCURL}
	}
	ledger, err := svm.NewRPCClient(rpcURLs, cfg.Commitment, resolved.Cluster, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	builder := svm.NewTxBuilder(programs, idl.NewLoader(programs, log), log)
	orchestrator := signer.NewOrchestrator(ledger,
		svm.NewTransactionPreparer(log),
		svm.NewTransactionValidator(log),
		log,
		signer.WithConfig(signer.Config{
			MaxRetries: cfg.Signing.MaxRetries,
			BaseDelay:  cfg.Signing.BaseDelay(),
			MaxDelay:   cfg.Signing.MaxDelay(),
		}),
	)
	router := settlement.NewRouter(programs, builder, orchestrator, ledger, backendClient, database, routerConfig(cfg), log)

	return &SettlementClient{
		ctx:          ctx,
		log:          log,
		cfg:          cfg,
		db:           database,
		backend:      backendClient,
		registry:     programs,
		ledger:       ledger,
		orchestrator: orchestrator,
		router:       router,
		queryServer: api.NewServer(log, cfg.QueryServerPort, database, programs,
			api.WithFeeSettings(cfg.Fees.ToleranceDecimal(), cfg.Fees.Precision)),
		retrier: NewReportRetrier(router, cfg.ReportRetryInterval(), log),
	}, nil
}

func routerConfig(cfg *config.Config) settlement.Config {
	rc := settlement.DefaultConfig()
	rc.ConfirmTimeout = cfg.ConfirmTimeout()
	rc.WalletBroadcast = cfg.Signing.WalletBroadcast
	rc.Tolerance = cfg.Fees.ToleranceDecimal()
	rc.Precision = cfg.Fees.Precision
	return rc
}

// Router returns the settlement router.
func (sc *SettlementClient) Router() *settlement.Router { return sc.router }

// Registry returns the program registry.
func (sc *SettlementClient) Registry() *registry.Registry { return sc.registry }

// Ledger returns the ledger client.
func (sc *SettlementClient) Ledger() *svm.RPCClient { return sc.ledger }

// Wallet loads the configured keypair wallet. Broadcasts by the wallet go through the ledger client.
func (sc *SettlementClient) Wallet(opts ...signer.KeypairOption) (*signer.KeypairWallet, error) {
	if sc.cfg.KeypairPath == "" {
		return nil, fmt.Errorf("no keypair_path configured")
	}
	opts = append([]signer.KeypairOption{signer.WithSender(sc.ledger)}, opts...)
	return signer.LoadKeypairWallet(sc.cfg.KeypairPath, opts...)
}

// Start runs the query server and the report retrier until the context ends.
func (sc *SettlementClient) Start() error {
	sc.log.Info().Msg("🚀 Starting settlement client...")

	result, err := NewStartupValidator(sc.log, sc.registry, sc.ledger).ValidateStartupRequirements(sc.ctx)
	if err != nil {
		return err
	}
	if !result.AllDeployed() {
		sc.log.Warn().Str("cluster", result.Cluster).Msg("some settlement programs are missing")
	}

	if err := sc.queryServer.Start(); err != nil {
		return fmt.Errorf("failed to start query server: %w", err)
	}
	if err := sc.retrier.Start(sc.ctx); err != nil {
		return fmt.Errorf("failed to start report retrier: %w", err)
	}

	sc.log.Info().Msg("✅ Initialization complete. Entering main loop...")

	<-sc.ctx.Done()

	sc.log.Info().Msg("🛑 Shutting down settlement client...")
	sc.retrier.Stop()
	if err := sc.queryServer.Stop(); err != nil {
		sc.log.Error().Err(err).Msg("failed to stop query server")
	}
	sc.ledger.Close()
	return sc.db.Close()
}
