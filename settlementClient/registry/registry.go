package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/crowdfund/settlement-node/settlementClient/backend"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// ProgramKind names one of the three settlement programs.
type ProgramKind string

const (
	KindCampaign   ProgramKind = "campaign"
	KindDealEscrow ProgramKind = "deal_escrow"
	KindTreasury   ProgramKind = "treasury"
)

// Kinds lists every program kind in a stable order.
var Kinds = []ProgramKind{KindCampaign, KindDealEscrow, KindTreasury}

const fetchKey = "program-identifiers"

// Programs is the resolved, immutable set of program identifiers for one network.
type Programs struct {
	Campaign   solana.PublicKey
	DealEscrow solana.PublicKey
	Treasury   solana.PublicKey
	RPCURL     string
	Cluster    string
	FetchedAt  time.Time
}

// ID returns the program identifier for kind.
func (p *Programs) ID(kind ProgramKind) (solana.PublicKey, bool) {
	switch kind {
	case KindCampaign:
		return p.Campaign, true
	case KindDealEscrow:
		return p.DealEscrow, true
	case KindTreasury:
		return p.Treasury, true
	}
	return solana.PublicKey{}, false
}

// Source fetches program identifiers, normally the backend client.
type Source interface {
	ProgramIdentifiers(ctx context.Context) (*backend.ProgramIdentifiers, error)
}

// Registry memoizes the program identifiers. Concurrent callers that arrive before the
// first resolution share a single in-flight fetch.
type Registry struct {
	source Source
	group  singleflight.Group

	mu       sync.RWMutex
	programs *Programs
	// gen advances on Clear; a fetch started before a Clear must not repopulate the cache.
	gen uint64

	logger zerolog.Logger
}

// New creates a registry backed by source.
func New(source Source, logger zerolog.Logger) *Registry {
	return &Registry{
		source: source,
		logger: logger.With().Str("component", "program_registry").Logger(),
	}
}

// Get returns the cached identifiers, fetching them once if needed.
func (r *Registry) Get(ctx context.Context) (*Programs, error) {
	if p := r.cached(); p != nil {
		return p, nil
	}

	// The shared fetch must not be cancelled by whichever caller happened to start it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(fetchKey, func() (interface{}, error) {
		r.mu.RLock()
		p, gen := r.programs, r.gen
		r.mu.RUnlock()
		if p != nil {
			return p, nil
		}
		p, err := r.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.gen == gen {
			r.programs = p
		}
		r.mu.Unlock()
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Programs), nil
	}
}

// ProgramID resolves a single program identifier.
func (r *Registry) ProgramID(ctx context.Context, kind ProgramKind) (solana.PublicKey, error) {
	p, err := r.Get(ctx)
	if err != nil {
		return solana.PublicKey{}, err
	}
	id, ok := p.ID(kind)
	if !ok {
		return solana.PublicKey{}, serrors.NewRegistryUnavailableError(fmt.Sprintf("unknown program kind %q", kind), nil)
	}
	return id, nil
}

// KindOf reports which settlement program programID is, if any.
func (r *Registry) KindOf(ctx context.Context, programID solana.PublicKey) (ProgramKind, bool, error) {
	p, err := r.Get(ctx)
	if err != nil {
		return "", false, err
	}
	for _, kind := range Kinds {
		if id, _ := p.ID(kind); id.Equals(programID) {
			return kind, true, nil
		}
	}
	return "", false, nil
}

// Clear drops the cached identifiers; the next Get fetches again.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.programs = nil
	r.gen++
	r.mu.Unlock()
	r.group.Forget(fetchKey)
	r.logger.Info().Msg("program registry cache cleared")
}

func (r *Registry) cached() *Programs {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.programs
}

func (r *Registry) fetch(ctx context.Context) (*Programs, error) {
	start := time.Now()
	ids, err := r.source.ProgramIdentifiers(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to fetch program identifiers")
		return nil, serrors.NewRegistryUnavailableError("failed to fetch program identifiers", err)
	}
	if ids == nil {
		return nil, serrors.NewRegistryUnavailableError("backend returned no program identifiers", nil)
	}

	p := &Programs{
		RPCURL:    ids.RPCURL,
		Cluster:   ids.Cluster,
		FetchedAt: time.Now(),
	}
	fields := []struct {
		kind ProgramKind
		raw  string
		dst  *solana.PublicKey
	}{
		{KindCampaign, ids.CampaignProgramID, &p.Campaign},
		{KindDealEscrow, ids.DealEscrowProgramID, &p.DealEscrow},
		{KindTreasury, ids.TreasuryProgramID, &p.Treasury},
	}
	for _, f := range fields {
		key, err := solana.PublicKeyFromBase58(f.raw)
		if err != nil {
			return nil, serrors.NewRegistryUnavailableError(
				fmt.Sprintf("malformed %s program identifier %q", f.kind, f.raw), err)
		}
		if key.IsZero() {
			return nil, serrors.NewRegistryUnavailableError(
				fmt.Sprintf("%s program identifier is the zero address", f.kind), nil)
		}
		*f.dst = key
	}
	if p.Cluster == "" {
		return nil, serrors.NewRegistryUnavailableError("backend returned no cluster name", nil)
	}

	r.logger.Info().
		Str("cluster", p.Cluster).
		Str("campaign_program", p.Campaign.String()).
		Str("deal_escrow_program", p.DealEscrow.String()).
		Str("treasury_program", p.Treasury.String()).
		Dur("latency", time.Since(start)).
		Msg("program identifiers resolved")
	return p, nil
}
