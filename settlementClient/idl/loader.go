package idl

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
)

//go:embed definitions/*.json
var definitionFS embed.FS

// KindResolver maps a deployed program identifier to its kind.
type KindResolver interface {
	KindOf(ctx context.Context, programID solana.PublicKey) (registry.ProgramKind, bool, error)
}

// Loader loads and caches interface definitions per program identifier. Returned
// definitions are shared and must be treated as read-only.
type Loader struct {
	resolver KindResolver
	group    singleflight.Group

	mu    sync.RWMutex
	cache map[solana.PublicKey]*Definition

	logger zerolog.Logger
}

// NewLoader creates a loader that resolves program kinds through resolver.
func NewLoader(resolver KindResolver, logger zerolog.Logger) *Loader {
	return &Loader{
		resolver: resolver,
		cache:    make(map[solana.PublicKey]*Definition),
		logger:   logger.With().Str("component", "idl_loader").Logger(),
	}
}

// Load returns the definition for programID with its address set to programID.
func (l *Loader) Load(ctx context.Context, programID solana.PublicKey) (*Definition, error) {
	l.mu.RLock()
	def, ok := l.cache[programID]
	l.mu.RUnlock()
	if ok {
		return def, nil
	}

	// waiters share the fetch, so it runs detached from whichever caller started it
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(programID.String(), func() (interface{}, error) {
		l.mu.RLock()
		def, ok := l.cache[programID]
		l.mu.RUnlock()
		if ok {
			return def, nil
		}

		kind, known, err := l.resolver.KindOf(fetchCtx, programID)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, serrors.NewDefinitionNotFoundError(programID.String())
		}

		def, err = decode(kind)
		if err != nil {
			return nil, err
		}
		if def.Address != programID.String() {
			l.logger.Debug().
				Str("declared", def.Address).
				Str("deployed", programID.String()).
				Str("kind", string(kind)).
				Msg("overriding declared program address")
		}
		def.Address = programID.String()

		l.mu.Lock()
		l.cache[programID] = def
		l.mu.Unlock()
		return def, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Definition), nil
	}
}

// Clear drops every cached definition.
func (l *Loader) Clear() {
	l.mu.Lock()
	l.cache = make(map[solana.PublicKey]*Definition)
	l.mu.Unlock()
}

func decode(kind registry.ProgramKind) (*Definition, error) {
	raw, err := definitionFS.ReadFile(fmt.Sprintf("definitions/%s.json", kind))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeDefinitionNotFound,
			fmt.Sprintf("no bundled definition for %s program", kind), err)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, serrors.NewInternalError(fmt.Sprintf("malformed %s definition", kind), err)
	}
	def.normalize()
	return &def, nil
}
