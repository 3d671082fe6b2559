package svm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

//go:generate mockgen -destination=mocks/mock_ledger.go -package=mocks github.com/crowdfund/settlement-node/settlementClient/chains/svm Ledger

// AccountInfo is the subset of an on-chain account the settlement path inspects.
type AccountInfo struct {
	Executable bool
	Owner      solana.PublicKey
	Lamports   uint64
}

// Ledger is the network RPC surface used by the settlement pipeline.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	// GetAccountInfo returns nil with no error when the account does not exist.
	GetAccountInfo(ctx context.Context, address solana.PublicKey) (*AccountInfo, error)
	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
	// ConfirmTransaction blocks until the signature reaches the configured commitment,
	// the transaction fails, or ctx is done.
	ConfirmTransaction(ctx context.Context, signature solana.Signature) (bool, error)
}

// RPCClient is a Ledger over one or more JSON-RPC endpoints with round-robin failover.
type RPCClient struct {
	clients      []*rpc.Client
	index        uint64
	mu           sync.RWMutex
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	network      string
	logger       zerolog.Logger
}

var _ Ledger = (*RPCClient)(nil)

// NewRPCClient creates a client over rpcURLs. commitment is one of processed,
// confirmed or finalized; network is the cluster name used in error messages.
func NewRPCClient(rpcURLs []string, commitment, network string, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	clients := make([]*rpc.Client, 0, len(rpcURLs))
	for _, url := range rpcURLs {
		if url == "" {
			continue
		}
		clients = append(clients, rpc.New(url))
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no usable RPC URLs provided")
	}
	if commitment == "" {
		commitment = string(rpc.CommitmentConfirmed)
	}

	return &RPCClient{
		clients:      clients,
		commitment:   rpc.CommitmentType(commitment),
		pollInterval: 500 * time.Millisecond,
		network:      network,
		logger:       logger.With().Str("component", "svm_rpc_client").Str("network", network).Logger(),
	}, nil
}

// Network returns the cluster name.
func (rc *RPCClient) Network() string { return rc.network }

// executeWithFailover runs fn against each endpoint in turn until one succeeds.
// RPC-level errors are answers, not outages, and are returned without failover.
func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(*rpc.Client) error) error {
	rc.mu.RLock()
	clients := rc.clients
	rc.mu.RUnlock()

	if len(clients) == 0 {
		return serrors.NewTransientError(fmt.Sprintf("no RPC clients available for %s", operation), nil)
	}

	var lastErr error
	for attempt := 0; attempt < len(clients); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		index := atomic.AddUint64(&rc.index, 1) - 1
		client := clients[index%uint64(len(clients))]

		err := fn(client)
		if err == nil {
			return nil
		}
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && !serrors.IsRetryable(err) {
			return err
		}
		lastErr = err

		rc.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	return serrors.NewTransientError(
		fmt.Sprintf("operation %s failed after trying %d endpoints", operation, len(clients)), lastErr).
		WithNetwork(rc.network)
}

// LatestBlockhash fetches a fresh liveness token.
func (rc *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var blockhash solana.Hash
	err := rc.executeWithFailover(ctx, "get_latest_blockhash", func(client *rpc.Client) error {
		resp, innerErr := client.GetLatestBlockhash(ctx, rc.commitment)
		if innerErr != nil {
			return innerErr
		}
		if resp == nil || resp.Value == nil {
			return fmt.Errorf("empty blockhash response")
		}
		blockhash = resp.Value.Blockhash
		return nil
	})
	return blockhash, err
}

// GetAccountInfo fetches an account; a missing account yields (nil, nil).
func (rc *RPCClient) GetAccountInfo(ctx context.Context, address solana.PublicKey) (*AccountInfo, error) {
	var info *AccountInfo
	err := rc.executeWithFailover(ctx, "get_account_info", func(client *rpc.Client) error {
		resp, innerErr := client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Commitment: rc.commitment,
		})
		if errors.Is(innerErr, rpc.ErrNotFound) {
			info = nil
			return nil
		}
		if innerErr != nil {
			return innerErr
		}
		if resp == nil || resp.Value == nil {
			info = nil
			return nil
		}
		info = &AccountInfo{
			Executable: resp.Value.Executable,
			Owner:      resp.Value.Owner,
			Lamports:   resp.Value.Lamports,
		}
		return nil
	})
	return info, err
}

// ProgramExists reports whether programID is a deployed executable account.
func (rc *RPCClient) ProgramExists(ctx context.Context, programID solana.PublicKey) (bool, error) {
	return ProgramExists(ctx, rc, programID)
}

// SendRawTransaction broadcasts a signed transaction with preflight simulation enabled.
func (rc *RPCClient) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	if err := CheckSerializedSize(raw); err != nil {
		return solana.Signature{}, err
	}

	var sig solana.Signature
	err := rc.executeWithFailover(ctx, "send_raw_transaction", func(client *rpc.Client) error {
		var innerErr error
		sig, innerErr = client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rc.commitment,
		})
		return innerErr
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && !serrors.IsRetryable(err) {
			return solana.Signature{}, serrors.New(serrors.ErrCodeValidation, "transaction rejected by preflight", err).
				WithNetwork(rc.network)
		}
		return solana.Signature{}, err
	}

	rc.logger.Info().Str("signature", sig.String()).Int("size", len(raw)).Msg("transaction broadcast")
	return sig, nil
}

// ConfirmTransaction polls signature statuses until the configured commitment is reached.
func (rc *RPCClient) ConfirmTransaction(ctx context.Context, signature solana.Signature) (bool, error) {
	ticker := time.NewTicker(rc.pollInterval)
	defer ticker.Stop()

	for {
		var status *rpc.SignatureStatusesResult
		err := rc.executeWithFailover(ctx, "get_signature_statuses", func(client *rpc.Client) error {
			resp, innerErr := client.GetSignatureStatuses(ctx, true, signature)
			if innerErr != nil {
				return innerErr
			}
			status = nil
			if resp != nil && len(resp.Value) > 0 {
				status = resp.Value[0]
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			rc.logger.Debug().Err(err).Str("signature", signature.String()).Msg("status poll failed")
		}

		if status != nil {
			if status.Err != nil {
				return false, serrors.Newf(serrors.ErrCodeValidation, "transaction %s failed: %v", signature, status.Err).
					WithNetwork(rc.network)
			}
			if commitmentReached(status.ConfirmationStatus, rc.commitment) {
				rc.logger.Info().
					Str("signature", signature.String()).
					Str("status", string(status.ConfirmationStatus)).
					Msg("transaction confirmed")
				return true, nil
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsHealthy checks if any endpoint answers a blockhash request.
func (rc *RPCClient) IsHealthy(ctx context.Context) bool {
	_, err := rc.LatestBlockhash(ctx)
	return err == nil
}

// Close drops every endpoint.
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.clients = nil
}

// ProgramExists is the pre-flight check shared by every Ledger implementation.
func ProgramExists(ctx context.Context, ledger Ledger, programID solana.PublicKey) (bool, error) {
	info, err := ledger.GetAccountInfo(ctx, programID)
	if err != nil {
		return false, err
	}
	return info != nil && info.Executable, nil
}

func commitmentReached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentProcessed:
		return status != ""
	default:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	}
}
