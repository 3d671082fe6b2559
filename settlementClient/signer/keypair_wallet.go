package signer

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// ApprovalFunc is asked before every signature. Returning false rejects the request.
type ApprovalFunc func(ctx context.Context, summary string) (bool, error)

// Sender broadcasts serialized transactions.
type Sender interface {
	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
}

// KeypairWallet signs with a local key, for headless operation.
type KeypairWallet struct {
	key     solana.PrivateKey
	approve ApprovalFunc
	sender  Sender
}

var _ BatchWallet = (*KeypairWallet)(nil)

// KeypairOption configures a KeypairWallet.
type KeypairOption func(*KeypairWallet)

// WithApproval installs an approval prompt.
func WithApproval(fn ApprovalFunc) KeypairOption {
	return func(w *KeypairWallet) { w.approve = fn }
}

// WithSender enables SignAndSendTransaction.
func WithSender(s Sender) KeypairOption {
	return func(w *KeypairWallet) { w.sender = s }
}

// NewKeypairWallet wraps key.
func NewKeypairWallet(key solana.PrivateKey, opts ...KeypairOption) (*KeypairWallet, error) {
	if len(key) != 64 {
		return nil, serrors.NewConfigError("keypair must be 64 bytes")
	}
	w := &KeypairWallet{key: key}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// LoadKeypairWallet reads a solana-keygen JSON file.
func LoadKeypairWallet(path string, opts ...KeypairOption) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeConfig, fmt.Sprintf("failed to read keypair %s", path), err)
	}
	return NewKeypairWallet(key, opts...)
}

func (w *KeypairWallet) PublicKey() solana.PublicKey { return w.key.PublicKey() }

// SignTransaction signs tx in place and returns it.
func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	if err := w.ask(ctx, describe(tx)); err != nil {
		return nil, err
	}
	if err := w.sign(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// SignAllTransactions asks for approval once for the whole batch.
func (w *KeypairWallet) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error) {
	if err := w.ask(ctx, fmt.Sprintf("batch of %d transactions", len(txs))); err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if err := w.sign(tx); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

// SignAndSendTransaction signs tx and broadcasts it through the configured sender.
func (w *KeypairWallet) SignAndSendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if w.sender == nil {
		return solana.Signature{}, serrors.NewConfigError("keypair wallet has no sender")
	}
	signed, err := w.SignTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return solana.Signature{}, serrors.New(serrors.ErrCodeValidation, "failed to serialize signed transaction", err)
	}
	// signed: a cancelled caller must not abandon a broadcast in progress
	return w.sender.SendRawTransaction(context.WithoutCancel(ctx), raw)
}

func (w *KeypairWallet) ask(ctx context.Context, summary string) error {
	if w.approve == nil {
		return nil
	}
	ok, err := w.approve(ctx, summary)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserRejected
	}
	return nil
}

func (w *KeypairWallet) sign(tx *solana.Transaction) error {
	own := w.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(own) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return serrors.New(serrors.ErrCodeValidation, "keypair cannot sign transaction", err)
	}
	return nil
}

func describe(tx *solana.Transaction) string {
	payer := "unknown"
	if len(tx.Message.AccountKeys) > 0 {
		payer = tx.Message.AccountKeys[0].String()
	}
	return fmt.Sprintf("%d instruction(s), fee payer %s", len(tx.Message.Instructions), payer)
}
