package signer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

type captureSender struct {
	raw [][]byte
}

func (s *captureSender) SendRawTransaction(_ context.Context, raw []byte) (solana.Signature, error) {
	s.raw = append(s.raw, raw)
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, err
	}
	return tx.Signatures[0], nil
}

func writeKeygenFile(t *testing.T, key solana.PrivateKey) string {
	t.Helper()
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keypair.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func compiledTransfer(t *testing.T, from solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx := transfer(t, from)
	tx.FeePayer = from
	tx.RecentBlockhash[0] = 1
	compiled, err := tx.Compile()
	require.NoError(t, err)
	return compiled
}

func TestLoadKeypairWallet(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	wallet, err := LoadKeypairWallet(writeKeygenFile(t, key))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), wallet.PublicKey())

	_, err = LoadKeypairWallet(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeConfig))

	_, err = NewKeypairWallet(solana.PrivateKey{1, 2, 3})
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeConfig))
}

func TestKeypairWalletSign(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	wallet, err := NewKeypairWallet(key)
	require.NoError(t, err)

	tx := compiledTransfer(t, key.PublicKey())
	signed, err := wallet.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Same(t, tx, signed)
	assert.NoError(t, signed.VerifySignatures())

	// a transaction needing another signer cannot be completed
	other := compiledTransfer(t, solana.NewWallet().PublicKey())
	_, err = wallet.SignTransaction(context.Background(), other)
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeValidation))
}

func TestKeypairWalletApproval(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	var summary string
	wallet, err := NewKeypairWallet(key, WithApproval(func(_ context.Context, s string) (bool, error) {
		summary = s
		return false, nil
	}))
	require.NoError(t, err)

	_, err = wallet.SignTransaction(context.Background(), compiledTransfer(t, key.PublicKey()))
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.Contains(t, summary, key.PublicKey().String())
}

func TestKeypairWalletSignAndSend(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	wallet, err := NewKeypairWallet(key)
	require.NoError(t, err)
	_, err = wallet.SignAndSendTransaction(context.Background(), compiledTransfer(t, key.PublicKey()))
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeConfig))

	sender := &captureSender{}
	wallet, err = NewKeypairWallet(key, WithSender(sender))
	require.NoError(t, err)

	tx := compiledTransfer(t, key.PublicKey())
	sig, err := wallet.SignAndSendTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, sender.raw, 1)
	assert.Equal(t, tx.Signatures[0], sig)
}
