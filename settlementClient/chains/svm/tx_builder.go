package svm

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/idl"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
)

// CampaignIDLength is the fixed width of the campaign id argument.
const CampaignIDLength = 64

// Instruction names.
const (
	IxInitializeCampaign = "initialize_campaign"
	IxContribute         = "contribute"
	IxCreateDeal         = "create_deal"
	IxAcceptDeal         = "accept_deal"
	IxRejectDeal         = "reject_deal"
	IxCancelDeal         = "cancel_deal"
	IxReleaseMilestone   = "release_milestone"
	IxCompleteDeal       = "complete_deal"
)

// Account names, also used as keys of BuildResult.Addresses.
const (
	AccountCampaign        = "campaign"
	AccountCampaignVault   = "campaign_vault"
	AccountContribution    = "contribution"
	AccountCreator         = "creator"
	AccountContributor     = "contributor"
	AccountTreasury        = "treasury"
	AccountFeeVault        = "fee_vault"
	AccountTreasuryProgram = "treasury_program"
	AccountDeal            = "deal"
	AccountDealEscrowVault = "deal_escrow_vault"
	AccountMilestone       = "milestone"
	AccountInvestor        = "investor"
)

// ProgramSource resolves the deployed program identifiers.
type ProgramSource interface {
	Get(ctx context.Context) (*registry.Programs, error)
}

// DefinitionSource loads interface definitions.
type DefinitionSource interface {
	Load(ctx context.Context, programID solana.PublicKey) (*idl.Definition, error)
}

// BuildResult is an unsigned transaction plus the derived addresses a caller needs
// to report downstream.
type BuildResult struct {
	Tx        *UnsignedTransaction
	Addresses map[string]solana.PublicKey
}

type InitializeCampaignParams struct {
	Creator     solana.PublicKey
	CampaignID  string
	FundingGoal U64Arg
	Deadline    int64
}

type ContributeParams struct {
	Campaign    solana.PublicKey
	Contributor solana.PublicKey
	Lamports    uint64
}

type CreateDealParams struct {
	Investor       solana.PublicKey
	Creator        solana.PublicKey
	ProjectID      string
	Lamports       uint64
	MilestoneCount uint32
}

// DealActionParams identifies an existing deal and its two parties.
type DealActionParams struct {
	Deal     solana.PublicKey
	Investor solana.PublicKey
	Creator  solana.PublicKey
}

type ReleaseMilestoneParams struct {
	DealActionParams
	Index    uint32
	Lamports uint64
}

// TxBuilder constructs unsigned settlement transactions from typed inputs.
type TxBuilder struct {
	programs    ProgramSource
	definitions DefinitionSource
	logger      zerolog.Logger
}

func NewTxBuilder(programs ProgramSource, definitions DefinitionSource, logger zerolog.Logger) *TxBuilder {
	return &TxBuilder{
		programs:    programs,
		definitions: definitions,
		logger:      logger.With().Str("component", "svm_tx_builder").Logger(),
	}
}

type initializeCampaignArgs struct {
	CampaignID  [CampaignIDLength]byte
	FundingGoal uint64
	Deadline    int64
}

// InitializeCampaign builds the campaign creation transaction.
func (tb *TxBuilder) InitializeCampaign(ctx context.Context, p InitializeCampaignParams) (*BuildResult, error) {
	if len(p.CampaignID) > CampaignIDLength {
		return nil, serrors.NewArgumentLengthMismatchError(IxInitializeCampaign, CampaignIDLength, len(p.CampaignID))
	}
	if p.FundingGoal == 0 {
		return nil, serrors.NewValidationError("funding goal must be positive")
	}
	if p.Deadline <= 0 {
		return nil, serrors.NewValidationError("deadline must be a positive unix timestamp")
	}

	programs, err := tb.programs.Get(ctx)
	if err != nil {
		return nil, err
	}
	campaign, err := DeriveCampaign(programs.Campaign, p.Creator, p.CampaignID)
	if err != nil {
		return nil, err
	}
	vault, err := DeriveCampaignVault(programs.Campaign, campaign.Address)
	if err != nil {
		return nil, err
	}

	args := initializeCampaignArgs{FundingGoal: uint64(p.FundingGoal), Deadline: p.Deadline}
	copy(args.CampaignID[:], p.CampaignID)

	accounts := map[string]solana.PublicKey{
		AccountCampaign:      campaign.Address,
		AccountCampaignVault: vault.Address,
		AccountCreator:       p.Creator,
	}
	return tb.single(ctx, programs.Campaign, IxInitializeCampaign, accounts, &args)
}

type amountArgs struct {
	Amount uint64
}

// Contribute builds a contribution into an existing on-chain campaign.
func (tb *TxBuilder) Contribute(ctx context.Context, p ContributeParams) (*BuildResult, error) {
	if p.Lamports == 0 {
		return nil, serrors.NewValidationError("contribution amount must be positive")
	}
	programs, err := tb.programs.Get(ctx)
	if err != nil {
		return nil, err
	}

	vault, err := DeriveCampaignVault(programs.Campaign, p.Campaign)
	if err != nil {
		return nil, err
	}
	contribution, err := DeriveContribution(programs.Campaign, p.Campaign, p.Contributor)
	if err != nil {
		return nil, err
	}
	treasury, feeVault, err := deriveTreasuryAccounts(programs.Treasury)
	if err != nil {
		return nil, err
	}

	accounts := map[string]solana.PublicKey{
		AccountCampaign:        p.Campaign,
		AccountCampaignVault:   vault.Address,
		AccountContribution:    contribution.Address,
		AccountContributor:     p.Contributor,
		AccountTreasury:        treasury,
		AccountFeeVault:        feeVault,
		AccountTreasuryProgram: programs.Treasury,
	}
	return tb.single(ctx, programs.Campaign, IxContribute, accounts, &amountArgs{Amount: p.Lamports})
}

type createDealArgs struct {
	ProjectID      [32]byte
	Amount         uint64
	MilestoneCount uint32
}

// CreateDeal builds the escrow funding transaction for a private deal.
func (tb *TxBuilder) CreateDeal(ctx context.Context, p CreateDealParams) (*BuildResult, error) {
	if p.Lamports == 0 {
		return nil, serrors.NewValidationError("deal amount must be positive")
	}
	if p.MilestoneCount == 0 {
		return nil, serrors.NewValidationError("deal needs at least one milestone")
	}
	programs, err := tb.programs.Get(ctx)
	if err != nil {
		return nil, err
	}

	deal, err := DeriveDeal(programs.DealEscrow, p.Investor, p.ProjectID)
	if err != nil {
		return nil, err
	}
	vault, err := DeriveDealEscrowVault(programs.DealEscrow, deal.Address)
	if err != nil {
		return nil, err
	}

	args := createDealArgs{Amount: p.Lamports, MilestoneCount: p.MilestoneCount}
	copy(args.ProjectID[:], ProjectSeed(p.ProjectID))

	accounts := map[string]solana.PublicKey{
		AccountDeal:            deal.Address,
		AccountDealEscrowVault: vault.Address,
		AccountInvestor:        p.Investor,
		AccountCreator:         p.Creator,
	}
	return tb.single(ctx, programs.DealEscrow, IxCreateDeal, accounts, &args)
}

// AcceptDeal is signed by the creator.
func (tb *TxBuilder) AcceptDeal(ctx context.Context, p DealActionParams) (*BuildResult, error) {
	return tb.dealAction(ctx, IxAcceptDeal, p)
}

// RejectDeal is signed by the creator and refunds the investor.
func (tb *TxBuilder) RejectDeal(ctx context.Context, p DealActionParams) (*BuildResult, error) {
	return tb.dealAction(ctx, IxRejectDeal, p)
}

// CancelDeal is signed by the investor before acceptance.
func (tb *TxBuilder) CancelDeal(ctx context.Context, p DealActionParams) (*BuildResult, error) {
	return tb.dealAction(ctx, IxCancelDeal, p)
}

// CompleteDeal releases the remaining escrow to the creator.
func (tb *TxBuilder) CompleteDeal(ctx context.Context, p DealActionParams) (*BuildResult, error) {
	return tb.dealAction(ctx, IxCompleteDeal, p)
}

type releaseMilestoneArgs struct {
	MilestoneIndex uint32
	Amount         uint64
}

// ReleaseMilestone pays one milestone out of escrow.
func (tb *TxBuilder) ReleaseMilestone(ctx context.Context, p ReleaseMilestoneParams) (*BuildResult, error) {
	if p.Lamports == 0 {
		return nil, serrors.NewValidationError("milestone amount must be positive")
	}
	programs, err := tb.programs.Get(ctx)
	if err != nil {
		return nil, err
	}

	vault, err := DeriveDealEscrowVault(programs.DealEscrow, p.Deal)
	if err != nil {
		return nil, err
	}
	milestone, err := DeriveMilestone(programs.DealEscrow, p.Deal, p.Index)
	if err != nil {
		return nil, err
	}
	treasury, feeVault, err := deriveTreasuryAccounts(programs.Treasury)
	if err != nil {
		return nil, err
	}

	accounts := map[string]solana.PublicKey{
		AccountDeal:            p.Deal,
		AccountDealEscrowVault: vault.Address,
		AccountMilestone:       milestone.Address,
		AccountInvestor:        p.Investor,
		AccountCreator:         p.Creator,
		AccountTreasury:        treasury,
		AccountFeeVault:        feeVault,
	}
	args := releaseMilestoneArgs{MilestoneIndex: p.Index, Amount: p.Lamports}
	return tb.single(ctx, programs.DealEscrow, IxReleaseMilestone, accounts, &args)
}

func (tb *TxBuilder) dealAction(ctx context.Context, name string, p DealActionParams) (*BuildResult, error) {
	programs, err := tb.programs.Get(ctx)
	if err != nil {
		return nil, err
	}
	vault, err := DeriveDealEscrowVault(programs.DealEscrow, p.Deal)
	if err != nil {
		return nil, err
	}
	accounts := map[string]solana.PublicKey{
		AccountDeal:            p.Deal,
		AccountDealEscrowVault: vault.Address,
		AccountInvestor:        p.Investor,
		AccountCreator:         p.Creator,
	}
	return tb.single(ctx, programs.DealEscrow, name, accounts, nil)
}

// single builds a one-instruction transaction. Only the accounts the instruction
// actually uses are reported back in the result.
func (tb *TxBuilder) single(ctx context.Context, programID solana.PublicKey, name string, accounts map[string]solana.PublicKey, args interface{}) (*BuildResult, error) {
	ix, used, err := tb.buildInstruction(ctx, programID, name, accounts, args)
	if err != nil {
		tb.logger.Warn().Err(err).Str("instruction", name).Msg("failed to build instruction")
		return nil, err
	}
	tb.logger.Debug().
		Str("instruction", name).
		Str("program", programID.String()).
		Int("accounts", len(ix.Accounts)).
		Int("data_len", len(ix.Data)).
		Msg("instruction built")
	return &BuildResult{Tx: NewUnsignedTransaction(ix), Addresses: used}, nil
}

func (tb *TxBuilder) buildInstruction(ctx context.Context, programID solana.PublicKey, name string, accounts map[string]solana.PublicKey, args interface{}) (Instruction, map[string]solana.PublicKey, error) {
	def, err := tb.definitions.Load(ctx, programID)
	if err != nil {
		return Instruction{}, nil, err
	}
	ixDef, ok := def.Instruction(name)
	if !ok {
		return Instruction{}, nil, serrors.New(serrors.ErrCodeDefinitionNotFound,
			fmt.Sprintf("program %s has no instruction %q", programID, name), nil)
	}

	var payload []byte
	if args != nil {
		payload, err = bin.MarshalBorsh(args)
		if err != nil {
			return Instruction{}, nil, serrors.NewInternalError(fmt.Sprintf("failed to encode %s arguments", name), err)
		}
	}
	if want, fixed := def.ArgsSize(name); fixed && want != len(payload) {
		return Instruction{}, nil, serrors.NewArgumentLengthMismatchError(name, want, len(payload))
	}

	refs := make([]AccountRef, 0, len(ixDef.Accounts))
	used := make(map[string]solana.PublicKey, len(ixDef.Accounts))
	for _, meta := range ixDef.Accounts {
		key, found, err := resolveAccount(meta, accounts)
		if err != nil {
			return Instruction{}, nil, err
		}
		if !found {
			if meta.Optional {
				continue
			}
			return Instruction{}, nil, serrors.NewAccountUndefinedError(name, meta.Name)
		}
		refs = append(refs, AccountRef{Address: key, IsSigner: meta.Signer, IsWritable: meta.Writable})
		if meta.Address == "" {
			used[meta.Name] = key
		}
	}

	data := make([]byte, 0, len(ixDef.Discriminator)+len(payload))
	data = append(data, ixDef.Discriminator[:]...)
	data = append(data, payload...)

	return Instruction{ProgramID: programID, Accounts: refs, Data: data}, used, nil
}

func resolveAccount(meta idl.AccountMeta, accounts map[string]solana.PublicKey) (solana.PublicKey, bool, error) {
	if meta.Address != "" {
		key, err := solana.PublicKeyFromBase58(meta.Address)
		if err != nil {
			return solana.PublicKey{}, false, serrors.New(serrors.ErrCodeValidation,
				fmt.Sprintf("fixed address of account %q is malformed", meta.Name), err)
		}
		return key, true, nil
	}
	key, ok := accounts[meta.Name]
	if !ok || key.IsZero() {
		return solana.PublicKey{}, false, nil
	}
	return key, true, nil
}

func deriveTreasuryAccounts(treasuryProgram solana.PublicKey) (solana.PublicKey, solana.PublicKey, error) {
	treasury, err := DeriveTreasury(treasuryProgram)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	feeVault, err := DeriveFeeVault(treasuryProgram, treasury.Address)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return treasury.Address, feeVault.Address, nil
}
