package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletDirectory resolves a user's registered wallets.
type WalletDirectory interface {
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
}

var (
	minBuyAmount  = decimal.RequireFromString("10")
	minSellAmount = decimal.RequireFromString("0.01")
)

const (
	maxBuyPlaces  = 6
	maxSellPlaces = 9
)

// Recorder appends the events that enter the log from outside the pipeline:
// user orders and confirmations from the ledger listener.
type Recorder struct {
	log     EventLog
	wallets WalletDirectory
}

func NewRecorder(log EventLog, wallets WalletDirectory) *Recorder {
	return &Recorder{log: log, wallets: wallets}
}

// CreateBuyOrder opens a buy workflow. An empty correlationID gets a new
// UUID.
func (r *Recorder) CreateBuyOrder(ctx context.Context, userID, correlationID string, amount decimal.Decimal) (*domain.Event, error) {
	if err := checkAmount(amount, minBuyAmount, maxBuyPlaces); err != nil {
		return nil, err
	}
	return r.openOrder(ctx, userID, correlationID, domain.KindBuyOrderCreated, domain.Record{
		OrderAmount: domain.Decimal(amount),
	})
}

// CreateSellOrder opens a sell workflow for amount tokens.
func (r *Recorder) CreateSellOrder(ctx context.Context, userID, correlationID string, amount decimal.Decimal) (*domain.Event, error) {
	if err := checkAmount(amount, minSellAmount, maxSellPlaces); err != nil {
		return nil, err
	}
	return r.openOrder(ctx, userID, correlationID, domain.KindSellOrderCreated, domain.Record{
		OrderAmount: domain.Decimal(amount),
	})
}

func (r *Recorder) openOrder(ctx context.Context, userID, correlationID string, kind domain.Kind, fresh domain.Record) (*domain.Event, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	correlationID, err := NormalizeCorrelationID(correlationID)
	if err != nil {
		return nil, err
	}

	wallet, err := r.wallets.GetWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up wallet: %w", err)
	}
	if wallet == nil {
		return nil, ErrWalletNotRegistered
	}

	if err := r.ensureNext(ctx, correlationID, kind); err != nil {
		return nil, err
	}

	fresh.CorrelationID = correlationID
	fresh.UserID = userID
	fresh.SettlementWallet = wallet.SettlementWallet
	fresh.TokenWallet = wallet.TokenWallet
	return r.log.Append(ctx, domain.Event{Kind: kind, Record: fresh})
}

// RecordSettlementReceived records a settlement-currency deposit for a buy
// order and computes the fee and the net value to buy with. txHash is the
// deposit transaction and may be empty.
func (r *Recorder) RecordSettlementReceived(ctx context.Context, fromWallet, correlationID string, amount decimal.Decimal, txHash string) (*domain.Event, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	order, err := r.orderFor(ctx, correlationID, domain.KindBuyOrderCreated)
	if err != nil {
		return nil, err
	}
	if !sameAddress(order.SettlementWallet, fromWallet) {
		return nil, ErrWalletMismatch
	}
	if err := r.ensureNext(ctx, order.CorrelationID, domain.KindSettlementReceived); err != nil {
		return nil, err
	}

	fee, net := BuyOrderValues(amount)
	return r.log.Append(ctx, CarryForward(*order, domain.KindSettlementReceived, domain.Record{
		SettlementReceived: domain.Decimal(amount),
		BuyFee:             domain.Decimal(fee),
		NetBuyValue:        domain.Decimal(net),
		DepositTxHash:      optionalRef(txHash),
	}))
}

// RecordTokenReceived records the user's token deposit for a sell order.
func (r *Recorder) RecordTokenReceived(ctx context.Context, fromWallet, correlationID string, amount decimal.Decimal, txHash string) (*domain.Event, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	order, err := r.orderFor(ctx, correlationID, domain.KindSellOrderCreated)
	if err != nil {
		return nil, err
	}
	if !sameAddress(order.TokenWallet, fromWallet) {
		return nil, ErrWalletMismatch
	}
	if err := r.ensureNext(ctx, order.CorrelationID, domain.KindTokenReceived); err != nil {
		return nil, err
	}

	return r.log.Append(ctx, CarryForward(*order, domain.KindTokenReceived, domain.Record{
		TokenReceived: domain.Decimal(amount),
		DepositTxHash: optionalRef(txHash),
	}))
}

// RecordMintSettled records the listener's confirmation of a mint.
func (r *Recorder) RecordMintSettled(ctx context.Context, correlationID, txHash string) (*domain.Event, error) {
	return r.confirm(ctx, correlationID, domain.KindMintInitiated, domain.KindMintSettled, txHash)
}

// RecordBurnSettled records the listener's confirmation of a burn.
func (r *Recorder) RecordBurnSettled(ctx context.Context, correlationID, txHash string) (*domain.Event, error) {
	return r.confirm(ctx, correlationID, domain.KindBurnInitiated, domain.KindBurnSettled, txHash)
}

func (r *Recorder) confirm(ctx context.Context, correlationID string, from, kind domain.Kind, txHash string) (*domain.Event, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%s: tx hash is required", kind)
	}
	prior, err := r.orderFor(ctx, correlationID, from)
	if err != nil {
		return nil, err
	}
	if err := r.ensureNext(ctx, prior.CorrelationID, kind); err != nil {
		return nil, err
	}
	return r.log.Append(ctx, CarryForward(*prior, kind, domain.Record{
		SettlementTxHash: domain.Ref(txHash),
	}))
}

func (r *Recorder) orderFor(ctx context.Context, correlationID string, kind domain.Kind) (*domain.Event, error) {
	id, err := NormalizeCorrelationID(correlationID)
	if err != nil {
		return nil, err
	}
	order, err := r.log.FindByCorrelation(ctx, id, kind)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", kind, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: no %s for %s", ErrOrderNotFound, kind, id)
	}
	return order, nil
}

// ensureNext checks that appending kind keeps the workflow on its path.
func (r *Recorder) ensureNext(ctx context.Context, correlationID string, kind domain.Kind) error {
	history, err := r.log.History(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	kinds := make([]domain.Kind, 0, len(history)+1)
	for _, e := range history {
		if e.Kind == kind {
			return fmt.Errorf("%s for %s: %w", kind, correlationID, domain.ErrDuplicateEvent)
		}
		kinds = append(kinds, e.Kind)
	}
	return ValidateSequence(append(kinds, kind))
}

func checkAmount(amount, minimum decimal.Decimal, places int32) error {
	if amount.LessThan(minimum) {
		return fmt.Errorf("%w: must be at least %s", ErrInvalidAmount, minimum)
	}
	if !amount.Equal(amount.Truncate(places)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, places)
	}
	return nil
}

// NormalizeCorrelationID parses id as a UUID and returns its canonical
// lower-case form.
func NormalizeCorrelationID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", errors.Join(ErrInvalidCorrelationID, err)
	}
	return parsed.String(), nil
}

func optionalRef(s string) *string {
	if s == "" {
		return nil
	}
	return domain.Ref(s)
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
