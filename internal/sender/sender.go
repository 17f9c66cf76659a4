// Package sender turns one outbox job into a push against the server
// ingestion endpoint and interprets the per-item verdict.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opentillhq/tillsync/internal/outbox"
	"github.com/opentillhq/tillsync/internal/sales"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/types"
)

const (
	correlationHeader  = "X-Correlation-Id"
	defaultSendTimeout = 15 * time.Second
)

// Params configure a Sender.
type Params struct {
	Sales                *sales.Repository
	HTTPClient           *http.Client
	PushURL              string
	BearerToken          string
	Timeout              time.Duration
	RetryableServerCodes []string
	Logger               *logger.Logger
}

// Sender builds one wire request per job. Batching stays a server
// capability; the client always pushes a batch of one.
type Sender struct {
	sales      *sales.Repository
	httpClient *http.Client
	pushURL    string
	token      string
	timeout    time.Duration
	retryCodes map[string]struct{}
	logg       *logger.Logger
}

func New(params Params) (*Sender, error) {
	if params.Sales == nil {
		return nil, errors.New("sales repository is required")
	}
	if params.PushURL == "" {
		return nil, errors.New("push url is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	retryCodes := make(map[string]struct{}, len(params.RetryableServerCodes))
	for _, code := range params.RetryableServerCodes {
		if code != "" {
			retryCodes[code] = struct{}{}
		}
	}
	return &Sender{
		sales:      params.Sales,
		httpClient: httpClient,
		pushURL:    params.PushURL,
		token:      params.BearerToken,
		timeout:    timeout,
		retryCodes: retryCodes,
		logg:       params.Logger,
	}, nil
}

// Send hydrates the authoritative sale from local storage, re-validates it
// against the job payload, and pushes it to the server. The payload is
// trusted for identifiers only.
func (s *Sender) Send(ctx context.Context, job models.OutboxJob) (outbox.SendOutcome, error) {
	correlationID := uuid.NewString()

	payload, err := outbox.ParseJobPayload(job.Payload)
	if err != nil {
		return outbox.SendOutcome{}, permanentErr(correlationID, "corrupt job payload", err)
	}

	wireTx, err := s.hydrate(ctx, correlationID, payload)
	if err != nil {
		return outbox.SendOutcome{}, err
	}

	body, err := json.Marshal(types.PushRequest{
		OutletID:     payload.OutletID,
		Transactions: []types.WireTransaction{*wireTx},
	})
	if err != nil {
		return outbox.SendOutcome{}, permanentErr(correlationID, "marshal push request", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.pushURL, bytes.NewReader(body))
	if err != nil {
		return outbox.SendOutcome{}, permanentErr(correlationID, "build push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlationHeader, correlationID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Includes timeouts via context cancellation: the send may or may
		// not have landed, so it must be retried against the idempotent
		// server.
		return outbox.SendOutcome{}, retryableErr(correlationID, "push transport failure", err)
	}
	defer resp.Body.Close()

	if echoed := resp.Header.Get(correlationHeader); echoed != "" {
		correlationID = echoed
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("push rejected with status %d", resp.StatusCode)
		if statusRetryable(resp.StatusCode) {
			return outbox.SendOutcome{}, retryableErr(correlationID, msg, nil)
		}
		return outbox.SendOutcome{}, permanentErr(correlationID, msg, nil)
	}

	return s.interpret(correlationID, payload.ClientTxID, resp.Body)
}

// hydrate loads the live sale rows and defends against payload drift: the
// stored sale must still be completed and carry the same idempotency key and
// scope the payload was enqueued with.
func (s *Sender) hydrate(ctx context.Context, correlationID string, payload outbox.JobPayload) (*types.WireTransaction, error) {
	saleID, err := uuid.Parse(payload.SaleID)
	if err != nil {
		return nil, permanentErr(correlationID, "invalid sale id in payload", err)
	}
	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return nil, permanentErr(correlationID, "sale missing from local store", err)
	}
	if !sale.Status.IsSyncable() {
		return nil, permanentErr(correlationID,
			fmt.Sprintf("sale is %s, not syncable", sale.Status), nil)
	}
	if sale.ClientTxID == nil || *sale.ClientTxID != payload.ClientTxID {
		return nil, permanentErr(correlationID, "client tx id drifted from payload", nil)
	}
	if sale.CompanyID != payload.CompanyID || sale.OutletID != payload.OutletID {
		return nil, permanentErr(correlationID, "sale scope drifted from payload", nil)
	}
	if sale.TrxAt == nil {
		return nil, permanentErr(correlationID, "completed sale has no transaction time", nil)
	}

	items, err := s.sales.Items(ctx, saleID)
	if err != nil {
		return nil, retryableErr(correlationID, "load sale items", err)
	}
	payments, err := s.sales.Payments(ctx, saleID)
	if err != nil {
		return nil, retryableErr(correlationID, "load sale payments", err)
	}
	if len(items) == 0 || len(payments) == 0 {
		return nil, permanentErr(correlationID, "completed sale has no item or payment rows", nil)
	}

	wireItems := make([]types.WireItem, 0, len(items))
	for _, item := range items {
		wireItems = append(wireItems, types.WireItem{
			ItemID:        item.ItemID,
			Qty:           item.Qty,
			PriceSnapshot: item.PriceSnapshot,
			NameSnapshot:  item.NameSnapshot,
		})
	}
	wirePayments := make([]types.WirePayment, 0, len(payments))
	for _, payment := range payments {
		wirePayments = append(wirePayments, types.WirePayment{
			Method: payment.Method,
			Amount: payment.Amount,
		})
	}

	return &types.WireTransaction{
		ClientTxID:    payload.ClientTxID,
		CompanyID:     sale.CompanyID,
		OutletID:      sale.OutletID,
		CashierUserID: sale.CashierUserID,
		Status:        sale.Status,
		TrxAt:         *sale.TrxAt,
		Items:         wireItems,
		Payments:      wirePayments,
	}, nil
}

// interpret decodes the batch verdict and resolves this job's entry. A
// malformed body or a missing entry is an ambiguous delivery and stays
// retryable.
func (s *Sender) interpret(correlationID, clientTxID string, body io.Reader) (outbox.SendOutcome, error) {
	var parsed types.PushResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return outbox.SendOutcome{}, retryableErr(correlationID, "unparseable push response", err)
	}

	for _, item := range parsed.Results {
		if item.ClientTxID != clientTxID {
			continue
		}
		switch item.Result {
		case enums.PushOK, enums.PushDuplicate:
			return outbox.SendOutcome{
				Verdict:       item.Result,
				Message:       item.Message,
				CorrelationID: correlationID,
			}, nil
		case enums.PushError:
			msg := fmt.Sprintf("server rejected transaction: %s", item.Message)
			if serverCodeRetryable(item.Message, s.retryCodes) {
				return outbox.SendOutcome{}, retryableErr(correlationID, msg, nil)
			}
			return outbox.SendOutcome{}, permanentErr(correlationID, msg, nil)
		default:
			return outbox.SendOutcome{}, retryableErr(correlationID,
				fmt.Sprintf("unknown verdict %q", item.Result), nil)
		}
	}

	return outbox.SendOutcome{}, retryableErr(correlationID, "push response missing this transaction", nil)
}
