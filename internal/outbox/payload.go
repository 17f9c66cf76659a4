package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/opentillhq/tillsync/pkg/db/models"
)

// JobPayload is the serialized delivery intent stored on an outbox job. It
// carries identifiers only; the sender re-hydrates all business fields from
// the local store at send time.
type JobPayload struct {
	SaleID     string `json:"sale_id"`
	ClientTxID string `json:"client_tx_id"`
	CompanyID  int64  `json:"company_id"`
	OutletID   int64  `json:"outlet_id"`
}

// NewJobPayload builds the payload for a completed sale.
func NewJobPayload(sale models.Sale) (json.RawMessage, error) {
	if sale.ClientTxID == nil || *sale.ClientTxID == "" {
		return nil, fmt.Errorf("sale %s has no client tx id", sale.ID)
	}
	payload := JobPayload{
		SaleID:     sale.ID.String(),
		ClientTxID: *sale.ClientTxID,
		CompanyID:  sale.CompanyID,
		OutletID:   sale.OutletID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	return raw, nil
}

// ParseJobPayload decodes a stored payload.
func ParseJobPayload(raw json.RawMessage) (JobPayload, error) {
	var payload JobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return JobPayload{}, fmt.Errorf("unmarshal job payload: %w", err)
	}
	if payload.ClientTxID == "" {
		return JobPayload{}, fmt.Errorf("job payload missing client tx id")
	}
	return payload, nil
}
