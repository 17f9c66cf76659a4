package auth

import "github.com/golang-jwt/jwt/v5"

// SyncTokenPayload captures the data available when minting a sync JWT.
type SyncTokenPayload struct {
	UserID    int64
	CompanyID int64
	OutletIDs []int64
	JTI       string
}

// SyncTokenClaims is the typed JWT carried by terminals on push requests.
// CompanyID and OutletIDs are the authenticated scope the ingestion endpoint
// enforces per item.
type SyncTokenClaims struct {
	UserID    int64   `json:"user_id"`
	CompanyID int64   `json:"company_id"`
	OutletIDs []int64 `json:"outlet_ids"`
	jwt.RegisteredClaims
}

// AllowsOutlet reports whether the token grants access to the outlet.
func (c *SyncTokenClaims) AllowsOutlet(outletID int64) bool {
	if c == nil {
		return false
	}
	for _, id := range c.OutletIDs {
		if id == outletID {
			return true
		}
	}
	return false
}
