package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/handhunter/internal/api/response"
	"github.com/kiranshivaraju/handhunter/internal/consistency"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// MaxValidateHands bounds one POST /api/v1/hands/validate batch.
const MaxValidateHands = 1000

// NewValidateHandsHandler returns an http.HandlerFunc for
// POST /api/v1/hands/validate. Hands are checked, not stored.
func NewValidateHandsHandler(v *consistency.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Hands []models.ExtractedHand `json:"hands"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if len(req.Hands) == 0 {
			response.Error(w, response.CodeInvalidRequest, "hands must not be empty", nil)
			return
		}
		if len(req.Hands) > MaxValidateHands {
			response.Error(w, response.CodeInvalidRequest,
				fmt.Sprintf("at most %d hands per request", MaxValidateHands), nil)
			return
		}

		response.JSON(w, v.Analyze(req.Hands))
	}
}
