package api

import (
	"net/http"

	"fidexa/payment"
)

// handlePaymentCallback receives processor notifications. Replays of an
// already seen event id answer 200 with outcome "duplicate".
func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var cb payment.Callback
	if !decodeJSON(w, r, &cb) {
		return
	}

	outcome, err := s.paymentService.HandleCallback(r.Context(), cb)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
