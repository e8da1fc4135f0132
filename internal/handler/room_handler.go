/*
Package handler wires the HTTP surface: health and stats endpoints and the websocket
upgrade that hands connections to the board Controller.
*/
package handler

import (
	"context"
	"net/http"
	"time"

	"inkroom/internal/pkg/errs"
	"inkroom/internal/pkg/logx"
	"inkroom/internal/pkg/resp"
)

// statsTimeout bounds how long a stats request waits on the event loop.
const statsTimeout = 2 * time.Second

// HandleStats reports live room and connection counts.
func HandleStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()

		stats, err := deps.Controller.Stats(ctx)
		if err != nil {
			logx.Error(err, "Failed to read controller stats")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, stats)
	}
}

// HandleHealth answers liveness probes.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp.RespondSuccess(w, r, map[string]string{
		"status":  "ok",
		"service": "inkroom",
	})
}
