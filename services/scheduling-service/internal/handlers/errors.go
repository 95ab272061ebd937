package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/engine"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind     string        `json:"kind"`
	Message  string        `json:"message"`
	Conflict *intervalJSON `json:"conflict,omitempty"`
}

type intervalJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidSlot:
		return http.StatusUnprocessableEntity
	case engine.KindSlotConflict, engine.KindTemporalInconsistency, engine.KindInvalidTransition:
		return http.StatusConflict
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindInvalidArgument:
		return http.StatusBadRequest
	case engine.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, loc *time.Location, err error) {
	kind := engine.KindOf(err)
	detail := errorDetail{Kind: string(kind), Message: err.Error()}
	switch kind {
	case engine.KindStoreUnavailable:
		detail.Message = "scheduling store unavailable, retry later"
	case engine.KindInternal:
		logger.Error("unexpected error", "err", err)
		detail.Message = "internal error"
	}
	if conflict, ok := engine.ConflictOf(err); ok {
		detail.Conflict = &intervalJSON{
			Start: conflict.Start.In(loc).Format(time.RFC3339),
			End:   conflict.End.In(loc).Format(time.RFC3339),
		}
	}
	httpx.WriteJSON(w, statusForKind(kind), errorBody{Error: detail})
}

func badRequest(w http.ResponseWriter, msg string) {
	httpx.WriteJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: string(engine.KindInvalidArgument), Message: msg}})
}
