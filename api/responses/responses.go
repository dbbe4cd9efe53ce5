package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteCreated(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusCreated, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as the public error envelope. Client faults are
// logged at warn; anything else is logged at error with its diagnosis.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	status, msg, details := typed.Public()
	if logg != nil {
		logError(ctx, logg, typed.Code(), err)
	}
	writeJSON(w, status, types.ErrorEnvelope{Error: types.APIError{
		Code:    string(typed.Code()),
		Message: msg,
		Details: details,
	}})
}

func logError(ctx context.Context, logg *logger.Logger, code pkgerrors.Code, err error) {
	if pkgerrors.MetadataFor(code).ClientFault {
		fields := map[string]any{"error_code": string(code), "error": err.Error()}
		if reason := pkgerrors.ReasonOf(err); reason != "" {
			fields["reason"] = string(reason)
		}
		logg.Warn(logg.WithFields(ctx, fields), "request.rejected")
		return
	}
	fields := pkgerrors.Diagnose(err).Fields()
	fields["error_code"] = string(code)
	logg.Error(logg.WithFields(ctx, fields), "request.error", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
