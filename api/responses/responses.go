package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteRejection renders a business outcome that never became an error. The
// status comes from the code's metadata, same as the error path.
func WriteRejection(w http.ResponseWriter, code pkgerrors.Code, message string) {
	meta := pkgerrors.MetadataFor(code)
	if message == "" {
		message = meta.PublicMessage
	}
	writeJSON(w, meta.HTTPStatus, errorEnvelope(string(code), message, nil))
}

// WriteError renders err's public form and logs the full chain. Untyped
// errors degrade to the internal error shape.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	var details any
	if meta.DetailsAllowed {
		details = typed.Details()
	}

	logFailure(ctx, logg, err)
	writeJSON(w, meta.HTTPStatus, errorEnvelope(string(typed.Code()), publicMessage(typed, meta), details))
}

// publicMessageCodes lists the codes whose attached message is written for
// end users and may pass through verbatim. Everything else renders the
// metadata default so internals never leak.
var publicMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:          true,
	pkgerrors.CodeUnauthorized:        true,
	pkgerrors.CodeForbidden:           true,
	pkgerrors.CodeNotFound:            true,
	pkgerrors.CodeConflict:            true,
	pkgerrors.CodeStateConflict:       true,
	pkgerrors.CodeIdempotency:         true,
	pkgerrors.CodeRateLimit:           true,
	pkgerrors.CodeCourseNotFound:      true,
	pkgerrors.CodeDuplicateEnrollment: true,
	pkgerrors.CodeSelfReferral:        true,
	pkgerrors.CodeCouponUnavailable:   true,
	pkgerrors.CodeCouponExpired:       true,
	pkgerrors.CodeCouponReserved:      true,
	pkgerrors.CodeInvalidSignature:    true,
	pkgerrors.CodeMissingCorrelation:  true,
}

func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if publicMessageCodes[typed.Code()] {
		if msg := typed.Message(); msg != "" {
			return msg
		}
	}
	return meta.PublicMessage
}

func logFailure(ctx context.Context, logg *logger.Logger, err error) {
	if logg == nil {
		return
	}
	dump := pkgerrors.Dump(err)
	ctx = logg.WithFields(ctx, map[string]any{
		"error":         dump.TopMessage,
		"error_code":    dump.Code,
		"error_chain":   dump.Chain,
		"pg_code":       dump.PGCode,
		"pg_detail":     dump.PGDetail,
		"pg_message":    dump.PGMessage,
		"pg_table":      dump.PGTable,
		"pg_column":     dump.PGColumn,
		"pg_constraint": dump.PGConstraint,
	})
	logg.Error(ctx, "request.error", err)
}

func errorEnvelope(code, message string, details any) types.ErrorEnvelope {
	return types.ErrorEnvelope{Error: types.APIError{Code: code, Message: message, Details: details}}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
