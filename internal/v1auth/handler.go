package v1auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"v1auth/pkg/logger"
	"v1auth/pkg/problems"
)

// Response headers of a successful authentication.
const (
	HeaderAuthToken    = "X-Auth-Token"
	HeaderStorageToken = "X-Storage-Token"
	HeaderStorageURL   = "X-Storage-Url"
	HeaderTokenExpires = "X-Auth-Token-Expires"
)

// Handler adapts the Service to HTTP. Prefix is stripped from the path before shape matching.
type Handler struct {
	svc    *Service
	prefix string
	log    logger.Sugared
}

func NewHandler(svc *Service, prefix string, log logger.Sugared) *Handler {
	return &Handler{svc: svc, prefix: strings.TrimRight(prefix, "/"), log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracer.Start(r.Context(), "v1auth")
	defer span.End()
	log := logger.FromContext(ctx, h.log)

	outcome := outcomeIssued
	defer func() {
		RequestsTotal.WithLabelValues(outcome).Inc()
		RequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	creds, err := Normalize(strings.TrimPrefix(r.URL.Path, h.prefix), r.Header)
	var grant Grant
	if err == nil {
		grant, err = h.svc.Authenticate(ctx, creds)
	}

	var bf *BackendFault
	switch {
	case err == nil:
		w.Header().Set(HeaderAuthToken, grant.Token)
		w.Header().Set(HeaderStorageToken, grant.Token)
		w.Header().Set(HeaderStorageURL, grant.StorageURL)
		w.Header().Set(HeaderTokenExpires, strconv.FormatInt(int64(grant.ExpiresIn/time.Second), 10))
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		log.Infow("token issued", "user", grant.UserID, "tenant", grant.TenantID)
	case errors.Is(err, ErrMalformed):
		outcome = outcomeMalformed
		log.Debugw("rejected", "reason", err)
		problems.Write(w, http.StatusBadRequest, "bad-request", "Bad Request")
	case errors.Is(err, ErrUnauthorized):
		outcome = outcomeUnauthorized
		log.Infow("rejected", "reason", err)
		problems.Write(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
	default:
		outcome = outcomeBackendFault
		if errors.As(err, &bf) {
			log.Errorw("backend fault", "op", bf.Op, "err", bf.Err)
		} else {
			log.Errorw("backend fault", "err", err)
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		problems.Write(w, http.StatusInternalServerError, "backend-fault", "Internal Server Error")
	}
}
