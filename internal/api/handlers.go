package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"arenachat/internal/auth"
	"arenachat/internal/config"
	"arenachat/internal/filestore"
	"arenachat/internal/hub"
	"arenachat/internal/models"

	"github.com/google/uuid"
)

// maxUploadBytes bounds a single attachment upload.
const maxUploadBytes = 10 << 20

type contextKey string

const identityKey contextKey = "identity"

// API holds the HTTP handlers for the provisioning and upload surface.
// Everything here is driven by the platform or by authenticated clients;
// the realtime path lives on the WebSocket.
type API struct {
	auth   *auth.Service
	hub    *hub.Hub
	files  filestore.Store
	store  SubscriptionStore
	cfg    *config.Config
	logger *slog.Logger
}

// SubscriptionStore persists browser push subscriptions.
type SubscriptionStore interface {
	UpsertPushSubscription(id, identityID string, subscription []byte) error
	DeletePushSubscription(id string) error
}

func New(authSvc *auth.Service, h *hub.Hub, files filestore.Store, store SubscriptionStore, cfg *config.Config, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{auth: authSvc, hub: h, files: files, store: store, cfg: cfg, logger: logger}
}

func (a *API) token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("token")
}

// RequireAuth verifies the bearer token and stashes the identity in the
// request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.auth.Verify(a.token(r))
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, models.ErrorCodeUnauthenticated, "invalid or expired token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	}
}

func identityFrom(r *http.Request) models.Identity {
	identity, _ := r.Context().Value(identityKey).(models.Identity)
	return identity
}

func (a *API) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ProvisionRoomHandler creates a room. Rooms only ever come from here;
// the realtime path cannot create them.
func (a *API) ProvisionRoomHandler(w http.ResponseWriter, r *http.Request) {
	var meta models.Room
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		a.writeError(w, http.StatusBadRequest, models.ErrorCodeValidation, "invalid request body")
		return
	}

	room, err := a.hub.Provision(meta)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, room.Meta())
}

func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.hub.Delete(r.PathValue("id")); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.hub.Rooms())
}

// UploadHandler stores an attachment blob and returns the metadata the
// client embeds in a later sendMessage.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, models.ErrorCodeValidation, "missing file field")
		return
	}
	defer file.Close()

	meta, err := a.files.Save(file, maxUploadBytes)
	if err != nil {
		if errors.Is(err, filestore.ErrTooLarge) {
			a.writeError(w, http.StatusRequestEntityTooLarge, models.ErrorCodeValidation, "file too large")
			return
		}
		a.logger.Error("failed to store upload", "error", err)
		a.writeError(w, http.StatusInternalServerError, models.ErrorCodeValidation, "failed to store upload")
		return
	}

	a.writeJSON(w, http.StatusCreated, models.Attachment{
		Type:     meta.Kind,
		Name:     header.Filename,
		MimeType: meta.Mime,
		FileID:   meta.FileID,
	})
}

func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	rc, meta, err := a.files.Open(r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	defer rc.Close()

	// Content type comes from magic-byte sniffing at upload time;
	// downloads never guess from names.
	w.Header().Set("Content-Type", meta.Mime)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Warn("file download aborted", "error", err)
	}
}

// SubscribePushHandler stores the browser's push subscription as handed
// over, opaque to us until delivery time.
func (a *API) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16*1024))
	if err != nil || len(body) == 0 || !json.Valid(body) {
		a.writeError(w, http.StatusBadRequest, models.ErrorCodeValidation, "invalid subscription payload")
		return
	}

	id := uuid.NewString()
	if err := a.store.UpsertPushSubscription(id, identityFrom(r).ID, body); err != nil {
		a.logger.Error("failed to store push subscription", "error", err)
		a.writeError(w, http.StatusInternalServerError, models.ErrorCodeValidation, "failed to store subscription")
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeletePushSubscription(r.PathValue("id")); err != nil {
		a.logger.Error("failed to delete push subscription", "error", err)
		a.writeError(w, http.StatusInternalServerError, models.ErrorCodeValidation, "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, code models.ErrorCode, message string) {
	a.writeJSON(w, status, map[string]string{"code": string(code), "message": message})
}

func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		a.writeError(w, http.StatusNotFound, models.ErrorCodeNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		a.writeError(w, http.StatusConflict, models.ErrorCodeConflict, err.Error())
	case errors.Is(err, models.ErrValidation):
		a.writeError(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
	case errors.Is(err, models.ErrForbidden):
		a.writeError(w, http.StatusForbidden, models.ErrorCodeForbidden, err.Error())
	default:
		a.logger.Error("request failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, models.ErrorCodeValidation, "internal error")
	}
}
