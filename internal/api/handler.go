package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"laundry-sync-backend/internal/apperr"
	"laundry-sync-backend/internal/fault"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/machine"
	"laundry-sync-backend/internal/notification"
	"laundry-sync-backend/internal/realtime"
	"laundry-sync-backend/internal/store"
	"laundry-sync-backend/internal/waitlist"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	registry *machine.Registry
	waitlist *waitlist.Service
	faults   *fault.Aggregator
	inbox    *notification.Dispatcher
	store    store.Store
	tokens   *identity.TokenStore
	hub      *realtime.Hub
	webpush  *webpush.Options
	log      *zap.Logger
}

// Deps lists the collaborators of a Handler. Store, Tokens, Hub and WebPush
// are optional; the routes that need them are not registered without them.
type Deps struct {
	Registry *machine.Registry
	Waitlist *waitlist.Service
	Faults   *fault.Aggregator
	Inbox    *notification.Dispatcher
	Store    store.Store
	Tokens   *identity.TokenStore
	Hub      *realtime.Hub
	WebPush  *webpush.Options
	Logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		registry: d.Registry,
		waitlist: d.Waitlist,
		faults:   d.Faults,
		inbox:    d.Inbox,
		store:    d.Store,
		tokens:   d.Tokens,
		hub:      d.Hub,
		webpush:  d.WebPush,
		log:      log.Named("api"),
	}
}

var errUnauthenticated = errors.New("missing or invalid bearer token")

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status code matching its kind.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"code":  apperr.CodeOf(err),
		"kind":  kind,
	})
}

func malformed(err error) error {
	return apperr.New(apperr.ErrMalformed, "%v", err)
}

func machineID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.ErrMalformed, "invalid machine id %q", c.Param("id"))
	}
	return id, nil
}
