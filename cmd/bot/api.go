package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Jacobbrewer1/warden/pkg/dataaccess"
	"github.com/Jacobbrewer1/warden/pkg/engine"
	"github.com/Jacobbrewer1/warden/pkg/entities"
	"github.com/Jacobbrewer1/warden/pkg/logging"
	"github.com/Jacobbrewer1/warden/pkg/request"
	"github.com/Jacobbrewer1/warden/pkg/scheduler"
	"github.com/gorilla/mux"
)

// api is the JSON admin surface of the engine.
type api struct {
	l      *slog.Logger
	engine *engine.Engine
	sched  *scheduler.Scheduler
}

func newAPI(l *slog.Logger, e *engine.Engine, sched *scheduler.Scheduler) *api {
	return &api{
		l:      l.With(slog.String(logging.KeyComponent, "api")),
		engine: e,
		sched:  sched,
	}
}

func (h *api) register(r *mux.Router) {
	s := r.PathPrefix("/api").Subrouter()

	handle := func(path string, c Controller, method string) {
		s.HandleFunc(path, middlewareHttp(h.l, c)).Methods(method)
	}

	handle("/guilds/{guild}/config", h.getGuild, http.MethodGet)
	handle("/guilds/{guild}/config", h.putGuild, http.MethodPut)
	handle("/guilds/{guild}/moderate", h.moderate, http.MethodPost)
	handle("/guilds/{guild}/users/{user}/sanctions", h.history, http.MethodGet)
	handle("/guilds/{guild}/sanctions", h.sanction, http.MethodPost)
	handle("/guilds/{guild}/sanctions/reverse", h.reverse, http.MethodPost)
	handle("/guilds/{guild}/users/{user}/tickets", h.userTickets, http.MethodGet)
	handle("/guilds/{guild}/tickets", h.createTicket, http.MethodPost)
	handle("/guilds/{guild}/tickets/{ticket}", h.getTicket, http.MethodGet)
	handle("/guilds/{guild}/tickets/{ticket}/resource", h.attachResource, http.MethodPut)
	handle("/guilds/{guild}/tickets/{ticket}/approve", h.approveTicket, http.MethodPost)
	handle("/guilds/{guild}/tickets/{ticket}/reject", h.rejectTicket, http.MethodPost)
	handle("/guilds/{guild}/tickets/{ticket}/close", h.closeTicket, http.MethodPost)
	handle("/sweep", h.sweep, http.MethodPost)
}

// statusFor maps an engine or storage error to a status code.
func statusFor(err error) int {
	switch {
	case engine.IsAction(err):
		return http.StatusBadGateway
	case engine.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrConflict),
		errors.Is(err, dataaccess.ErrDuplicateActiveTicket),
		errors.Is(err, dataaccess.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, dataaccess.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// actionFailure is the body of a 502. Result holds what was persisted before the platform action
// failed.
type actionFailure struct {
	request.MessageError
	Result any `json:"result,omitempty"`
}

// fail writes err. result is included for action errors, as it was persisted anyway.
func (h *api) fail(w http.ResponseWriter, r *http.Request, err error, result any) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.l.Error("Error handling request",
			slog.String("path", r.URL.Path),
			slog.String(logging.KeyError, err.Error()),
		)
		request.Encode(h.l, w, status, request.NewMessage(request.ErrInternalServer.Error()))
	case http.StatusBadGateway:
		h.l.Warn("Platform action failed",
			slog.String("path", r.URL.Path),
			slog.String(logging.KeyError, err.Error()),
		)
		request.Encode(h.l, w, status, &actionFailure{
			MessageError: *request.NewMessageError("Platform action failed", err),
			Result:       result,
		})
	default:
		body := request.NewMessageError(http.StatusText(status), err)
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			body.WithField(ve.Field)
		}
		request.Encode(h.l, w, status, body)
	}
}

func (h *api) badRequest(w http.ResponseWriter, err error) {
	request.Encode(h.l, w, http.StatusBadRequest, request.NewMessageError(http.StatusText(http.StatusBadRequest), err))
}

func ticketID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["ticket"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ticket id %q", mux.Vars(r)["ticket"])
	}
	return id, nil
}

func (h *api) getGuild(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Guild(r.Context(), mux.Vars(r)["guild"])
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, g)
}

func (h *api) putGuild(w http.ResponseWriter, r *http.Request) {
	g := new(entities.Guild)
	if err := request.Decode(r, g); err != nil {
		h.badRequest(w, err)
		return
	}
	g.ID = mux.Vars(r)["guild"]

	if err := h.engine.ConfigureGuild(r.Context(), g); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, g)
}

func (h *api) moderate(w http.ResponseWriter, r *http.Request) {
	req := new(engine.ModerateRequest)
	if err := request.Decode(r, req); err != nil {
		h.badRequest(w, err)
		return
	}
	req.GuildID = mux.Vars(r)["guild"]

	d, err := h.engine.Moderate(r.Context(), *req)
	if err != nil {
		h.fail(w, r, err, d)
		return
	}
	request.Encode(h.l, w, http.StatusOK, d)
}

func (h *api) history(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	recs, err := h.engine.History(r.Context(), vars["guild"], vars["user"])
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if recs == nil {
		recs = []entities.SanctionRecord{}
	}
	request.Encode(h.l, w, http.StatusOK, recs)
}

// sanctionBody is a manual sanction. Duration is a Go duration, for example "10m" or "72h".
type sanctionBody struct {
	SubjectID string        `json:"subject_id"`
	IssuerID  string        `json:"issuer_id"`
	Kind      entities.Kind `json:"kind"`
	Reason    string        `json:"reason"`
	Duration  string        `json:"duration,omitempty"`
}

func (h *api) sanction(w http.ResponseWriter, r *http.Request) {
	body := new(sanctionBody)
	if err := request.Decode(r, body); err != nil {
		h.badRequest(w, err)
		return
	}

	var d time.Duration
	if body.Duration != "" {
		var err error
		d, err = time.ParseDuration(body.Duration)
		if err != nil {
			h.badRequest(w, fmt.Errorf("invalid duration: %w", err))
			return
		}
	}

	rec, err := h.engine.Sanction(r.Context(), engine.SanctionRequest{
		GuildID:   mux.Vars(r)["guild"],
		SubjectID: body.SubjectID,
		IssuerID:  body.IssuerID,
		Kind:      body.Kind,
		Reason:    body.Reason,
		Duration:  d,
	})
	if err != nil {
		h.fail(w, r, err, rec)
		return
	}
	request.Encode(h.l, w, http.StatusCreated, rec)
}

type reverseBody struct {
	SubjectID string        `json:"subject_id"`
	IssuerID  string        `json:"issuer_id"`
	Kind      entities.Kind `json:"kind"`
	Reason    string        `json:"reason"`
}

func (h *api) reverse(w http.ResponseWriter, r *http.Request) {
	body := new(reverseBody)
	if err := request.Decode(r, body); err != nil {
		h.badRequest(w, err)
		return
	}

	rec, err := h.engine.Reverse(r.Context(), mux.Vars(r)["guild"], body.SubjectID, body.IssuerID, body.Kind, body.Reason)
	if err != nil {
		h.fail(w, r, err, rec)
		return
	}
	request.Encode(h.l, w, http.StatusCreated, rec)
}

func (h *api) userTickets(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ts, err := h.engine.Tickets(r.Context(), vars["guild"], vars["user"])
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if ts == nil {
		ts = []entities.TicketRecord{}
	}
	request.Encode(h.l, w, http.StatusOK, ts)
}

func (h *api) createTicket(w http.ResponseWriter, r *http.Request) {
	req := new(engine.CreateTicketRequest)
	if err := request.Decode(r, req); err != nil {
		h.badRequest(w, err)
		return
	}
	req.GuildID = mux.Vars(r)["guild"]

	t, err := h.engine.CreateTicket(r.Context(), *req)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusCreated, t)
}

func (h *api) getTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	t, err := h.engine.GetTicket(r.Context(), mux.Vars(r)["guild"], id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, t)
}

type resourceBody struct {
	ExternalRef string `json:"external_ref"`
}

func (h *api) attachResource(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	body := new(resourceBody)
	if err := request.Decode(r, body); err != nil {
		h.badRequest(w, err)
		return
	}

	t, err := h.engine.AttachTicketResource(r.Context(), mux.Vars(r)["guild"], id, body.ExternalRef)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, t)
}

func (h *api) approveTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	t, err := h.engine.ApproveTicket(r.Context(), mux.Vars(r)["guild"], id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, t)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *api) rejectTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	body := new(rejectBody)
	if err := request.Decode(r, body); err != nil {
		h.badRequest(w, err)
		return
	}

	t, err := h.engine.RejectTicket(r.Context(), mux.Vars(r)["guild"], id, body.Reason)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, t)
}

func (h *api) closeTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	t, err := h.engine.CloseTicket(r.Context(), mux.Vars(r)["guild"], id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, t)
}

// sweep runs both expiry sweeps now.
func (h *api) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sched.SweepNow(r.Context())
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	request.Encode(h.l, w, http.StatusOK, report)
}
