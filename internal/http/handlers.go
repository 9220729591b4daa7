package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/darbak/internal/catalog"
	"github.com/example/darbak/internal/dialogue"
	"github.com/example/darbak/internal/directory"
	"github.com/example/darbak/internal/lifecycle"
	"github.com/example/darbak/internal/models"
	"github.com/example/darbak/internal/notify"
	"github.com/example/darbak/internal/observability"
	"github.com/example/darbak/internal/session"
	"github.com/example/darbak/internal/storage"
)

type Server struct {
	engine   *lifecycle.Engine
	dir      directory.Directory
	store    storage.MatchStore
	sessions session.Store
	flow     *dialogue.Flow
	catalog  *catalog.Catalog
	wsreg    *notify.WSRegistry
	logger   *slog.Logger
	mux      *mux.Router
}

type Deps struct {
	Engine   *lifecycle.Engine
	Dir      directory.Directory
	Store    storage.MatchStore
	Sessions session.Store
	Catalog  *catalog.Catalog
	WSReg    *notify.WSRegistry
	Logger   *slog.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		engine:   d.Engine,
		dir:      d.Dir,
		store:    d.Store,
		sessions: d.Sessions,
		flow:     &dialogue.Flow{Catalog: d.Catalog},
		catalog:  d.Catalog,
		wsreg:    d.WSReg,
		logger:   d.Logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/users", s.handleRegister).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}/availability", s.handleAvailability).Methods("POST")
	api.HandleFunc("/users/{id}/profile", s.handleEditProfile).Methods("PATCH")
	api.HandleFunc("/users/{id}/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/captains", s.handleFindCaptains).Methods("GET")

	api.HandleFunc("/matches", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods("GET")
	api.HandleFunc("/matches/{id}/respond", s.handleCaptainRespond).Methods("POST")
	api.HandleFunc("/matches/{id}/confirm", s.handleClientConfirm).Methods("POST")
	api.HandleFunc("/matches/{id}/cancel", s.handleClientCancel).Methods("POST")
	api.HandleFunc("/matches/{id}/complete", s.handleCompleteTrip).Methods("POST")
	api.HandleFunc("/matches/{id}/rating", s.handleRate).Methods("POST")

	api.HandleFunc("/dialogue/{id}/start", s.handleDialogueStart).Methods("POST")
	api.HandleFunc("/dialogue/{id}/input", s.handleDialogueInput).Methods("POST")
	api.HandleFunc("/dialogue/{id}", s.handleDialogueCancel).Methods("DELETE")

	api.HandleFunc("/catalog/cities", s.handleCities).Methods("GET")
	api.HandleFunc("/catalog/cities/{city}/neighborhoods", s.handleNeighborhoods).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// ---- users ----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if err := s.validateProfile(&u); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.dir.Upsert(r.Context(), &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.dir.Get(r.Context(), u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	u, err := s.dir.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	u, err := s.dir.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.dir.SetAvailability(r.Context(), id, body.Available); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Gauge moves only when a captain's flag actually flips; repeating the
	// current value, or toggling a client, must not drift it.
	if u.Role == models.RoleCaptain && u.Available != body.Available {
		if body.Available {
			observability.CaptainsAvailable.Inc()
		} else {
			observability.CaptainsAvailable.Dec()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEditProfile exposes the fixed set of updatable fields. Absent fields
// are left alone; there is no free-form column selection.
func (s *Server) handleEditProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var body struct {
		Name  *string `json:"name"`
		Phone *string `json:"phone"`
		Car   *struct {
			Model string `json:"model"`
			Plate string `json:"plate"`
		} `json:"car"`
		City          *string  `json:"city"`
		Neighborhoods []string `json:"neighborhoods"`
		Role          *string  `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}

	ctx := r.Context()
	if body.Name != nil {
		if !dialogue.ValidFullName(*body.Name) {
			s.writeError(w, r, badRequest(errors.New("full name needs at least three parts")))
			return
		}
		if err := s.dir.SetName(ctx, id, *body.Name); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if body.Phone != nil {
		if !dialogue.ValidPhone(*body.Phone) {
			s.writeError(w, r, badRequest(errors.New("phone must match 05XXXXXXXX")))
			return
		}
		if err := s.dir.SetPhone(ctx, id, *body.Phone); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if body.Car != nil {
		if err := s.dir.SetCar(ctx, id, body.Car.Model, body.Car.Plate); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if body.City != nil {
		if !s.catalog.ValidCity(*body.City) {
			s.writeError(w, r, badRequest(errors.New("unsupported city")))
			return
		}
		if err := s.dir.SetCity(ctx, id, *body.City); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if body.Neighborhoods != nil {
		u, err := s.dir.Get(ctx, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(body.Neighborhoods) == 0 || len(body.Neighborhoods) > 3 {
			s.writeError(w, r, badRequest(errors.New("between one and three neighborhoods required")))
			return
		}
		for _, n := range body.Neighborhoods {
			if !s.catalog.ValidNeighborhood(u.City, n) {
				s.writeError(w, r, badRequest(errors.New("unknown neighborhood for city")))
				return
			}
		}
		if err := s.dir.SetNeighborhoods(ctx, id, body.Neighborhoods); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if body.Role != nil {
		role := models.Role(*body.Role)
		if role != models.RoleClient && role != models.RoleCaptain {
			s.writeError(w, r, badRequest(errors.New("role must be client or captain")))
			return
		}
		if err := s.dir.SetRole(ctx, id, role); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	u, err := s.dir.Get(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	u, err := s.dir.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.store.Stats(r.Context(), id, u.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFindCaptains(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	neighborhood := r.URL.Query().Get("neighborhood")
	if city == "" || neighborhood == "" {
		s.writeError(w, r, badRequest(errors.New("city and neighborhood are required")))
		return
	}
	listings, err := s.engine.FindCaptains(r.Context(), city, neighborhood)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"captains": listings})
}

// ---- matches ----

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID    int64  `json:"client_id"`
		CaptainID   int64  `json:"captain_id"`
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	id, err := s.engine.CreateRequest(r.Context(), body.ClientID, body.CaptainID, body.Destination)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"match_id": id, "status": models.StatusPending})
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	m, err := s.store.GetMatch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCaptainRespond(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	m, err := s.engine.CaptainRespond(r.Context(), id, body.Accept)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleClientConfirm(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, s.engine.ClientConfirm)
}

func (s *Server) handleClientCancel(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, s.engine.ClientCancel)
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, s.engine.CompleteTrip)
}

func (s *Server) transitionHandler(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, matchID int64) (*models.Match, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	m, err := fn(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var body struct {
		Stars   int    `json:"stars"`
		Comment string `json:"comment"`
		Note    string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	sum, err := s.engine.Rate(r.Context(), id, body.Stars, body.Comment, body.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// ---- dialogue ----

func (s *Server) handleDialogueStart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var body struct {
		Mode    session.Mode `json:"mode"`
		MatchID int64        `json:"match_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	sess, err := s.flow.Begin(id, body.Mode)
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	sess.MatchID = body.MatchID
	if body.Mode == session.ModeEditProfile {
		// Seed the role so the neighborhood picker knows how many to collect.
		u, err := s.dir.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sess.Role = u.Role
	}
	if err := s.sessions.Put(r.Context(), sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"mode": sess.Mode, "step": sess.Step})
}

func (s *Server) handleDialogueInput(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.flow.Advance(sess, body.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	if sess.Step != session.StepDone {
		if err := s.sessions.Put(r.Context(), sess); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"mode": sess.Mode, "step": sess.Step})
		return
	}

	result, err := s.finishDialogue(r, sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.logger.Warn("session cleanup failed", "user_id", id, "error", err)
	}
	s.writeJSON(w, http.StatusOK, result)
}

// finishDialogue applies the completed dialogue's outcome.
func (s *Server) finishDialogue(r *http.Request, sess *session.Session) (any, error) {
	ctx := r.Context()
	switch sess.Mode {
	case session.ModeRegistration:
		u := sess.User()
		if err := s.dir.Upsert(ctx, u); err != nil {
			return nil, err
		}
		saved, err := s.dir.Get(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"step": session.StepDone, "user": saved}, nil

	case session.ModeEditProfile:
		if len(sess.Neighborhoods) > 0 {
			if err := s.dir.SetCity(ctx, sess.UserID, sess.City); err != nil {
				return nil, err
			}
			if err := s.dir.SetNeighborhoods(ctx, sess.UserID, sess.Neighborhoods); err != nil {
				return nil, err
			}
		}
		u, err := s.dir.Get(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"step": session.StepDone, "user": u}, nil

	case session.ModeRideRequest:
		// Captains are searched in the client's own registered area.
		client, err := s.dir.Get(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		if len(client.Neighborhoods) == 0 {
			return nil, badRequest(errors.New("client has no registered neighborhood"))
		}
		listings, err := s.engine.FindCaptains(ctx, client.City, client.Neighborhoods[0])
		if err != nil {
			return nil, err
		}
		return map[string]any{"step": session.StepDone, "destination": sess.Destination, "captains": listings}, nil

	case session.ModeRating:
		sum, err := s.engine.Rate(ctx, sess.MatchID, sess.Stars, sess.Comment, sess.Note)
		if err != nil {
			return nil, err
		}
		return map[string]any{"step": session.StepDone, "rating": sum}, nil
	}
	return nil, errors.New("unknown dialogue mode")
}

func (s *Server) handleDialogueCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- catalog ----

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"cities": s.catalog.Cities()})
}

func (s *Server) handleNeighborhoods(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	if !s.catalog.ValidCity(city) {
		s.writeError(w, r, badRequest(errors.New("unsupported city")))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"neighborhoods": s.catalog.Neighborhoods(city)})
}

// ---- websocket ----

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil {
		http.Error(w, "bad user id", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.Add(id, conn)
}

// ---- helpers ----

func (s *Server) validateProfile(u *models.User) error {
	switch {
	case u.ID == 0:
		return badRequest(errors.New("id required"))
	case u.Role != models.RoleClient && u.Role != models.RoleCaptain:
		return badRequest(errors.New("role must be client or captain"))
	case !dialogue.ValidFullName(u.FullName):
		return badRequest(errors.New("full name needs at least three parts"))
	case !dialogue.ValidPhone(u.Phone):
		return badRequest(errors.New("phone must match 05XXXXXXXX"))
	case !s.catalog.ValidCity(u.City):
		return badRequest(errors.New("unsupported city"))
	}
	if u.Role == models.RoleCaptain {
		if len(u.Neighborhoods) == 0 || len(u.Neighborhoods) > 3 {
			return badRequest(errors.New("captains register between one and three neighborhoods"))
		}
		if u.Seats != 0 && !dialogue.ValidSeats(u.Seats) {
			return badRequest(errors.New("seats out of range"))
		}
	} else if len(u.Neighborhoods) != 1 {
		return badRequest(errors.New("clients register exactly one neighborhood"))
	}
	for _, n := range u.Neighborhoods {
		if !s.catalog.ValidNeighborhood(u.City, n) {
			return badRequest(errors.New("unknown neighborhood for city"))
		}
	}
	return nil
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
