package http

import (
	"net/http"
	"strings"
)

type RouterConfig struct {
	Sessions   *SessionHandler
	Offline    *OfflineHandler
	Public     *PublicHandler
	Meetings   *MeetingHandler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})

	if cfg.Sessions != nil {
		mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			cfg.Sessions.Create(w, r)
		})
		mux.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			cfg.Sessions.Get(w, withSessionID(r))
		})
		sessionActions := map[string]http.HandlerFunc{
			"check-in":  cfg.Sessions.CheckIn,
			"check-out": cfg.Sessions.CheckOut,
			"location":  cfg.Sessions.RecordLocation,
			"end":       cfg.Sessions.End,
		}
		for action, handle := range sessionActions {
			mux.HandleFunc("/sessions/{id}/"+action, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					methodNotAllowed(w, r, http.MethodPost)
					return
				}
				handle(w, withSessionID(r))
			})
		}
		mux.HandleFunc("/contacts/{id}/sessions", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			ctx := ContextWithContactID(r.Context(), r.PathValue("id"))
			cfg.Sessions.History(w, r.WithContext(ctx))
		})
		mux.HandleFunc("/contacts/{id}/sessions/active", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			ctx := ContextWithContactID(r.Context(), r.PathValue("id"))
			cfg.Sessions.Active(w, r.WithContext(ctx))
		})
	}

	if cfg.Offline != nil {
		mux.HandleFunc("/offline/sync", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			cfg.Offline.Sync(w, r)
		})
	}

	if cfg.Public != nil {
		mux.HandleFunc("/public/{token}", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			cfg.Public.Summary(w, r, r.PathValue("token"))
		})
	}

	if cfg.Meetings != nil {
		mux.HandleFunc("/meetings", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				cfg.Meetings.List(w, r)
			case http.MethodPost:
				cfg.Meetings.Create(w, r)
			default:
				methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/meetings/{id}", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			ctx := ContextWithMeetingID(r.Context(), r.PathValue("id"))
			cfg.Meetings.Get(w, r.WithContext(ctx))
		})
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}

func withSessionID(r *http.Request) *http.Request {
	return r.WithContext(ContextWithSessionID(r.Context(), r.PathValue("id")))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	newResponder(nil).writeJSON(r.Context(), w, http.StatusMethodNotAllowed, errorResponse{
		ErrorCode: codeForStatus(http.StatusMethodNotAllowed),
		Message:   http.StatusText(http.StatusMethodNotAllowed),
	})
}

// handlerUnavailable answers for a route whose handler was built without its service.
func handlerUnavailable(w http.ResponseWriter, r *http.Request) {
	newResponder(nil).writeError(r.Context(), w, http.StatusInternalServerError, nil)
}
