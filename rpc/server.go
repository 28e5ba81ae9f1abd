package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gookit/goutil/dump"
	"github.com/gorilla/mux"
)

// Server binds the Dispatcher to HTTP, in the style of the teacher's
// apiserver_funcs.go handlers: gorilla/mux router, JSON in/out,
// Content-Type set explicitly. The envelope's signature is assumed
// already verified upstream (§6); the verified key identity arrives
// as the X-Verified-Kid header.
type Server struct {
	Dispatcher *Dispatcher
	Debug      bool
}

// Router builds the mux.Router exposing /rpc, /healthz, and
// /zones/{zone}, one Server method registered as the handler per
// route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	r.HandleFunc("/zones/{zone}", s.handleZone).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	kid := r.Header.Get("X-Verified-Kid")
	if kid == "" {
		http.Error(w, "missing X-Verified-Kid", http.StatusUnauthorized)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}

	if s.Debug {
		dump.P(req)
	}

	resp := s.Dispatcher.Dispatch(r.Context(), req, kid)

	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		// Unrecognised command or ACL denial: the wire form of `None`
		// is a JSON null body, matching original_source's run_command.
		w.Write([]byte("null"))
		return
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("handleRPC: encode response: %v", err)
	}
}

// handleZone is a read-only ambient convenience (not present in the
// original command set): it dumps every persisted flag for one zone,
// useful for operator debugging without granting any command ACL.
func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	zone := NormalizeZone(mux.Vars(r)["zone"])
	if !ValidZoneName(zone) {
		http.Error(w, "invalid zone name", http.StatusBadRequest)
		return
	}

	store := s.Dispatcher.Handlers.Store
	flags := []FlagName{
		FlagSigning, FlagSigned, FlagChaining, FlagChained,
		FlagUnchained, FlagUnsigning, FlagDSTtl, FlagDNSKeyTtl,
		FlagWaiveDS, FlagInvalid,
	}
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		out[string(f)] = store.Get(zone, f).String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
