package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker holds the dependency probes reported by /healthz. Nil probes are omitted.
type Checker struct {
	DBPing   func(ctx context.Context) error
	RPCPing  func(ctx context.Context) error
	IPFSPing func(ctx context.Context) error
}

// Handler serves /healthz.
func Handler(checker Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		probes := []struct {
			name string
			ping func(ctx context.Context) error
		}{
			{"db", checker.DBPing},
			{"rpc", checker.RPCPing},
			{"ipfs", checker.IPFSPing},
		}
		for _, p := range probes {
			if p.ping == nil {
				continue
			}
			if err := p.ping(ctx); err != nil {
				status[p.name] = "fail"
				status["status"] = "unavailable"
				code = http.StatusServiceUnavailable
			} else {
				status[p.name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}

// NewServer builds the health server; the caller runs ListenAndServe.
func NewServer(addr string, checker Checker) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(checker),
		ReadHeaderTimeout: 3 * time.Second,
	}
}
