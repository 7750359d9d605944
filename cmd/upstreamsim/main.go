// Package main provides a demo upstream for exercising the gateway locally.
// One process plays a single role (user-profile, content, or trending) and
// exposes /simulate/{behavior} to toggle between healthy, failing, and slow
// responses, which is enough to walk a circuit breaker through every state.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type movie struct {
	MovieID int    `json:"movieId"`
	Title   string `json:"title"`
	Genre   string `json:"genre"`
}

var catalog = []movie{
	{MovieID: 101, Title: "Inception", Genre: "Sci-Fi"},
	{MovieID: 102, Title: "The Dark Knight", Genre: "Action"},
	{MovieID: 103, Title: "Interstellar", Genre: "Sci-Fi"},
	{MovieID: 104, Title: "Paddington 2", Genre: "Family"},
	{MovieID: 105, Title: "The Grand Budapest Hotel", Genre: "Comedy"},
	{MovieID: 106, Title: "Mad Max: Fury Road", Genre: "Action"},
	{MovieID: 107, Title: "Toy Story 4", Genre: "Family"},
	{MovieID: 108, Title: "Superbad", Genre: "Comedy"},
}

var profiles = map[string][]string{
	"u1": {"Action", "Sci-Fi"},
	"u2": {"Comedy"},
	"u3": {"Family", "Comedy"},
}

// behavior is one of "ok", "error", "slow"; toggled via /simulate.
var behavior atomic.Value

const slowDelay = 5 * time.Second

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	role := flag.String("role", "user-profile", "upstream role: user-profile, content, or trending")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}
	if r := os.Getenv("ROLE"); r != "" {
		*role = r
	}

	behavior.Store("ok")

	switch *role {
	case "user-profile":
		http.HandleFunc("/users/", misbehave(usersHandler))
	case "content":
		http.HandleFunc("/movies", misbehave(moviesHandler))
	case "trending":
		http.HandleFunc("/trending", misbehave(trendingHandler))
	default:
		log.Fatalf("unknown role %q", *role)
	}

	// /simulate/{behavior} toggles how the service responds.
	http.HandleFunc("/simulate/", func(w http.ResponseWriter, r *http.Request) {
		b := strings.TrimPrefix(r.URL.Path, "/simulate/")
		switch b {
		case "ok", "error", "slow":
			behavior.Store(b)
			writeJSON(w, http.StatusOK, map[string]string{"behavior": b})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown behavior %q: want ok, error, or slow", b),
			})
		}
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": *role})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s upstream listening on %s", *role, addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// misbehave applies the current simulated behavior before the real handler.
func misbehave(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch behavior.Load() {
		case "error":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "simulated failure"})
			return
		case "slow":
			time.Sleep(slowDelay)
		}
		next(w, r)
	}
}

func usersHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	prefs, ok := profiles[id]
	if !ok {
		prefs = []string{"Action", "Comedy"}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      id,
		"preferences": prefs,
	})
}

func moviesHandler(w http.ResponseWriter, r *http.Request) {
	wanted := map[string]bool{}
	for _, g := range strings.Split(r.URL.Query().Get("genres"), ",") {
		if g = strings.TrimSpace(g); g != "" {
			wanted[g] = true
		}
	}

	matches := []movie{}
	for _, m := range catalog {
		if len(wanted) == 0 || wanted[m.Genre] {
			matches = append(matches, m)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"movies": matches})
}

func trendingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"trending": catalog[:4]})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
