// Mock catalog service for local development. Serves self-description
// documents for participants, service offerings, and data/software
// resources referenced by the mock contract service.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort      = "8082"
	defaultLatencyMs = "50"
)

var latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/catalog/participants/", collection(participantDoc))
	http.HandleFunc("/catalog/serviceofferings/", collection(offeringDoc))
	http.HandleFunc("/catalog/dataresources/", collection(dataResourceDoc))
	http.HandleFunc("/catalog/softwareresources/", collection(softwareResourceDoc))

	log.Printf("🗂  Mock catalog service starting on port %s", port)
	log.Printf("⏱  Simulated latency: %dms", latencyMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// collection serves one catalog collection, deriving a stable document
// from the requested id.
func collection(doc func(id string) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(latencyMs) * time.Millisecond)
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		id := parts[len(parts)-1]
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing document id"})
			return
		}
		writeJSON(w, http.StatusOK, doc(id))
	}
}

func participantDoc(id string) any {
	return map[string]string{
		"_id":       id,
		"legalName": titleCase(id),
		"did":       "did:web:catalog.local:" + id,
	}
}

func offeringDoc(id string) any {
	return map[string]any{
		"_id":               id,
		"name":              titleCase(id),
		"providedBy":        "demo-provider",
		"description":       "Demo service offering " + id,
		"dataResources":     []string{id + "-data"},
		"softwareResources": []string{id + "-software"},
	}
}

func dataResourceDoc(id string) any {
	return map[string]string{
		"_id":         id,
		"name":        titleCase(id),
		"description": "Demo data resource " + id,
		"producedBy":  "demo-provider",
	}
}

func softwareResourceDoc(id string) any {
	return map[string]string{
		"_id":         id,
		"name":        titleCase(id),
		"description": "Demo software resource " + id,
		"providedBy":  "demo-consumer",
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key, fallback string) int {
	v := getEnv(key, fallback)
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

// titleCase turns "demo-provider" into "Demo Provider".
func titleCase(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
