// Mock contract service for local development. Serves a signed bilateral
// and a signed ecosystem contract for any participant id so the consent
// manager can synthesize privacy notices without a real federation.
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
	defaultPort      = "8081"
	defaultCatalog   = "http://localhost:8082"
	defaultLatencyMs = "50"
)

var (
	catalogBase = getEnv("CATALOG_BASE_URL", defaultCatalog)
	latencyMs   = getEnvInt("LATENCY_MS", defaultLatencyMs)
)

type rule struct {
	Action string `json:"action"`
	Target string `json:"target"`
}

type policy struct {
	Permission  []rule `json:"permission"`
	Prohibition []rule `json:"prohibition"`
}

type bilateralContract struct {
	ID              string   `json:"_id"`
	DataProvider    string   `json:"dataProvider"`
	DataConsumer    string   `json:"dataConsumer"`
	ServiceOffering string   `json:"serviceOffering"`
	Purpose         []rule   `json:"purpose"`
	Policy          []policy `json:"policy"`
	Status          string   `json:"status"`
}

type offeringEntry struct {
	Participant     string   `json:"participant"`
	ServiceOffering string   `json:"serviceOffering"`
	Policies        []policy `json:"policies"`
}

type ecosystemContract struct {
	ID               string          `json:"_id"`
	Ecosystem        string          `json:"ecosystem"`
	Orchestrator     string          `json:"orchestrator"`
	ServiceOfferings []offeringEntry `json:"serviceOfferings"`
	Status           string          `json:"status"`
}

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/bilaterals/for/", handleBilaterals)
	http.HandleFunc("/contracts/for/", handleEcosystems)
	http.HandleFunc("/contracts/", handleContractByID)
	http.HandleFunc("/verify/", handleVerify)

	log.Printf("📜 Mock contract service starting on port %s", port)
	log.Printf("🗂  Catalog base URL: %s", catalogBase)
	log.Printf("⏱  Simulated latency: %dms", latencyMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleBilaterals(w http.ResponseWriter, r *http.Request) {
	simulateLatency()
	consumerID := strings.TrimPrefix(r.URL.Path, "/bilaterals/for/")
	if consumerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing participant id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": []bilateralContract{sampleBilateral(consumerID)},
	})
}

func handleEcosystems(w http.ResponseWriter, r *http.Request) {
	simulateLatency()
	consumerID := strings.TrimPrefix(r.URL.Path, "/contracts/for/")
	if consumerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing participant id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": []ecosystemContract{sampleEcosystem(consumerID)},
	})
}

func handleContractByID(w http.ResponseWriter, r *http.Request) {
	simulateLatency()
	id := strings.TrimPrefix(r.URL.Path, "/contracts/")
	if strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, sampleBilateral("demo-consumer"))
}

func handleVerify(w http.ResponseWriter, r *http.Request) {
	simulateLatency()
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/verify/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected /verify/{participant}/{contract}"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func sampleBilateral(consumerID string) bilateralContract {
	return bilateralContract{
		ID:              "bilateral-demo-1",
		DataProvider:    catalogBase + "/catalog/participants/demo-provider",
		DataConsumer:    catalogBase + "/catalog/participants/" + consumerID,
		ServiceOffering: "demo-offering",
		Policy: []policy{{
			Permission: []rule{{Action: "use", Target: "demo-offering"}},
		}},
		Status: "signed",
	}
}

func sampleEcosystem(consumerID string) ecosystemContract {
	return ecosystemContract{
		ID:           "ecosystem-demo-1",
		Ecosystem:    "demo-ecosystem",
		Orchestrator: catalogBase + "/catalog/participants/demo-provider",
		ServiceOfferings: []offeringEntry{
			{
				Participant:     catalogBase + "/catalog/participants/demo-provider",
				ServiceOffering: "demo-offering",
			},
			{
				Participant:     catalogBase + "/catalog/participants/" + consumerID,
				ServiceOffering: "demo-consumer-offering",
			},
		},
		Status: "signed",
	}
}

func simulateLatency() {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
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
