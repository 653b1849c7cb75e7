package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

type loginResponse struct {
	Token string `json:"token"`
}

// Smoke-checks the api service end to end: login, conversation list,
// history, online presence. Expects the api to be running locally.
func main() {
	apiAddr := "http://localhost:8081"
	if v := os.Getenv("API_ADDR"); v != "" {
		apiAddr = v
	}

	reqBody, _ := json.Marshal(map[string]string{
		"userId":      "verify_user",
		"role":        "customer",
		"displayName": "Verify User",
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		log.Fatal(err)
	}
	if lr.Token == "" {
		log.Fatal("login returned no token")
	}
	fmt.Printf("Token: %s...\n", lr.Token[:10])

	get := func(path string) {
		req, _ := http.NewRequest(http.MethodGet, apiAddr+path, nil)
		req.Header.Add("Authorization", "Bearer "+lr.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		log.Printf("GET %s -> %d %s", path, resp.StatusCode, string(body))
	}

	get("/conversations")
	get("/history?conversation_id=verify_user:owner_1")
	get("/presence/online")
}
