// Command smoke exercises a running aidcore-api end to end: register,
// login, authenticated call, refresh rotation and replay detection.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("AIDCORE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	email := fmt.Sprintf("smoke-%d@example.org", rand.Int())
	const password = "smoke-password"

	status, _ := call(client, http.MethodPost, base+"/v1/auth/register", map[string]any{
		"email":    email,
		"password": password,
	}, "")
	if status != http.StatusCreated {
		log.Fatalf("register: status %d", status)
	}

	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	status, body := call(client, http.MethodPost, base+"/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, "")
	if status != http.StatusOK {
		log.Fatalf("login: status %d", status)
	}
	mustDecode(body, &login)

	status, body = call(client, http.MethodGet, base+"/v1/auth/me", nil, login.AccessToken)
	if status != http.StatusOK {
		log.Fatalf("me: status %d", status)
	}
	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	mustDecode(body, &me)
	if me.Email != email || me.Role != "user" {
		log.Fatalf("me: unexpected identity %+v", me)
	}

	var rotated struct {
		RefreshToken string `json:"refresh_token"`
	}
	status, body = call(client, http.MethodPost, base+"/v1/auth/refresh", map[string]any{
		"refresh_token": login.RefreshToken,
	}, "")
	if status != http.StatusOK {
		log.Fatalf("refresh: status %d", status)
	}
	mustDecode(body, &rotated)

	// Replaying the consumed refresh token must fail.
	status, _ = call(client, http.MethodPost, base+"/v1/auth/refresh", map[string]any{
		"refresh_token": login.RefreshToken,
	}, "")
	if status != http.StatusUnauthorized {
		log.Fatalf("replay: status %d, want 401", status)
	}

	// And the replay must have revoked the rotated token as well.
	status, _ = call(client, http.MethodPost, base+"/v1/auth/refresh", map[string]any{
		"refresh_token": rotated.RefreshToken,
	}, "")
	if status != http.StatusUnauthorized {
		log.Fatalf("chain revocation: status %d, want 401", status)
	}

	fmt.Println("SMOKE OK:", email)
}

func call(client *http.Client, method, url string, payload any, token string) (int, []byte) {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func mustDecode(raw []byte, dst any) {
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Fatalf("decode response: %v", err)
	}
}
