package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path, token string, body any, want int, out any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	fmt.Printf("%s %s -> %d\n", method, path, resp.StatusCode)
	if resp.StatusCode != want {
		log.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

type task struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	ClaimedByID *string `json:"claimed_by_id"`
}

// Runs the claim/complete walkthrough against a live server.
func main() {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	flag.Parse()

	c := &client{base: *base, http: &http.Client{Timeout: 10 * time.Second}}
	suffix := time.Now().Format("20060102150405")

	signUp := func(name string) (string, string) {
		email := fmt.Sprintf("%s+%s@x.com", name, suffix)
		var reg struct {
			ID string `json:"id"`
		}
		c.call(http.MethodPost, "/api/auth/register", "", map[string]string{
			"name": name, "email": email, "password": "password123",
		}, http.StatusCreated, &reg)

		var login struct {
			Token string `json:"token"`
		}
		c.call(http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": email, "password": "password123",
		}, http.StatusOK, &login)
		return reg.ID, login.Token
	}

	_, tokenA := signUp("a")
	var t1 task
	c.call(http.MethodPost, "/api/tasks", tokenA, map[string]any{
		"title":       "Water my plants",
		"description": "Twice a week while I'm away",
		"location":    map[string]any{"address": "1 Main St"},
	}, http.StatusCreated, &t1)

	idB, tokenB := signUp("b")
	var claimed task
	c.call(http.MethodPost, "/api/tasks/"+t1.ID+"/claim", tokenB, nil, http.StatusOK, &claimed)
	if claimed.Status != "claimed" || claimed.ClaimedByID == nil || *claimed.ClaimedByID != idB {
		log.Fatalf("expected task claimed by %s, got %+v", idB, claimed)
	}

	c.call(http.MethodDelete, "/api/tasks/"+t1.ID, tokenA, nil, http.StatusConflict, nil)

	var done task
	c.call(http.MethodPost, "/api/tasks/"+t1.ID+"/complete", tokenB, nil, http.StatusOK, &done)
	if done.Status != "completed" {
		log.Fatalf("expected completed, got %s", done.Status)
	}

	fmt.Println("Scenario passed")
}
