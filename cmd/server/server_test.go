//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Run migrations
	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

func startTestServer(t *testing.T, db *sql.DB) *httptest.Server {
	cfg := Config{ActionTimeout: 5 * time.Second, StopGracePeriod: 5 * time.Second}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	server, err := NewServerWithDB(db, cfg, log)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	server.engine.Start(context.Background())
	t.Cleanup(func() { server.engine.Stop(context.Background()) })

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts
}

// TestEndToEnd_RegisterRuleAndProcessEvent tests the complete workflow:
// 1. Register rule
// 2. Process matching event
// 3. Verify execution count and stats
func TestEndToEnd_RegisterRuleAndProcessEvent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ts := startTestServer(t, db)
	baseURL := ts.URL + "/api/v1"

	// Step 1: Register rule
	t.Log("Step 1: Registering rule...")
	createRuleReq := map[string]interface{}{
		"name":     "order-webhook",
		"scope":    "TENANT",
		"tenantId": "t-1",
		"trigger": map[string]interface{}{
			"eventType":  "order.created",
			"conditions": map[string]interface{}{"status": "new"},
		},
		"actions": []map[string]interface{}{
			{"type": "UPDATE_STATUS", "config": map[string]interface{}{"entity": "order", "entityId": "{{orderId}}", "status": "processing"}},
		},
		"priority": 5,
		"isActive": true,
	}
	ruleResp := makeRequest(t, "POST", baseURL+"/rules", createRuleReq)
	ruleID := ruleResp["ruleId"].(string)
	t.Logf("Registered rule: %s", ruleID)

	// Step 2: Process a matching event
	t.Log("Step 2: Processing matching event...")
	eventReq := map[string]interface{}{
		"type":    "order.created",
		"data":    map[string]interface{}{"status": "new", "orderId": "ORD-1"},
		"context": map[string]interface{}{"tenantId": "t-1"},
	}
	resp, err := makeHTTPRequest("POST", baseURL+"/events", eventReq)
	if err != nil {
		t.Fatalf("Failed to process event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202 Accepted, got %d", resp.StatusCode)
	}

	// Step 3: Verify execution count landed in the database
	t.Log("Step 3: Checking execution count...")
	ruleResp = makeRequestNoBody(t, "GET", baseURL+"/rules/"+ruleID)
	if count, ok := ruleResp["executionCount"].(float64); !ok || count != 1 {
		t.Errorf("Expected executionCount 1, got %v", ruleResp["executionCount"])
	}

	// A non-matching event for another tenant must not execute the rule.
	eventReq["context"] = map[string]interface{}{"tenantId": "t-2"}
	resp, err = makeHTTPRequest("POST", baseURL+"/events", eventReq)
	if err != nil {
		t.Fatalf("Failed to process event: %v", err)
	}
	resp.Body.Close()

	ruleResp = makeRequestNoBody(t, "GET", baseURL+"/rules/"+ruleID)
	if count, ok := ruleResp["executionCount"].(float64); !ok || count != 1 {
		t.Errorf("Expected executionCount to stay 1 for other tenant, got %v", ruleResp["executionCount"])
	}

	// Step 4: Stats reflect both dispatches
	t.Log("Step 4: Checking stats...")
	statsResp := makeRequestNoBody(t, "GET", baseURL+"/stats")
	if total, ok := statsResp["totalExecutions"].(float64); !ok || total != 2 {
		t.Errorf("Expected totalExecutions 2, got %v", statsResp["totalExecutions"])
	}
	if running, ok := statsResp["isRunning"].(bool); !ok || !running {
		t.Errorf("Expected isRunning true, got %v", statsResp["isRunning"])
	}

	t.Log("End-to-end test completed successfully!")
}

// TestEndToEnd_RuleLifecycle exercises update and delete over HTTP
func TestEndToEnd_RuleLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ts := startTestServer(t, db)
	baseURL := ts.URL + "/api/v1"

	createRuleReq := map[string]interface{}{
		"name":  "lifecycle",
		"scope": "PLATFORM",
		"trigger": map[string]interface{}{
			"eventType": "user.signup",
		},
		"actions": []map[string]interface{}{
			{"type": "CREATE_TASK", "config": map[string]interface{}{"title": "review signup"}},
		},
		"isActive": true,
	}
	ruleResp := makeRequest(t, "POST", baseURL+"/rules", createRuleReq)
	ruleID := ruleResp["ruleId"].(string)

	// Update
	updateReq := map[string]interface{}{"name": "renamed", "priority": 9}
	updated := makeRequest(t, "PUT", baseURL+"/rules/"+ruleID, updateReq)
	if updated["name"] != "renamed" {
		t.Errorf("Expected name 'renamed', got %v", updated["name"])
	}
	if priority, ok := updated["priority"].(float64); !ok || priority != 9 {
		t.Errorf("Expected priority 9, got %v", updated["priority"])
	}

	// List
	listResp := makeRequestNoBody(t, "GET", baseURL+"/rules")
	rules, ok := listResp["rules"].([]interface{})
	if !ok || len(rules) != 1 {
		t.Errorf("Expected 1 rule, got %v", listResp)
	}

	// Delete
	resp, err := makeHTTPRequest("DELETE", baseURL+"/rules/"+ruleID, nil)
	if err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 No Content, got %d", resp.StatusCode)
	}

	resp, err = makeHTTPRequest("GET", baseURL+"/rules/"+ruleID, nil)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

// TestEndToEnd_InvalidRuleRejected tests that validation failures surface as 400
func TestEndToEnd_InvalidRuleRejected(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ts := startTestServer(t, db)
	baseURL := ts.URL + "/api/v1"

	// Tenant scope without a tenant ID is invalid.
	createRuleReq := map[string]interface{}{
		"name":  "broken",
		"scope": "TENANT",
		"trigger": map[string]interface{}{
			"eventType": "order.created",
		},
		"actions": []map[string]interface{}{
			{"type": "SEND_EMAIL"},
		},
	}
	resp, err := makeHTTPRequest("POST", baseURL+"/rules", createRuleReq)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 Bad Request, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	t.Logf("Validation response: %s", string(body))
}

// Helper function to make HTTP requests with JSON body
func makeRequest(t *testing.T, method, url string, body interface{}) map[string]interface{} {
	resp, err := makeHTTPRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make HTTP requests without body
func makeRequestNoBody(t *testing.T, method, url string) map[string]interface{} {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("Request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	return result
}

// Helper function to make raw HTTP requests
func makeHTTPRequest(method, url string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}
