package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Warning string          `json:"warning"`
	Error   *responseError  `json:"error"`
}

func parse(t *testing.T, raw string) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env), raw)
	return env
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "petstock.yaml")
	content := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"user_id: u1\n" +
		"log_level: error\n" +
		"remote:\n  backend: memory\n" +
		"sync:\n  settle_delay: 0s\n  sync_interval: 0s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	b := &bridge{}
	env := parse(t, b.init(path))
	require.Nil(t, env.Error)
	t.Cleanup(b.cleanup)
	return b
}

func TestBridge_NotInitialized(t *testing.T) {
	b := &bridge{}

	env := parse(t, b.productList())
	require.NotNil(t, env.Error)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
	assert.Equal(t, -1, b.pendingCount())
	assert.Contains(t, b.lastError(), "core not initialized")
}

func TestBridge_InitTwice(t *testing.T) {
	b := newBridge(t)
	assert.Equal(t, "{}", b.init("/ignored.yaml"))
}

func TestBridge_InitBadConfig(t *testing.T) {
	b := &bridge{}
	env := parse(t, b.init("/does/not/exist.yaml"))
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFIG_INVALID", env.Error.Code)
}

func TestBridge_ProductLifecycle(t *testing.T) {
	b := newBridge(t)

	env := parse(t, b.productAdd(`{"codigo":"T-01","nombre":"Tornillo","cantidad":10,"stockMinimo":2}`))
	require.Nil(t, env.Error)
	var product struct {
		Code     string `json:"codigo"`
		Quantity int    `json:"cantidad"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &product))
	assert.Equal(t, "T-01", product.Code)

	env = parse(t, b.productEdit("T-01", `{"cantidad":7}`))
	require.Nil(t, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &product))
	assert.Equal(t, 7, product.Quantity)

	var movements []json.RawMessage
	require.NoError(t, json.Unmarshal(parse(t, b.movementList()).Data, &movements))
	assert.Len(t, movements, 2)

	env = parse(t, b.productDelete("T-01"))
	require.Nil(t, env.Error)

	var products []json.RawMessage
	require.NoError(t, json.Unmarshal(parse(t, b.productList()).Data, &products))
	assert.Empty(t, products)
}

func TestBridge_InvalidRequest(t *testing.T) {
	b := newBridge(t)

	env := parse(t, b.productAdd(`not json`))
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)

	env = parse(t, b.productEdit("missing", `{"cantidad":1}`))
	require.NotNil(t, env.Error)
	assert.Equal(t, "PRODUCT_NOT_FOUND", env.Error.Code)
}

func TestBridge_OfflineThenReconnect(t *testing.T) {
	b := newBridge(t)

	parse(t, b.setOnlineMode(false))
	env := parse(t, b.appointmentCreate(`{"specialistId":"S1","petId":"P1","date":"2026-11-02","time":"10:30"}`))
	require.Nil(t, env.Error)
	var appt struct {
		ID      string `json:"id"`
		Offline bool   `json:"offline"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &appt))
	assert.True(t, appt.Offline)
	assert.Equal(t, 1, b.pendingCount())

	env = parse(t, b.setOnlineMode(true))
	assert.JSONEq(t, `{"online":true}`, string(env.Data))

	parse(t, b.syncNow())
	require.Eventually(t, func() bool { return b.pendingCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	var list struct {
		Items []json.RawMessage `json:"items"`
		Stale bool              `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(parse(t, b.appointmentList("u1")).Data, &list))
	assert.Len(t, list.Items, 1)
	assert.False(t, list.Stale)
}

func TestBridge_NetworkChanged(t *testing.T) {
	b := newBridge(t)

	env := parse(t, b.networkChanged(false))
	assert.JSONEq(t, `{"online":false}`, string(env.Data))

	env = parse(t, b.networkChanged(true))
	assert.JSONEq(t, `{"online":true}`, string(env.Data))
}

func TestBridge_SyncStatus(t *testing.T) {
	b := newBridge(t)

	var status map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(parse(t, b.syncStatus()).Data, &status))
	assert.Contains(t, status, "scheduler")
	assert.Contains(t, status, "pending")
}
