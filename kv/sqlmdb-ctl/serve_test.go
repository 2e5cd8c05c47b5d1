package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pingcap-incubator/sqlmdb/kv/config"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, url string, v interface{}) int {
	req := httptest.NewRequest("GET", url, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if v != nil && w.Code == http.StatusOK {
		require.Nil(t, json.Unmarshal(w.Body.Bytes(), v))
	}
	return w.Code
}

func TestStatusRouter(t *testing.T) {
	path := prepareStore(t)
	router := createRouter(path, config.NewTestConfig())

	var tables []tableEntry
	require.Equal(t, http.StatusOK, get(t, router, "/api/v1/tables", &tables))
	require.Equal(t, []tableEntry{
		{ID: 1, Kind: "row"},
		{ID: 2, Kind: "row", Entries: 2},
		{ID: 3, Kind: "index", Entries: 1},
	}, tables)

	var table tableEntry
	require.Equal(t, http.StatusOK, get(t, router, "/api/v1/tables/3", &table))
	require.Equal(t, tableEntry{ID: 3, Kind: "index", Entries: 1}, table)
	require.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/tables/9", nil))
	require.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/tables/x", nil))

	var meta []metaEntry
	require.Equal(t, http.StatusOK, get(t, router, "/api/v1/meta", &meta))
	require.Len(t, meta, len(metaNames))
	require.Equal(t, metaEntry{Slot: 6, Name: "user-version", Value: 12}, meta[6])

	require.Equal(t, http.StatusOK, get(t, router, "/metrics", nil))
}
