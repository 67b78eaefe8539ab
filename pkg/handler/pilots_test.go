package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vol-libre/guardian-angel/pkg/flight"
	"github.com/vol-libre/guardian-angel/pkg/guardian"
)

type fakeDirectory struct {
	statuses map[string]flight.Status
	addErr   error
	removed  []string
}

func (f *fakeDirectory) Statuses() []flight.Status {
	out := make([]flight.Status, 0, len(f.statuses))
	for _, k := range []string{"X-a", "X-b", "X-c"} {
		if st, ok := f.statuses[k]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (f *fakeDirectory) Status(key string) (flight.Status, bool) {
	st, ok := f.statuses[key]
	return st, ok
}

func (f *fakeDirectory) AddPilot(spec guardian.PilotSpec) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.statuses[spec.Key] = flight.Status{Key: spec.Key, Name: spec.Name, State: flight.StateUnknown}
	return nil
}

func (f *fakeDirectory) RemovePilot(key string) {
	delete(f.statuses, key)
	f.removed = append(f.removed, key)
}

func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func testServer(dir *fakeDirectory) *httptest.Server {
	r := chi.NewRouter()
	r.Mount("/api/v1/pilots", NewPilotHandler(dir, zerolog.Nop()).Routes())
	return httptest.NewServer(r)
}

func TestListPilots(t *testing.T) {
	dir := &fakeDirectory{statuses: map[string]flight.Status{
		"X-a": {Key: "X-a", Name: "Ada", State: flight.StateFlying},
		"X-b": {Key: "X-b", Name: "Bea", State: flight.StateLanded},
	}}
	srv := testServer(dir)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/pilots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got PilotListResponse
	require.NoError(t, decodeBody(resp, &got))
	assert.Equal(t, 2, got.Total)
	require.Len(t, got.Pilots, 2)
	assert.Equal(t, "X-a", got.Pilots[0].Key)
}

func TestGetPilot(t *testing.T) {
	dir := &fakeDirectory{statuses: map[string]flight.Status{
		"X-a": {Key: "X-a", Name: "Ada", State: flight.StateFlying},
	}}
	srv := testServer(dir)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/pilots/X-a")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got flight.Status
	require.NoError(t, decodeBody(resp, &got))
	assert.Equal(t, flight.StateFlying, got.State)

	resp2, err := http.Get(srv.URL + "/api/v1/pilots/X-nope")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestAddPilot(t *testing.T) {
	dir := &fakeDirectory{statuses: map[string]flight.Status{}}
	srv := testServer(dir)
	defer srv.Close()

	body := `{"key":"X-c","name":"Cyr","discord_id":"u7"}`
	resp, err := http.Post(srv.URL+"/api/v1/pilots", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, ok := dir.Status("X-c")
	assert.True(t, ok)
}

func TestAddPilotValidation(t *testing.T) {
	dir := &fakeDirectory{statuses: map[string]flight.Status{}}
	srv := testServer(dir)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/pilots", "application/json", strings.NewReader(`{"name":"nobody"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/api/v1/pilots", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestAddPilotConflict(t *testing.T) {
	dir := &fakeDirectory{
		statuses: map[string]flight.Status{},
		addErr:   fmt.Errorf("pilot %q already registered", "X-a"),
	}
	srv := testServer(dir)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/pilots", "application/json", strings.NewReader(`{"key":"X-a"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRemovePilot(t *testing.T) {
	dir := &fakeDirectory{statuses: map[string]flight.Status{
		"X-a": {Key: "X-a", State: flight.StateLanded},
	}}
	srv := testServer(dir)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/pilots/X-a", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"X-a"}, dir.removed)

	req2, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/pilots/X-a", nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
