// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestNew_BaseURL(t *testing.T) {
	assert.Equal(t, "http://warp2-Xyz", New("warp2-Xyz").BaseURL())
	assert.Equal(t, "https://host", New("https://host/").BaseURL())
}

func TestFlashFirmware_RawBody(t *testing.T) {
	image := []byte{0x00, 0x01, 0xFE, 0xFF}
	var gotBody []byte
	var gotType string

	r := chi.NewRouter()
	r.Post("/flash_firmware", func(w http.ResponseWriter, req *http.Request) {
		gotType = req.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(req.Body)
		w.Write([]byte("ok"))
	})
	c := newTestServer(t, r)

	reply, err := c.FlashFirmware(context.Background(), image)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, image, gotBody)
	assert.Empty(t, gotType)
}

func TestFlashFirmware_Locked(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/flash_firmware", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "vehicle connected", http.StatusLocked)
	})
	c := newTestServer(t, r)

	_, err := c.FlashFirmware(context.Background(), []byte{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusLocked, se.Code)
	assert.Contains(t, se.Body, "vehicle connected")
}

func TestStatusError_CarriesBody(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/flash_firmware", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "image too large", http.StatusBadRequest)
	})
	c := newTestServer(t, r)

	_, err := c.FlashFirmware(context.Background(), []byte{1})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.False(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "image too large")
}

func TestFactoryReset_Body(t *testing.T) {
	var body map[string]any
	r := chi.NewRouter()
	r.Put("/factory_reset", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	})
	c := newTestServer(t, r)

	require.NoError(t, c.FactoryReset(context.Background(), time.Second))
	assert.Equal(t, map[string]any{"do_i_know_what_i_am_doing": true}, body)
}

func TestConfigureTags_Body(t *testing.T) {
	var raw []byte
	r := chi.NewRouter()
	r.Put("/nfc/config_update", func(w http.ResponseWriter, req *http.Request) {
		raw, _ = io.ReadAll(req.Body)
	})
	c := newTestServer(t, r)

	err := c.ConfigureTags(context.Background(), TagConfig{
		AuthorizedTags: []AuthorizedTag{
			{TagName: "Tag 1", TagType: 2, TagID: TagID{0x04, 0xBA}},
		},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"require_tag_to_start":false,"require_tag_to_stop":false,"authorized_tags":[{"tag_name":"Tag 1","tag_type":2,"tag_id":[4,186]}]}`,
		string(raw))
}

func TestSeenTags(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/nfc/seen_tags", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`[{"tag_type":2,"tag_id":[4,186,56,66,239,108,128],"last_seen":12},{"tag_type":0,"tag_id":[0,0,0,0],"last_seen":0}]`))
	})
	c := newTestServer(t, r)

	tags, err := c.SeenTags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, uint8(2), tags[0].TagType)
	assert.True(t, tags[0].TagID.Equal(TagID{0x04, 0xBA, 0x38, 0x42, 0xEF, 0x6C, 0x80}))
	assert.Equal(t, int64(12), tags[0].LastSeen)
	assert.True(t, tags[1].TagID.IsZero())
	assert.Equal(t, "04:BA:38:42:EF:6C:80", tags[0].TagID.String())
}

func TestTagID_RejectsOutOfRange(t *testing.T) {
	var id TagID
	assert.Error(t, json.Unmarshal([]byte(`[1,256]`), &id))
}

func TestMeterLive(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/meter/live", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"samples_per_second":0.5,"samples":[1.5,2.5,3.5]}`))
	})
	c := newTestServer(t, r)

	live, err := c.MeterLive(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, live.SamplesPerSecond, 1e-9)
	assert.Len(t, live.Samples, 3)
}

func TestEventLogAndIndex(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/event_log", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("WARP2 CHARGER V2.0.4\nboot"))
	})
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("<title>Ladecontroller</title>"))
	})
	c := newTestServer(t, r)

	log, err := c.EventLog(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(log, "WARP2 CHARGER"))

	page, err := c.IndexPage(context.Background())
	require.NoError(t, err)
	assert.Contains(t, page, "Ladecontroller")
}

func TestTimeout(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/hidden_proxy/enable", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-req.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := newTestServer(t, r)

	err := c.EnableProxy(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
