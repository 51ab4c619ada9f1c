// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package devsim

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Thermoquad/provisor/pkg/mgmt"
)

// Router serves the management endpoints of the simulated unit
func (c *Controller) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(c.httpLogger)

	mux.Get("/", c.handleIndex)
	mux.Get("/event_log", c.handleEventLog)
	mux.Get("/meter/live", c.handleMeterLive)
	mux.Get("/nfc/seen_tags", c.handleSeenTags)
	mux.Post("/flash_firmware", c.handleFlashFirmware)
	mux.Put("/factory_reset", c.handleFactoryReset)
	mux.Get("/hidden_proxy/enable", c.handleEnableProxy)
	mux.Put("/nfc/config_update", c.handleConfigUpdate)
	return mux
}

func (c *Controller) httpLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		c.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("management request")
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (c *Controller) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(`<html><body><nav><a href="#status">Status</a><a href="#evse">Ladecontroller</a></nav></body></html>`))
}

func (c *Controller) handleEventLog(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	version := c.opts.FirmwareVersion
	c.mu.Unlock()
	fmt.Fprintf(w, "2021-09-14 10:20:30,123 WARP2 CHARGER V%s\n2021-09-14 10:20:30,456 Network connected\n", version)
}

func (c *Controller) handleMeterLive(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	live := mgmt.MeterLive{SamplesPerSecond: c.opts.SamplesPerSecond, Samples: c.opts.Samples}
	c.mu.Unlock()
	writeJSON(w, live)
}

func (c *Controller) handleSeenTags(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	tags := append([]mgmt.SeenTag{}, c.opts.SeenTags...)
	c.mu.Unlock()
	writeJSON(w, tags)
}

func (c *Controller) handleFlashFirmware(w http.ResponseWriter, r *http.Request) {
	image, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.LockUpdates {
		http.Error(w, "vehicle connected", http.StatusLocked)
		return
	}
	if len(image) == 0 {
		http.Error(w, "empty firmware image", http.StatusBadRequest)
		return
	}
	c.flashes++
	if c.opts.UpdateVersion != "" {
		c.opts.FirmwareVersion = c.opts.UpdateVersion
	}
	fmt.Fprintf(w, "Firmware update OK (%d bytes)", len(image))
}

func (c *Controller) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirm bool `json:"do_i_know_what_i_am_doing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Confirm {
		http.Error(w, "confirmation missing", http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.factoryResets++
	c.proxyEnabled = false
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *Controller) handleEnableProxy(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.proxyEnabled = true
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *Controller) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var cfg mgmt.TagConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.tagConfig = &cfg
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
