// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/meshwork/pkg/errors"
)

const servicesPath = "/v1/services"

// RegistryProvider talks to a RegistryServer over HTTP. It lists,
// registers and deregisters endpoints.
type RegistryProvider struct {
	BaseURL   string
	HTTP      *http.Client
	AuthToken string
}

// NewRegistryProvider creates a registry provider pointing at baseURL.
func NewRegistryProvider(baseURL string) *RegistryProvider {
	return &RegistryProvider{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    http.DefaultClient,
	}
}

// List returns the endpoints the registry still considers alive. An
// unconfigured provider lists nothing.
func (p *RegistryProvider) List(ctx context.Context) ([]ServiceEndpoint, error) {
	if p == nil || p.BaseURL == "" {
		return nil, nil
	}
	var out []ServiceEndpoint
	if err := p.do(ctx, http.MethodGet, servicesPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register upserts endpoint; the registry stamps its expiry.
func (p *RegistryProvider) Register(ctx context.Context, endpoint ServiceEndpoint) error {
	if p == nil || p.BaseURL == "" {
		return errors.New(errors.CodeInvalidInput, "registry base url not configured", nil)
	}
	payload, err := json.Marshal(endpoint)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "encode endpoint", err)
	}
	return p.do(ctx, http.MethodPost, servicesPath, payload, nil)
}

// Deregister removes id and reports whether the registry knew it.
func (p *RegistryProvider) Deregister(ctx context.Context, id string) (bool, error) {
	if p == nil || p.BaseURL == "" {
		return false, errors.New(errors.CodeInvalidInput, "registry base url not configured", nil)
	}
	key := normalizeKey(id)
	if key == "" {
		return false, errors.New(errors.CodeInvalidInput, "service id is required", nil)
	}
	err := p.do(ctx, http.MethodDelete, servicesPath+"/"+url.PathEscape(key), nil, nil)
	if errors.HasCode(err, errors.CodeNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *RegistryProvider) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "build registry request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(p.AuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := p.http().Do(req)
	if err != nil {
		return errors.New(errors.CodeDiscovery, "registry unreachable", err).
			WithContext("registry", p.BaseURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.CodeNotFound, "registry entry not found", nil)
	case resp.StatusCode >= 300:
		return errors.New(errors.CodeDiscovery, "registry "+strings.ToLower(method)+" failed: "+resp.Status, nil).
			WithContext("registry", p.BaseURL).
			WithContext("status", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeDiscovery, "decode registry response", err).
			WithContext("registry", p.BaseURL)
	}
	return nil
}

func (p *RegistryProvider) http() *http.Client {
	if p != nil && p.HTTP != nil {
		return p.HTTP
	}
	return http.DefaultClient
}

// RegistryServer is a small in-process registry. Entries expire TTL after
// their last registration unless refreshed.
type RegistryServer struct {
	Addr      string
	TTL       time.Duration
	AuthToken string

	mu      sync.Mutex
	entries map[string]ServiceEndpoint
	now     func() time.Time
}

// NewRegistryServer builds a registry server; ttl defaults to 30s.
func NewRegistryServer(addr string, ttl time.Duration) *RegistryServer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RegistryServer{
		Addr:    addr,
		TTL:     ttl,
		entries: map[string]ServiceEndpoint{},
		now:     time.Now,
	}
}

// Handler serves GET/POST on /v1/services and DELETE on /v1/services/{id}.
func (r *RegistryServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+servicesPath, r.authorized(r.handleList))
	mux.HandleFunc("POST "+servicesPath, r.authorized(r.handleRegister))
	mux.HandleFunc("DELETE "+servicesPath+"/{id}", r.authorized(r.handleDeregister))
	return mux
}

// Serve runs the registry on Addr until the listener fails.
func (r *RegistryServer) Serve() error {
	if r == nil {
		return errors.New(errors.CodeInternal, "registry server is nil", nil)
	}
	srv := &http.Server{Addr: r.Addr, Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}

func (r *RegistryServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.AuthToken != "" && req.Header.Get("Authorization") != "Bearer "+r.AuthToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, req)
	}
}

// live drops expired entries and returns the rest. Callers hold r.mu.
func (r *RegistryServer) live() []ServiceEndpoint {
	now := r.now().UTC()
	out := make([]ServiceEndpoint, 0, len(r.entries))
	for key, entry := range r.entries {
		if now.After(entry.ExpiresAt) {
			delete(r.entries, key)
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (r *RegistryServer) handleList(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	out := r.live()
	r.mu.Unlock()
	SortByID(out)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (r *RegistryServer) handleRegister(w http.ResponseWriter, req *http.Request) {
	var endpoint ServiceEndpoint
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(&endpoint); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := normalizeKey(endpoint.ID)
	if key == "" || strings.TrimSpace(endpoint.Address) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	endpoint.ExpiresAt = r.now().UTC().Add(r.TTL)
	r.entries[key] = endpoint
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (r *RegistryServer) handleDeregister(w http.ResponseWriter, req *http.Request) {
	key := normalizeKey(req.PathValue("id"))
	r.mu.Lock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
