// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package httpjson

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/meshwork/pkg/transport"
)

// NewHandler exposes svc over HTTP/JSON. Application failures are answered
// with 200 and an error-status body; only malformed requests get 4xx.
func NewHandler(svc transport.Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/operations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, svc.Operations())
	})
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		var req transport.InvokeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, transport.InvokeResponse{
				Status:       transport.StatusError,
				ErrorMessage: "invalid request body: " + err.Error(),
			})
			return
		}
		if req.OperationName == "" {
			writeJSON(w, http.StatusBadRequest, transport.InvokeResponse{
				Status:       transport.StatusError,
				ErrorMessage: "operationName is required",
			})
			return
		}
		writeJSON(w, http.StatusOK, svc.Invoke(ctx, req))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
