// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openapiSpec []byte

// OpenAPI parses and validates the embedded API description.
func OpenAPI(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("openapi load failed: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi validation failed: %w", err)
	}
	return doc, nil
}

type openapiCache struct {
	once sync.Once
	doc  *openapi3.T
	err  error
}

func (c *openapiCache) load(ctx context.Context) (*openapi3.T, error) {
	c.once.Do(func() {
		c.doc, c.err = OpenAPI(context.WithoutCancel(ctx))
	})
	return c.doc, c.err
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := s.openapi.load(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("event", "api.openapi_failed").Msg("embedded API description is invalid")
		writeError(w, http.StatusInternalServerError, errors.New("API description unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
