package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cache"
)

const (
	vehicleURIPrefix   = "tesla://vehicles/"
	vehicleURITemplate = vehicleURIPrefix + "{id}"
	jsonMIMEType       = "application/json"

	methodListResources = "resources/list"
)

// VehicleURI returns the resource URI of the vehicle with the given id.
func VehicleURI(id string) string {
	return vehicleURIPrefix + url.PathEscape(id)
}

// vehicleID extracts the vehicle id from a resource URI.
func vehicleID(uri string) (string, bool) {
	if !strings.HasPrefix(uri, vehicleURIPrefix) {
		return "", false
	}
	id, err := url.PathUnescape(strings.TrimPrefix(uri, vehicleURIPrefix))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func vehicleResource(v *account.Vehicle) *mcpsdk.Resource {
	return &mcpsdk.Resource{
		URI:         VehicleURI(v.ID.String()),
		Name:        v.Name(),
		Description: "VIN: " + v.VIN,
		MIMEType:    jsonMIMEType,
	}
}

func (s *Server) registerResources(server *mcpsdk.Server) {
	server.AddResourceTemplate(&mcpsdk.ResourceTemplate{
		URITemplate: vehicleURITemplate,
		Name:        "vehicle",
		Description: "Most recently reported data for a vehicle on the account",
		MIMEType:    jsonMIMEType,
	}, s.ReadResource)

	// The vehicle list changes with the account, so resources/list is answered from the cache
	// rather than from a static registry.
	server.AddReceivingMiddleware(func(next mcpsdk.MethodHandler) mcpsdk.MethodHandler {
		return func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
			if method == methodListResources {
				return s.ListResources(ctx)
			}
			return next(ctx, method, req)
		}
	})
}

// ListResources returns one resource per vehicle, fetching the vehicle list if the cache is stale.
func (s *Server) ListResources(ctx context.Context) (*mcpsdk.ListResourcesResult, error) {
	vehicles := s.vehicles.Get(ctx, false)
	resources := make([]*mcpsdk.Resource, 0, len(vehicles))
	for i := range vehicles {
		resources = append(resources, vehicleResource(&vehicles[i]))
	}
	log.Debug("Listing %d vehicle resources", len(resources))
	return &mcpsdk.ListResourcesResult{Resources: resources}, nil
}

// ReadResource returns the JSON representation of a cached vehicle. The cache may be refreshed if
// stale, but a missing vehicle does not trigger a forced refresh.
func (s *Server) ReadResource(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	uri := req.Params.URI
	id, ok := vehicleID(uri)
	if !ok {
		return nil, mcpsdk.ResourceNotFoundError(uri)
	}
	s.vehicles.Get(ctx, false)
	vehicle, err := s.vehicles.Lookup(id)
	var notFound *cache.NotFoundError
	if errors.As(err, &notFound) {
		log.Debug("Resource %s not in cache", uri)
		return nil, mcpsdk.ResourceNotFoundError(uri)
	} else if err != nil {
		return nil, err
	}

	encoded, err := json.MarshalIndent(vehicle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode vehicle %s: %w", id, err)
	}
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{
			URI:      uri,
			MIMEType: jsonMIMEType,
			Text:     string(encoded),
		}},
	}, nil
}
