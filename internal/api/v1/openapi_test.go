package apiv1

import (
	"context"
	"net/http"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
)

// The published document must stay a valid OpenAPI 3 spec and keep the
// operations clients integrate against.
func TestOpenAPIDocumentIsValid(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	if err != nil {
		t.Fatalf("failed to load openapi document: %v", err)
	}

	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("openapi document is invalid: %v", err)
	}
}

func TestOpenAPIDocumentCoversPublicSurface(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	if err != nil {
		t.Fatalf("failed to load openapi document: %v", err)
	}

	required := map[string][]string{
		"/ping":                 {http.MethodGet},
		"/tariffs":              {http.MethodGet},
		"/webhook/{provider}":   {http.MethodPost},
		"/payments":             {http.MethodPost, http.MethodGet},
		"/payments/{id}":        {http.MethodGet},
		"/payments/{id}/cancel": {http.MethodPost},
		"/payments/{id}/refund": {http.MethodPost},
		"/jobs":                 {http.MethodPost, http.MethodGet},
		"/jobs/{id}":            {http.MethodGet},
		"/jobs/{id}/cancel":     {http.MethodPost},
		"/users/{id}/balance":   {http.MethodGet},
		"/admin/stats":          {http.MethodGet},
	}

	for path, methods := range required {
		item := doc.Paths.Find(path)
		if item == nil {
			t.Errorf("missing path %s", path)
			continue
		}
		for _, method := range methods {
			if item.GetOperation(method) == nil {
				t.Errorf("missing operation %s %s", method, path)
			}
		}
	}
}
