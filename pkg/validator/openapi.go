package validator

import (
	_ "embed"
	"fmt"
	"sync"

	apperrors "mindgarden/backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var defaultSchema []byte

// Schema returns the embedded API document
func Schema() []byte {
	return defaultSchema
}

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	swagger *openapi3.T
	router  routers.Router
	mutex   sync.RWMutex
}

// NewOpenAPIValidator creates a validator for the embedded API document
func NewOpenAPIValidator() (*OpenAPIValidator, error) {
	return NewOpenAPIValidatorFromData(defaultSchema)
}

// NewOpenAPIValidatorFromData creates a validator for the given document
func NewOpenAPIValidatorFromData(data []byte) (*OpenAPIValidator, error) {
	v := &OpenAPIValidator{}
	if err := v.Reload(data); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload replaces the document the validator checks against
func (v *OpenAPIValidator) Reload(data []byte) error {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI schema: %w", err)
	}
	if err := swagger.Validate(loader.Context); err != nil {
		return fmt.Errorf("invalid OpenAPI schema: %w", err)
	}

	router, err := gorillamux.NewRouter(swagger)
	if err != nil {
		return fmt.Errorf("error creating OpenAPI router: %w", err)
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.swagger = swagger
	v.router = router
	return nil
}

// Middleware returns a Gin middleware function that validates requests
// against the document. Requests for routes it does not describe pass through.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mutex.RLock()
		router := v.router
		v.mutex.RUnlock()

		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		requestValidationInput := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         false,
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), requestValidationInput); err != nil {
			_ = c.Error(apperrors.NewInvalidArgumentError("Request does not match the API schema").
				WithDetails(map[string]any{"reason": err.Error()}))
			c.Abort()
			return
		}

		c.Next()
	}
}
