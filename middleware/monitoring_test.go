package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestRouteTemplateUsesMatchedRoute(t *testing.T) {
	var endpoint string
	router := mux.NewRouter()
	router.HandleFunc("/items/{id}/mark", func(w http.ResponseWriter, r *http.Request) {
		endpoint = routeTemplate(r)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/p42/mark", nil))
	assert.Equal(t, "/items/{id}/mark", endpoint)

	bare := httptest.NewRequest(http.MethodGet, "/unrouted", nil)
	assert.Equal(t, "/unrouted", routeTemplate(bare))
}

func TestMonitoringMiddlewarePassesStatusThrough(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MonitoringMiddleware)
	router.HandleFunc("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
