package handlers

import (
	"net/http"

	"github.com/vango-go/leadline/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCoreError(w, r, http.StatusNotFound, core.NewNotFoundError("route not found: "+r.URL.Path))
}
