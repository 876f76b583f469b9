// Пакет openapi — встроенный OpenAPI-контракт User Module.
// Контракт валидируется при загрузке (kin-openapi) и отдаётся
// клиентам на GET /api/openapi.json.
package openapi

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var specYAML []byte

var (
	loadOnce sync.Once
	spec     *openapi3.T
	loadErr  error
)

// Load разбирает и валидирует встроенный контракт.
// Результат кэшируется: повторные вызовы бесплатны.
func Load() (*openapi3.T, error) {
	loadOnce.Do(func() {
		loader := openapi3.NewLoader()
		spec, loadErr = loader.LoadFromData(specYAML)
		if loadErr != nil {
			loadErr = fmt.Errorf("разбор OpenAPI контракта: %w", loadErr)
			return
		}
		if err := spec.Validate(loader.Context); err != nil {
			loadErr = fmt.Errorf("валидация OpenAPI контракта: %w", err)
		}
	})
	return spec, loadErr
}

// Handler возвращает HTTP-обработчик, отдающий контракт в JSON.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := Load()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}
