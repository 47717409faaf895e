package bills

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"billfetch/internal/billing"
	"billfetch/internal/components/telemetry"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const report_serve = "http.serve-bill"

type Getter interface {
	Get(ctx context.Context, rawIdentifier string) (Result, error)
}

// NewHandler exposes the service over http:
//
//	GET /healthz       -> 200 "ok"
//	GET /bills/{ivrs}  -> the pdf as an attachment, 400 for an invalid identifier, 404 otherwise
func NewHandler(svc Getter, tel telemetry.API) http.Handler {
	tel = telemetry.NewScopedAPI("bills", tel)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /bills/{ivrs}", func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Get(r.Context(), r.PathValue("ivrs"))
		if errors.Is(err, billing.ErrInvalidIdentifier) {
			http.Error(w, InvalidIdentifierMessage, http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, FailureMessage, http.StatusNotFound)
			return
		}

		f, err := os.Open(result.Path)
		if err != nil {
			tel.ReportBroken(report_serve, err, result.Path)
			http.Error(w, FailureMessage, http.StatusNotFound)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			tel.ReportBroken(report_serve, err, result.Path)
			http.Error(w, FailureMessage, http.StatusNotFound)
			return
		}

		name := filepath.Base(result.Path)
		w.Header().Set("content-type", "application/pdf")
		w.Header().Set("content-disposition", `attachment; filename="`+name+`"`)
		w.Header().Set("x-bill-cached", strconv.FormatBool(result.Cached))
		http.ServeContent(w, r, name, info.ModTime(), f)
	})

	return otelhttp.NewHandler(mux, "billfetch")
}
