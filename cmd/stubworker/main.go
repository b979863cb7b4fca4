// stubworker mimics a lama-cleaner instance closely enough to exercise the
// pipeline without a GPU: it prints the readiness banner, then answers
// POST /inpaint by echoing the uploaded frame back unchanged.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	delay := flag.Duration("delay", 0, "artificial per-request delay")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/inpaint", func(w http.ResponseWriter, req *http.Request) {
		if *delay > 0 {
			time.Sleep(*delay)
		}
		if err := req.ParseMultipartForm(64 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := req.FormFile("image")
		if err != nil {
			http.Error(w, "missing image part", http.StatusBadRequest)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "image/jpeg")
		if _, err := io.Copy(w, f); err != nil {
			log.Error().Err(err).Msg("write response")
		}
	})

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	// The pool watches worker logs for this line to decide readiness.
	fmt.Fprintf(os.Stderr, "INFO: Uvicorn running on http://%s\n", addr)
	log.Info().Str("addr", addr).Msg("stub worker listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}
