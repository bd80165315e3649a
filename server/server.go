package server

import (
	"crypto/tls"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"
	"golang.org/x/crypto/acme/autocert"

	"github.com/minsukang/datapilot/handlers"
)

// SetupRoutes wires the upload and dataset surfaces onto a router.
func SetupRoutes(upload *handlers.UploadHandler, dataset *handlers.DatasetHandler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/uploads", upload.CreateSession).Methods("POST")
	r.HandleFunc("/uploads/{id}/chunks/{index:[0-9]+}", upload.UploadChunk).Methods("POST")
	r.HandleFunc("/uploads/{id}/progress", upload.GetProgress).Methods("GET")
	r.HandleFunc("/uploads/{id}/complete", upload.Complete).Methods("POST")

	r.HandleFunc("/datasets", dataset.Parse).Methods("POST")
	r.HandleFunc("/datasets/{id}/ask", dataset.Ask).Methods("POST")

	return r
}

// ServeProduction runs behind autocert-managed TLS.
func ServeProduction(n *negroni.Negroni, domains []string, certCacheDir string) {
	autocertManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(certCacheDir),
	}

	// Port 80 answers ACME "http-01" challenges and redirects the rest to
	// HTTPS.
	go func() {
		srv := &http.Server{
			Addr:         ":80",
			Handler:      autocertManager.HTTPHandler(nil),
			IdleTimeout:  time.Minute,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		log.Fatal(srv.ListenAndServe())
	}()

	tlsConfig := &tls.Config{
		GetCertificate:   autocertManager.GetCertificate,
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
	}

	srv := &http.Server{
		Addr:         ":443",
		Handler:      n,
		TLSConfig:    tlsConfig,
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // chunk uploads can be slow on bad links
	}
	log.Fatal(srv.ListenAndServeTLS("", ""))
}

// ServeDevelopment runs plain HTTP.
func ServeDevelopment(s *http.Server) {
	log.Fatal(s.ListenAndServe())
}
