package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"wan-doctor/pkg/api"
	"wan-doctor/pkg/db"
	"wan-doctor/pkg/store"
	"wan-doctor/pkg/troubleshoot"
	"wan-doctor/pkg/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	storeType := flag.String("store", "memory", "store backend: memory|consul (requires build tag consul)")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when store=consul)")
	requireJWT := flag.Bool("require-jwt", false, "require JWT auth on API endpoints")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	clientCA := flag.String("client-ca", "", "require and verify client certs using this CA (optional)")
	flag.Parse()

	var st store.Store
	switch *storeType {
	case "consul":
		st = store.NewConsulStore(*consulAddr)
	case "memory":
		st = store.NewMemoryStore()
	default:
		log.Fatalf("unsupported store type: %s", *storeType)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if mem, ok := st.(*store.MemoryStore); ok {
		go mem.StartCleanup(ctx)
	}

	hub := api.NewWSHub(st)
	svc := troubleshoot.NewService(st, hub)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, st, *requireJWT)
	api.RegisterTroubleshootRoutes(mux, svc, *requireJWT)
	mux.HandleFunc("/api/v1/ws/agent", hub.HandleAgentWS)

	gdb, err := db.Init()
	if err != nil {
		if *requireJWT {
			log.Fatalf("mysql init failed and --require-jwt is set: %v", err)
		}
		log.Printf("mysql unavailable, auth endpoints disabled: %v", err)
	} else {
		(&api.AuthHandler{DB: gdb}).RegisterRoutes(mux)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("controller version=%s listening on %s store=%s", version.Build, *addr, *storeType)
	if *tlsCert != "" && *tlsKey != "" {
		if *clientCA != "" {
			cfg, errTLS := api.ServerTLSConfig(*tlsCert, *tlsKey, *clientCA)
			if errTLS != nil {
				log.Fatalf("failed to build TLS config: %v", errTLS)
			}
			srv.TLSConfig = cfg
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		}
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}
