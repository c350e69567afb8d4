package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wan-doctor/pkg/agent"
	"wan-doctor/pkg/version"
)

func main() {
	defaultID := os.Getenv("DEVICE_ID")
	defaultController := os.Getenv("CONTROLLER_ADDR")
	if defaultController == "" {
		defaultController = "http://127.0.0.1:8080"
	}
	defaultToken := os.Getenv("AUTH_TOKEN")

	deviceID := flag.String("id", defaultID, "device id (overrides DEVICE_ID env)")
	controller := flag.String("controller", defaultController, "controller base URL")
	authToken := flag.String("token", defaultToken, "JWT for controller auth (env AUTH_TOKEN)")
	name := flag.String("name", "", "human-readable device name")
	oplogPath := flag.String("oplog", "", "path to the local command op log (default /var/lib/wan-doctor/oplog.db)")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Printf("agent version=%s", version.Build)
		return
	}
	if *deviceID == "" {
		log.Fatal("device id is required (flag --id or env DEVICE_ID)")
	}

	if err := register(*controller, *authToken, *deviceID, *name); err != nil {
		log.Printf("device registration failed (will still connect): %v", err)
	}

	oplog := agent.OpenOpLog(*oplogPath)
	defer oplog.Close()
	port := agent.NewLocalPort(oplog)
	client := agent.NewClient(*controller, *deviceID, *authToken, port)
	if client == nil {
		log.Fatal("invalid controller URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	log.Printf("agent version=%s device=%s controller=%s", version.Build, *deviceID, *controller)
	client.Run(ctx)
}

func register(controller, token, deviceID, name string) error {
	body, _ := json.Marshal(map[string]string{
		"id":       deviceID,
		"name":     name,
		"platform": "linux-cpe",
	})
	req, err := http.NewRequest(http.MethodPost, controller+"/api/v1/devices/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register returned status %d", resp.StatusCode)
	}
	return nil
}
