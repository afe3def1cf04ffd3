package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"microgpt-go/pkg/config"
	"microgpt-go/pkg/dataset"
	"microgpt-go/pkg/runlog"
	"microgpt-go/pkg/session"
)

func main() {
	run := config.RunFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New()
	if run.RunDB != "" {
		store, err := runlog.Open(run.RunDB)
		if err != nil {
			log.Fatalf("Failed to open run log: %v", err)
		}
		defer store.Close()
		sess.SetRecorder(store)
		log.Printf("Recording runs to %s", run.RunDB)
	}

	// With DATASET_PATH set the server starts with a model ready to train.
	if run.DatasetPath != "" {
		text, err := dataset.LoadFile(run.DatasetPath)
		if err != nil {
			log.Fatalf("Failed to load dataset: %v", err)
		}
		info, err := sess.Init(text, config.FromEnv())
		if err != nil {
			log.Fatalf("Failed to initialize model: %v", err)
		}
		log.Printf("Loaded %s: docs=%d vocab=%d params=%d", run.DatasetPath, info.NumDocs, info.VocabSize, info.NumParams)
	}

	srv := &http.Server{
		Addr:              ":" + run.Port,
		Handler:           newServer(ctx, sess).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sess.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting MicroGPT server on port %s...", run.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}
