package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"

	authfb "github.com/socialme/messenger/internal/adapters/auth/firebaseauth"
	authmem "github.com/socialme/messenger/internal/adapters/auth/memory"
	blobgcs "github.com/socialme/messenger/internal/adapters/blob/gcs"
	blobmem "github.com/socialme/messenger/internal/adapters/blob/memory"
	httpadapter "github.com/socialme/messenger/internal/adapters/http"
	fsstore "github.com/socialme/messenger/internal/adapters/storage/firestore"
	memstore "github.com/socialme/messenger/internal/adapters/storage/memory"
	"github.com/socialme/messenger/internal/app/roster"
	"github.com/socialme/messenger/internal/app/session"
	"github.com/socialme/messenger/internal/app/thread"
	"github.com/socialme/messenger/internal/config"
	"github.com/socialme/messenger/internal/domain"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	ctx := context.Background()

	var (
		authenticator domain.Authenticator
		profileStore  domain.ProfileStore
		messageStore  domain.MessageStore
		blobStore     domain.BlobStore
	)

	switch cfg.Mode {
	case config.ModeGCP:
		log.Printf("[BACKEND] Using Firebase/GCP backend (project=%s)", cfg.GCPProjectID)

		store, err := fsstore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatalf("error initializing Firestore store: %v", err)
		}
		defer store.Close()

		auth, err := authfb.NewClient(ctx, cfg.GCPProjectID, cfg.WebAPIKey)
		if err != nil {
			log.Fatalf("error initializing Firebase auth: %v", err)
		}

		blobs, err := blobgcs.NewBlobStore(ctx, cfg.StorageBucket)
		if err != nil {
			log.Fatalf("error initializing Cloud Storage: %v", err)
		}

		authenticator = auth
		// 1 store, implements 2 interfaces
		profileStore = store
		messageStore = store
		blobStore = blobs

	default:
		log.Println("[BACKEND] Using in-memory backend")
		authenticator = authmem.NewAuthenticator()
		profileStore = memstore.NewProfileStore()
		messageStore = memstore.NewMessageStore()
		blobStore = blobmem.NewBlobStore()
	}

	sessions := session.NewService(authenticator, profileStore)
	rosterSvc := roster.NewService(sessions, profileStore, messageStore, cfg.RosterPreviews)
	threadSvc := thread.NewService(sessions, messageStore, blobStore)
	defer rosterSvc.Close()
	defer threadSvc.Close()

	handler := httpadapter.NewServer(sessions, rosterSvc, threadSvc)

	port := ":" + cfg.Port
	log.Println("Messenger listening on port:", port)
	if err := http.ListenAndServe(port, handler); err != nil {
		log.Fatal(err)
	}
}
