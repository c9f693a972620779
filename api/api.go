package api

import (
	"context"
	"log"
	"net/http"

	"github.com/velora-app/chatcore/api/rest"
	"github.com/velora-app/chatcore/api/ws"
	"github.com/velora-app/chatcore/cache"
	"github.com/velora-app/chatcore/chat"
	"github.com/velora-app/chatcore/keys"
	"github.com/velora-app/chatcore/mq"
	"github.com/velora-app/chatcore/store"
	"github.com/velora-app/chatcore/worker"
	"golang.org/x/oauth2"
)

type ChatAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewChatAPI(
	chatStore store.ChatStore,
	notificationQueue mq.MessageQueue,
	chatCache cache.ChatCache,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	shutdownCtx context.Context,
) (*ChatAPI, error) {
	wsHub := ws.NewHub(chatCache)
	go wsHub.Run()

	receiptBatcher := worker.NewReceiptBatcher(chatStore, 2000)
	go receiptBatcher.Run(shutdownCtx)

	notifyConsumer := worker.NewNotifyConsumer(notificationQueue, chatCache)
	go notifyConsumer.Run(shutdownCtx)

	keyService := keys.NewService(chatStore)

	svc, err := chat.NewService(
		chatStore,
		chatCache,
		notificationQueue,
		keyService,
		receiptBatcher,
		oauthConfigs,
		jwtSecret,
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return &ChatAPI{}, err
	}

	restHandler := rest.NewHandler(svc)
	wsHandler := ws.NewHandler(svc, wsHub)

	return &ChatAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}, nil
}

func (chatAPI *ChatAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/login", chatAPI.restHandler.HandleLogin)
	mux.HandleFunc("/me", chatAPI.restHandler.HandleMe)
	mux.HandleFunc("/me/credits", chatAPI.restHandler.HandleCredits)

	wsUpgrader := chatAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		chatAPI.wsHandler.ServeWS(wsUpgrader, w, r, chatAPI.shutdownCtx)
	})
}
