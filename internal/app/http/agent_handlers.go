package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type AgentHandlers struct {
	Interact       stdhttp.HandlerFunc
	Stream         stdhttp.HandlerFunc
	GetSession     stdhttp.HandlerFunc
	DeleteSession  stdhttp.HandlerFunc
	ListOperations stdhttp.HandlerFunc
}

func registerAgentRoutes(api chi.Router, handlers AgentHandlers) {
	api.Route("/agent", func(r chi.Router) {
		r.Post("/interact", mustHandler("agent-interact", handlers.Interact))
		r.Get("/ws/{employer_address}", mustHandler("agent-stream", handlers.Stream))
		r.Get("/sessions/{session_id}", mustHandler("get-session", handlers.GetSession))
		r.Delete("/sessions/{session_id}", mustHandler("delete-session", handlers.DeleteSession))
		r.Get("/operations", mustHandler("list-operations", handlers.ListOperations))
	})
}
