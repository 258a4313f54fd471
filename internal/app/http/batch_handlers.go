package transport

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
)

type BatchHandlers struct {
	TriggerPayrollProcessing stdhttp.HandlerFunc
	GetState                 stdhttp.HandlerFunc
}

func registerBatchRoutes(api chi.Router, handlers BatchHandlers) {
	api.Route("/batch", func(r chi.Router) {
		r.Post("/trigger-payroll-processing", mustHandler("trigger-payroll-processing", handlers.TriggerPayrollProcessing))
		r.Get("/state", mustHandler("get-batch-state", handlers.GetState))
	})
}
