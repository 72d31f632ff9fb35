package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/api-gatekeeper/middleware"
	"github.com/upb/api-gatekeeper/utils"
)

// Billing is the caller's payment settings
type Billing struct {
	Method     string `json:"method"`
	Last4      string `json:"last4"`
	Expiration string `json:"expiration"`
}

// TodosResponse wraps the todo list
type TodosResponse struct {
	Todos []Todo `json:"todos"`
}

// BillingResponse wraps the billing settings
type BillingResponse struct {
	Billing Billing `json:"billing"`
}

// APIHandler serves the protected API routes. Every handler expects
// RequireAuth to have published the verified claims.
type APIHandler struct {
	todos  *TodoGenerator
	logger *zap.Logger
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(todos *TodoGenerator, logger *zap.Logger) *APIHandler {
	if todos == nil {
		todos = NewTodoGenerator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{todos: todos, logger: logger}
}

// HandleMe handles GET /api/me
// Echoes the caller's verified token payload
func (h *APIHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		h.missingClaims(w, r)
		return
	}

	payload := claims.Raw
	if payload == nil {
		payload = map[string]any{"sub": claims.Subject}
	}
	_ = utils.WriteJSON(w, http.StatusOK, payload)
}

// HandleTodos handles GET /api/todos
func (h *APIHandler) HandleTodos(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		h.missingClaims(w, r)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, TodosResponse{
		Todos: h.todos.Generate(claims.Subject, defaultTodoCount),
	})
}

// HandleBilling handles GET /api/billing
func (h *APIHandler) HandleBilling(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, BillingResponse{
		Billing: Billing{
			Method:     "credit-card",
			Last4:      "1234",
			Expiration: "01/2025",
		},
	})
}

func (h *APIHandler) missingClaims(w http.ResponseWriter, r *http.Request) {
	h.logger.Error("protected route reached without claims",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(errNoClaims))
	_ = utils.WriteInternalServerError(w, "")
}

// HandleNotFound answers unknown routes
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
}
