package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/user-admin/internal/model"
)

// UserDirectory is the service the directory API is built on.
// *service.DirectoryService satisfies it.
type UserDirectory interface {
	List(ctx context.Context) ([]model.UserRecord, error)
	Register(ctx context.Context, name, email, provider string) (*model.User, error)
	Delete(ctx context.Context, email string) error
}

// UsersHandler serves the directory wire contract:
//
//	GET    /users  → 200 [{name,email,provider,createdAt}, ...]
//	DELETE /users  {"email": "..."} → 204, 404 when absent
//	POST   /users  {"name","email","provider"} → 201 record, 409 when taken
type UsersHandler struct {
	users  UserDirectory
	logger *slog.Logger
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(users UserDirectory, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{users: users, logger: logger}
}

// HandleList returns every account, oldest first.
//
// HTTP: GET /users
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.users.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type deleteUserRequest struct {
	Email string `json:"email"`
}

// HandleDelete removes an account. The email travels in the body, not the
// path.
//
// HTTP: DELETE /users
// REQUEST BODY: {"email": "ada@example.com"}
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.users.Delete(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type registerUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// HandleRegister creates an account and returns it in wire form.
//
// HTTP: POST /users
// REQUEST BODY: {"name": "Ada", "email": "ada@example.com", "provider": "google"}
func (h *UsersHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.Register(r.Context(), req.Name, req.Email, req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user.Record())
}
