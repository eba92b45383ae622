package docs

import (
	"context"
	"errors"
	"note-sync/cmd/server/handlers/handlerutil"
	"note-sync/cmd/server/handlers/httperr"
	"note-sync/internal/services/docs"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Service defines the interface for the documents service
type Service interface {
	Create(ctx context.Context, userID bson.ObjectID, req docs.CreateDocumentRequest) (*docs.DocumentResponse, error)
	Get(ctx context.Context, userID, docID bson.ObjectID) (*docs.DocumentResponse, error)
	List(ctx context.Context, userID bson.ObjectID, req docs.ListDocumentsRequest) (*docs.ListDocumentsResponse, error)
	Update(ctx context.Context, userID, docID bson.ObjectID, req docs.UpdateDocumentRequest) (*docs.DocumentResponse, error)
	Delete(ctx context.Context, userID, docID bson.ObjectID) error
	Share(ctx context.Context, userID, docID bson.ObjectID, req docs.ShareRequest) (*docs.DocumentResponse, error)
	Unshare(ctx context.Context, userID, docID, collabID bson.ObjectID) (*docs.DocumentResponse, error)
	Publish(ctx context.Context, userID, docID bson.ObjectID, req docs.PublishRequest) (*docs.DocumentResponse, error)
}

// Handlers contains the documents HTTP handlers
type Handlers struct {
	service   Service
	validator *validator.Validate
}

// NewHandlers creates new documents handlers
func NewHandlers(service Service, validator *validator.Validate) *Handlers {
	return &Handlers{
		service:   service,
		validator: validator,
	}
}

// Create handles document creation
func (h *Handlers) Create(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	var req docs.CreateDocumentRequest
	if err := handlerutil.ParseAndValidateBody(c, &req, h.validator, "Create"); err != nil {
		return err
	}

	resp, err := h.service.Create(c.Context(), userID, req)
	if err != nil {
		return handlerutil.HandleServiceError(err, "Create", userID, nil, docs.ErrDocumentNotFound)
	}

	return c.Status(201).JSON(resp)
}

// Get returns a single document
func (h *Handlers) Get(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	docID, err := handlerutil.ExtractDocumentID(c, userID, "Get", docs.ErrDocumentNotFound)
	if err != nil {
		return err
	}

	resp, err := h.service.Get(c.Context(), userID, docID)
	if err != nil {
		return h.mapServiceError(err, "Get", userID, docID)
	}

	return c.JSON(resp)
}

// List handles documents listing with cursor pagination and search
func (h *Handlers) List(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	var req docs.ListDocumentsRequest
	if err := handlerutil.ParseAndValidateQuery(c, &req, h.validator, "List"); err != nil {
		return err
	}

	resp, err := h.service.List(c.Context(), userID, req)
	if err != nil {
		if errors.Is(err, docs.ErrInvalidCursor) || errors.Is(err, docs.ErrInvalidLimit) {
			return httperr.Fail(httperr.ErrBadRequest)
		}
		return handlerutil.HandleServiceError(err, "List", userID, nil, docs.ErrDocumentNotFound)
	}

	return c.JSON(resp)
}

// Update handles document content updates with optimistic concurrency.
// A stale client_version yields 409 with the server-side state so the
// caller can reconcile.
func (h *Handlers) Update(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	docID, err := handlerutil.ExtractDocumentID(c, userID, "Update", docs.ErrDocumentNotFound)
	if err != nil {
		return err
	}

	var req docs.UpdateDocumentRequest
	if err := handlerutil.ParseAndValidateBody(c, &req, h.validator, "Update"); err != nil {
		return err
	}

	resp, err := h.service.Update(c.Context(), userID, docID, req)
	if err != nil {
		var conflict *docs.ConflictError
		if errors.As(err, &conflict) {
			return c.Status(409).JSON(fiber.Map{
				"error":          "version conflict",
				"client_version": conflict.ClientVersion,
				"server_version": conflict.ServerVersion,
				"server_title":   conflict.ServerTitle,
				"server_body":    conflict.ServerBody,
			})
		}
		return h.mapServiceError(err, "Update", userID, docID)
	}

	return c.JSON(resp)
}

// Delete handles document soft deletion (owner only)
func (h *Handlers) Delete(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	docID, err := handlerutil.ExtractDocumentID(c, userID, "Delete", docs.ErrDocumentNotFound)
	if err != nil {
		return err
	}

	if err := h.service.Delete(c.Context(), userID, docID); err != nil {
		return h.mapServiceError(err, "Delete", userID, docID)
	}

	return c.SendStatus(204)
}

// Share grants or overwrites a collaborator's permission (owner only)
func (h *Handlers) Share(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	docID, err := handlerutil.ExtractDocumentID(c, userID, "Share", docs.ErrDocumentNotFound)
	if err != nil {
		return err
	}

	var req docs.ShareRequest
	if err := handlerutil.ParseAndValidateBody(c, &req, h.validator, "Share"); err != nil {
		return err
	}

	resp, err := h.service.Share(c.Context(), userID, docID, req)
	if err != nil {
		return h.mapServiceError(err, "Share", userID, docID)
	}

	return c.JSON(resp)
}

// Unshare removes a collaborator (owner only)
func (h *Handlers) Unshare(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	docID, err := handlerutil.ExtractDocumentID(c, userID, "Unshare", docs.ErrDocumentNotFound)
	if err != nil {
		return err
	}

	collabID, err := bson.ObjectIDFromHex(c.Params("userId"))
	if err != nil {
		return handlerutil.NotFoundError(docs.ErrDocumentNotFound)
	}

	resp, err := h.service.Unshare(c.Context(), userID, docID, collabID)
	if err != nil {
		return h.mapServiceError(err, "Unshare", userID, docID)
	}

	return c.JSON(resp)
}

// Publish toggles public read visibility (owner only)
func (h *Handlers) Publish(c *fiber.Ctx) error {
	userID, err := handlerutil.GetUserID(c)
	if err != nil {
		return err
	}

	docID, err := handlerutil.ExtractDocumentID(c, userID, "Publish", docs.ErrDocumentNotFound)
	if err != nil {
		return err
	}

	var req docs.PublishRequest
	if err := handlerutil.ParseAndValidateBody(c, &req, h.validator, "Publish"); err != nil {
		return err
	}

	resp, err := h.service.Publish(c.Context(), userID, docID, req)
	if err != nil {
		return h.mapServiceError(err, "Publish", userID, docID)
	}

	return c.JSON(resp)
}

// mapServiceError translates documents service errors into HTTP
// responses. Access-denied reads deliberately collapse into 404 so the
// API does not reveal which documents exist.
func (h *Handlers) mapServiceError(err error, handlerName string, userID, docID bson.ObjectID) error {
	switch {
	case errors.Is(err, docs.ErrAccessDenied):
		return handlerutil.NotFoundError(docs.ErrDocumentNotFound)
	case errors.Is(err, docs.ErrWriteAccessDenied), errors.Is(err, docs.ErrNotOwner):
		return httperr.Fail(httperr.ErrForbidden)
	case errors.Is(err, docs.ErrStoreUnavailable):
		return httperr.Fail(httperr.E{Status: 503, Message: docs.ErrStoreUnavailable.Error()})
	default:
		return handlerutil.HandleServiceError(err, handlerName, userID, &docID, docs.ErrDocumentNotFound)
	}
}
