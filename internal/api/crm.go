// ABOUTME: POST /api/crm/hubspot/contact: creates a HubSpot contact with the server-held token.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/scarson/leadpilot/internal/crm"
)

type createContactInput struct {
	Body struct {
		Email     string `json:"email"               format:"email" maxLength:"254"`
		FirstName string `json:"firstname,omitempty" maxLength:"100"`
		LastName  string `json:"lastname,omitempty"  maxLength:"100"`
		Company   string `json:"company,omitempty"   maxLength:"200"`
		Phone     string `json:"phone,omitempty"     maxLength:"50"`
	}
}

type createContactOutput struct {
	Body struct {
		ID string `json:"id" doc:"HubSpot contact id"`
	}
}

func registerCRMRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID:   "crm-create-hubspot-contact",
		Method:        http.MethodPost,
		Path:          "/crm/hubspot/contact",
		Summary:       "Create a HubSpot contact",
		Tags:          []string{"crm"},
		DefaultStatus: http.StatusCreated,
	}, srv.createContactHandler)
}

func (srv *Server) createContactHandler(ctx context.Context, input *createContactInput) (*createContactOutput, error) {
	if srv.deps.CRM == nil {
		return nil, huma.Error503ServiceUnavailable("crm not configured")
	}
	b := input.Body
	res, err := srv.deps.CRM.CreateContact(ctx, crm.Contact{
		Email:     b.Email,
		FirstName: b.FirstName,
		LastName:  b.LastName,
		Company:   b.Company,
		Phone:     b.Phone,
	})
	switch {
	case errors.Is(err, crm.ErrContactExists):
		return nil, huma.Error409Conflict("contact already exists")
	case errors.Is(err, crm.ErrNotConfigured):
		return nil, huma.Error503ServiceUnavailable("crm not configured")
	case err != nil:
		slog.ErrorContext(ctx, "crm create contact", "user_id", userIDFrom(ctx), "error", err)
		return nil, huma.Error502BadGateway("crm provider error")
	}

	out := &createContactOutput{}
	out.Body.ID = res.ID
	return out, nil
}
