package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gosimple/slug"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/toolbridge/toolbridge/internal/domain"
)

// HubController exposes the connector hub's inbound surface: OAuth flows,
// connection management, tool execution, and webhook delivery.
type HubController struct {
	oauthService    domain.OAuthService
	refreshService  domain.TokenRefreshService
	toolService     domain.ToolExecutionService
	deliveryService domain.WebhookDeliveryService
	connectors      domain.ConnectorStore
}

type HubControllerDependencies struct {
	OAuthService           domain.OAuthService
	TokenRefreshService    domain.TokenRefreshService
	ToolExecutionService   domain.ToolExecutionService
	WebhookDeliveryService domain.WebhookDeliveryService
	ConnectorStore         domain.ConnectorStore
}

func NewHubController(deps HubControllerDependencies) *HubController {
	return &HubController{
		oauthService:    deps.OAuthService,
		refreshService:  deps.TokenRefreshService,
		toolService:     deps.ToolExecutionService,
		deliveryService: deps.WebhookDeliveryService,
		connectors:      deps.ConnectorStore,
	}
}

type startOAuthRequest struct {
	ConnectorID string `json:"connector_id"`
	UserID      string `json:"user_id"`
	RedirectURI string `json:"redirect_uri"`
}

func (c *HubController) StartOAuth(ctx fiber.Ctx) error {
	var req startOAuthRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := c.oauthService.StartOAuth(ctx.RequestCtx(), domain.StartOAuthParams{
		ConnectorID: req.ConnectorID,
		UserID:      req.UserID,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		return respondError(ctx, err, "Failed to start OAuth flow")
	}

	return ctx.JSON(result)
}

type completeOAuthRequest struct {
	Code         string `json:"code"`
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
}

func (c *HubController) CompleteOAuth(ctx fiber.Ctx) error {
	var req completeOAuthRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := c.oauthService.CompleteOAuth(ctx.RequestCtx(), domain.CompleteOAuthParams{
		Code:         req.Code,
		State:        req.State,
		CodeVerifier: req.CodeVerifier,
	})
	if err != nil {
		return respondError(ctx, err, "Failed to complete OAuth flow")
	}

	return ctx.JSON(fiber.Map{
		"success":       true,
		"connection_id": result.ConnectionID,
		"connector_id":  result.ConnectorID,
		"scopes":        result.Scopes,
	})
}

type registerAPIKeyRequest struct {
	ConnectorID string `json:"connector_id"`
	UserID      string `json:"user_id"`
	APIKey      string `json:"api_key"`
}

func (c *HubController) RegisterAPIKey(ctx fiber.Ctx) error {
	var req registerAPIKeyRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	connection, err := c.oauthService.RegisterAPIKey(ctx.RequestCtx(), req.ConnectorID, req.UserID, req.APIKey)
	if err != nil {
		return respondError(ctx, err, "Failed to register API key")
	}

	return ctx.JSON(fiber.Map{
		"success":       true,
		"connection_id": connection.ID,
	})
}

func (c *HubController) Disconnect(ctx fiber.Ctx) error {
	connectionID := ctx.Params("connectionID")
	userID := ctx.Query("user_id")

	if err := c.oauthService.Disconnect(ctx.RequestCtx(), connectionID, userID); err != nil {
		return respondError(ctx, err, "Failed to disconnect")
	}

	return ctx.JSON(fiber.Map{"success": true})
}

type refreshTokensRequest struct {
	ConnectionID string `json:"connection_id"`
	Force        bool   `json:"force"`
}

func (c *HubController) RefreshTokens(ctx fiber.Ctx) error {
	var req refreshTokensRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	results, err := c.refreshService.RefreshTokens(ctx.RequestCtx(), domain.RefreshTokensParams{
		ConnectionID: req.ConnectionID,
		Force:        req.Force,
	})
	if err != nil {
		return respondError(ctx, err, "Failed to refresh tokens")
	}

	// The batch succeeding says nothing about individual connections; the
	// caller inspects each result.
	return ctx.JSON(fiber.Map{"results": results})
}

type executeToolRequest struct {
	JobID       string         `json:"job_id"`
	ConnectorID string         `json:"connector_id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args"`
	UserID      string         `json:"user_id"`
}

func (c *HubController) ExecuteTool(ctx fiber.Ctx) error {
	var req executeToolRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.JobID == "" {
		req.JobID = xid.New().String()
	}

	result, err := c.toolService.ExecuteTool(ctx.RequestCtx(), domain.ExecuteToolParams{
		JobID:       req.JobID,
		ConnectorID: req.ConnectorID,
		ToolName:    req.ToolName,
		Args:        req.Args,
		UserID:      req.UserID,
	})
	if err != nil {
		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			// The result still carries the failure detail and latency.
			return ctx.Status(domainErr.HTTPStatus()).JSON(result)
		}
		return respondError(ctx, err, "Failed to execute tool")
	}

	return ctx.JSON(result)
}

func (c *HubController) DiscoverTools(ctx fiber.Ctx) error {
	connectorID := ctx.Params("connectorID")

	tools, err := c.toolService.DiscoverTools(ctx.RequestCtx(), connectorID)
	if err != nil {
		return respondError(ctx, err, "Failed to discover tools")
	}

	items := make([]fiber.Map, 0, len(tools))
	for _, tool := range tools {
		items = append(items, fiber.Map{
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.Parameters,
			"source":      tool.Source,
		})
	}

	return ctx.JSON(fiber.Map{"tools": items})
}

type registerToolRequest struct {
	ConnectorID string                 `json:"connector_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  domain.ParameterSchema `json:"parameters"`
	Source      string                 `json:"source"`
}

func (c *HubController) RegisterTool(ctx fiber.Ctx) error {
	var req registerToolRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	tool, err := c.toolService.RegisterTool(ctx.RequestCtx(), domain.ConnectorTool{
		ConnectorID: req.ConnectorID,
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
		Source:      domain.ToolSource(req.Source),
	})
	if err != nil {
		return respondError(ctx, err, "Failed to register tool")
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"id": tool.ID, "name": tool.Name})
}

type createConnectorRequest struct {
	Name         string   `json:"name"`
	AuthType     string   `json:"auth_type"`
	ProviderKey  string   `json:"provider_key"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	MCPServerURL string   `json:"mcp_server_url"`
}

func (c *HubController) CreateConnector(ctx fiber.Ctx) error {
	var req createConnectorRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Connector name is required")
	}

	connector := domain.Connector{
		ID:           xid.New().String(),
		Slug:         slug.Make(req.Name),
		Name:         req.Name,
		AuthType:     domain.AuthType(req.AuthType),
		ProviderKey:  req.ProviderKey,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Scopes:       req.Scopes,
		MCPServerURL: req.MCPServerURL,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := c.connectors.CreateConnector(ctx.RequestCtx(), connector); err != nil {
		return respondError(ctx, err, "Failed to create connector")
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":   connector.ID,
		"slug": connector.Slug,
	})
}

type deliverEventRequest struct {
	UserID  string            `json:"user_id"`
	Event   string            `json:"event"`
	Context map[string]string `json:"context"`
}

func (c *HubController) DeliverEvent(ctx fiber.Ctx) error {
	var req deliverEventRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	summaries, err := c.deliveryService.DeliverEvent(ctx.RequestCtx(), domain.DeliverEventParams{
		UserID:  req.UserID,
		Event:   req.Event,
		Context: req.Context,
	})
	if err != nil {
		return respondError(ctx, err, "Failed to deliver event")
	}

	return ctx.JSON(fiber.Map{"deliveries": summaries})
}

func (c *HubController) RetryDelivery(ctx fiber.Ctx) error {
	deliveryID := ctx.Params("deliveryID")

	result, err := c.deliveryService.RetryDelivery(ctx.RequestCtx(), deliveryID)
	if err != nil {
		return respondError(ctx, err, "Failed to retry delivery")
	}

	return ctx.JSON(result)
}

type testWebhookRequest struct {
	URL     string         `json:"url"`
	Secret  string         `json:"secret"`
	Payload map[string]any `json:"payload"`
}

func (c *HubController) TestWebhook(ctx fiber.Ctx) error {
	var req testWebhookRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.URL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Webhook URL is required")
	}

	result := c.deliveryService.TestWebhook(ctx.RequestCtx(), domain.TestWebhookParams{
		URL:     req.URL,
		Secret:  req.Secret,
		Payload: req.Payload,
	})

	return ctx.JSON(result)
}

// respondError maps a typed domain error to its HTTP status with its public
// message; anything else is logged and answered with a generic message so
// internals never leak into responses.
func respondError(ctx fiber.Ctx, err error, fallback string) error {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) && domainErr.Kind != domain.ErrorKindInternal {
		body := fiber.Map{"error": domainErr.Message}
		if len(domainErr.Details) > 0 {
			body["details"] = domainErr.Details
		}
		return ctx.Status(domainErr.HTTPStatus()).JSON(body)
	}

	log.Error().Err(err).Msg(fallback)

	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": fallback})
}
