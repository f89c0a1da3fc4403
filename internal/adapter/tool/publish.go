package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"inkdesk/internal/domain"
	"inkdesk/internal/infra/config"
	"inkdesk/internal/security"
)

// PublishClient talks to the hosting API. All calls go through a
// circuit breaker that opens after three consecutive failures.
type PublishClient struct {
	apiURL string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]byte]

	mu    sync.RWMutex
	token string
}

// NewPublishClient builds the hosting API client from configuration.
func NewPublishClient(cfg config.PublishConfig) *PublishClient {
	return &PublishClient{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.Token,
		client: &http.Client{
			Transport: security.NewSSRFSafeTransport(),
			Timeout:   30 * time.Second,
		},
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "publish-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// SetToken replaces the stored API token.
func (c *PublishClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// HasToken reports whether a token is configured.
func (c *PublishClient) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

func (c *PublishClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if c.apiURL == "" {
		return nil, domain.NewDomainError("publish", domain.ErrUnavailable,
			"no publish API configured; set publish.api_url")
	}
	if !c.HasToken() {
		return nil, domain.NewDomainError("publish", domain.ErrConfirmRequired,
			"no publish token; run publish with action=set_token first")
	}

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, domain.WrapOp("publish", err)
		}
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		c.mu.RLock()
		req.Header.Set("Authorization", "Bearer "+c.token)
		c.mu.RUnlock()
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var out bytes.Buffer
		if _, err := out.ReadFrom(resp.Body); err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(out.String()))
		}
		return out.Bytes(), nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.NewDomainError("publish", domain.ErrUnavailable,
				"publish API is failing; circuit is open, retry later")
		}
		return nil, domain.NewDomainError("publish", domain.ErrUpstream, err.Error())
	}
	return json.RawMessage(raw), nil
}

type publishTool struct {
	tb     *Toolbox
	logger *slog.Logger
	client *PublishClient
}

// NewPublishTool builds the hosting tool backed by client.
func NewPublishTool(tb *Toolbox, logger *slog.Logger, client *PublishClient) domain.Tool {
	return &publishTool{tb: tb, logger: logger.With("component", "tool.publish"), client: client}
}

func (t *publishTool) Name() string { return "publish" }
func (t *publishTool) Description() string {
	return "Publish the workspace site: deploy, check deploy status, assign a custom domain, or store the API token."
}

func (t *publishTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["deploy", "check", "assign_domain", "set_token"]},
				"site_dir": {"type": "string", "description": "Workspace directory to deploy (deploy)"},
				"deploy_id": {"type": "string", "description": "Deploy to check (check)"},
				"domain": {"type": "string", "description": "Custom domain to assign (assign_domain)"},
				"token": {"type": "string", "description": "API token to store (set_token)"}
			},
			"required": ["action"]
		}`),
	}
}

type publishParams struct {
	Action   string `json:"action"`
	SiteDir  string `json:"site_dir,omitempty"`
	DeployID string `json:"deploy_id,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Token    string `json:"token,omitempty"`
}

type publishStatusPayload struct {
	Action   string `json:"action"`
	DeployID string `json:"deploy_id,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

func (t *publishTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.publish", t.logger, params,
		Dispatch(func(p publishParams) string { return p.Action }, ActionMap[publishParams]{
			"deploy":        t.handleDeploy,
			"check":         t.handleCheck,
			"assign_domain": t.handleAssignDomain,
			"set_token":     t.handleSetToken,
		}),
	)
}

func (t *publishTool) handleDeploy(ctx context.Context, p publishParams) (any, error) {
	dir := p.SiteDir
	if dir == "" {
		dir = "."
	}
	if _, err := t.tb.Resolver.Resolve(dir); err != nil {
		return nil, err
	}

	resp, err := t.client.do(ctx, http.MethodPost, "/deploys", map[string]string{"dir": dir})
	if err != nil {
		return nil, err
	}
	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	_ = json.Unmarshal(resp, &out)

	PublishToolEvent(ctx, t.tb.Bus, domain.EventPublishStatusChanged,
		publishStatusPayload{Action: "deploy", DeployID: out.ID})
	t.logger.Info("deploy started", "dir", dir, "deploy_id", out.ID)
	return TextResult(fmt.Sprintf("Deploy %s started for %s\n%s", out.ID, dir, out.URL)), nil
}

func (t *publishTool) handleCheck(ctx context.Context, p publishParams) (any, error) {
	if err := RequireField("deploy_id", p.DeployID); err != nil {
		return nil, err
	}
	resp, err := t.client.do(ctx, http.MethodGet, "/deploys/"+p.DeployID, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		State string `json:"state"`
		URL   string `json:"url"`
	}
	_ = json.Unmarshal(resp, &out)

	PublishToolEvent(ctx, t.tb.Bus, domain.EventPublishStatusChanged,
		publishStatusPayload{Action: "check", DeployID: p.DeployID})
	return TextResult(fmt.Sprintf("Deploy %s: %s %s", p.DeployID, out.State, out.URL)), nil
}

func (t *publishTool) handleAssignDomain(ctx context.Context, p publishParams) (any, error) {
	if err := RequireField("domain", p.Domain); err != nil {
		return nil, err
	}
	if _, err := t.client.do(ctx, http.MethodPost, "/domains", map[string]string{"domain": p.Domain}); err != nil {
		return nil, err
	}

	PublishToolEvent(ctx, t.tb.Bus, domain.EventPublishStatusChanged,
		publishStatusPayload{Action: "assign_domain", Domain: p.Domain})
	t.logger.Info("domain assigned", "domain", p.Domain)
	return TextResult(fmt.Sprintf("Assigned domain %s", p.Domain)), nil
}

func (t *publishTool) handleSetToken(ctx context.Context, p publishParams) (any, error) {
	if err := RequireField("token", p.Token); err != nil {
		return nil, err
	}
	t.client.SetToken(p.Token)
	t.logger.Info("publish token updated")
	return TextResult("Publish token stored."), nil
}
