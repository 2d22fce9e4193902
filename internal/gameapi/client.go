// Package gameapi is the REST client for the authoritative game backend.
// Every state-changing combat operation goes through here; the realtime
// channel only carries hints.
package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/tableroom/internal/encounter"
	apperrors "github.com/louisbranch/tableroom/internal/platform/errors"
	"github.com/louisbranch/tableroom/internal/platform/timeouts"
)

const tracerName = "github.com/louisbranch/tableroom/internal/gameapi"

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Client calls the game REST API. The zero HTTPClient uses a client with the
// shared request timeout.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New returns a client for baseURL authenticated with token.
func New(baseURL string, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimSpace(baseURL),
		Token:      strings.TrimSpace(token),
		HTTPClient: &http.Client{Timeout: timeouts.Request},
	}
}

// CreateEncounterRequest describes a new encounter.
type CreateEncounterRequest struct {
	SessionID string         `json:"sessionId"`
	Name      string         `json:"name"`
	Type      encounter.Type `json:"type"`
}

// ActionResult is the server's resolution of a performed action.
type ActionResult struct {
	Action      encounter.PerformedAction `json:"action"`
	CombatState *encounter.CombatState    `json:"combatState,omitempty"`
	Health      []encounter.Health        `json:"health,omitempty"`
}

type startCombatRequest struct {
	InitiativeRolls []encounter.InitiativeRoll `json:"initiativeRolls"`
}

type participantRequest struct {
	ParticipantID string `json:"participantId"`
}

// GetSession loads a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (encounter.Session, error) {
	var out encounter.Session
	err := c.do(ctx, "GetSession", http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

// CreateEncounter creates an encounter in a session.
func (c *Client) CreateEncounter(ctx context.Context, req CreateEncounterRequest) (encounter.Encounter, error) {
	var out encounter.Encounter
	err := c.do(ctx, "CreateEncounter", http.MethodPost, "/encounters", req, &out)
	return out, err
}

// GetEncounter loads an encounter.
func (c *Client) GetEncounter(ctx context.Context, encounterID string) (encounter.Encounter, error) {
	var out encounter.Encounter
	err := c.do(ctx, "GetEncounter", http.MethodGet, encounterPath(encounterID, ""), nil, &out)
	return out, err
}

// AddParticipant adds a character or NPC to an encounter.
func (c *Client) AddParticipant(ctx context.Context, encounterID string, participantID string) (encounter.Encounter, error) {
	var out encounter.Encounter
	err := c.do(ctx, "AddParticipant", http.MethodPost, encounterPath(encounterID, "/participants"),
		participantRequest{ParticipantID: participantID}, &out)
	return out, err
}

// RemoveParticipant removes a participant from an encounter.
func (c *Client) RemoveParticipant(ctx context.Context, encounterID string, participantID string) (encounter.Encounter, error) {
	var out encounter.Encounter
	err := c.do(ctx, "RemoveParticipant", http.MethodDelete,
		encounterPath(encounterID, "/participants/"+url.PathEscape(participantID)), nil, &out)
	return out, err
}

// StartCombat submits initiative rolls and returns the opening combat state.
func (c *Client) StartCombat(ctx context.Context, encounterID string, rolls []encounter.InitiativeRoll) (*encounter.CombatState, error) {
	var out encounter.CombatState
	err := c.do(ctx, "StartCombat", http.MethodPost, encounterPath(encounterID, "/combat/start"),
		startCombatRequest{InitiativeRolls: rolls}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// NextTurn advances the turn pointer.
func (c *Client) NextTurn(ctx context.Context, encounterID string) (*encounter.CombatState, error) {
	var out encounter.CombatState
	if err := c.do(ctx, "NextTurn", http.MethodPost, encounterPath(encounterID, "/combat/next-turn"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndCombat ends the running combat.
func (c *Client) EndCombat(ctx context.Context, encounterID string) error {
	return c.do(ctx, "EndCombat", http.MethodPost, encounterPath(encounterID, "/combat/end"), nil, nil)
}

// PerformAction submits a combat action for resolution.
func (c *Client) PerformAction(ctx context.Context, encounterID string, intent encounter.ActionIntent) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, "PerformAction", http.MethodPost, encounterPath(encounterID, "/combat/actions"), intent, &out)
	return out, err
}

// GetCombatState returns the running combat, or nil when there is none.
func (c *Client) GetCombatState(ctx context.Context, encounterID string) (*encounter.CombatState, error) {
	var out encounter.CombatState
	err := c.do(ctx, "GetCombatState", http.MethodGet, encounterPath(encounterID, "/combat"), nil, &out)
	if apperrors.CodeOf(err) == apperrors.CodeNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !out.IsActive {
		return nil, nil
	}
	return &out, nil
}

func encounterPath(encounterID string, suffix string) string {
	return "/encounters/" + url.PathEscape(encounterID) + suffix
}

func (c *Client) do(ctx context.Context, op string, method string, path string, body any, out any) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gameapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	err := c.roundTrip(ctx, span, op, method, path, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, span trace.Span, op string, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeProtocolMalformed, "encode "+op+" request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConnectionFailed, "build "+op+" request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConnectionFailed, "call "+op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeProtocolMalformed, "decode "+op+" response", err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: timeouts.Request}
}

// statusError maps a non-2xx response to an action error carrying the
// server's message from {"message"} or {"error"}.
func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := ""
	if gjson.ValidBytes(raw) {
		fields := gjson.GetManyBytes(raw, "message", "error")
		for _, field := range fields {
			if field.Type == gjson.String && strings.TrimSpace(field.String()) != "" {
				message = strings.TrimSpace(field.String())
				break
			}
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return apperrors.WithMetadata(apperrors.CodeFromHTTPStatus(resp.StatusCode), message, map[string]string{
		"Operation": op,
		"Status":    strconv.Itoa(resp.StatusCode),
	})
}
