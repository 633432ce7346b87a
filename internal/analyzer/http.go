package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/shared/telemetry"
)

const (
	analyzePath      = "/analyze"
	defaultTimeout   = 120 * time.Second
	maxResponseBytes = 4 << 20
)

// DefaultViability is assumed when the collaborator omits "viabilidad".
const DefaultViability = 50.0

// ErrViabilityOutOfRange rejects a score outside 0-100.
var ErrViabilityOutOfRange = errors.New("viabilidad fuera del rango 0-100")

// ErrTimeout is returned when the collaborator does not answer in time.
var ErrTimeout = errors.New("el servicio de análisis no respondió a tiempo")

// StatusError is a non-2xx answer from the collaborator.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("el servicio de análisis respondió %d", e.StatusCode)
	}
	return fmt.Sprintf("el servicio de análisis respondió %d: %s", e.StatusCode, e.Detail)
}

// HTTPOptions configures HTTPClient. TokenURL, ClientID and ClientSecret are
// optional; when all are set requests carry an OAuth2 client-credentials token.
type HTTPOptions struct {
	BaseURL      string
	Timeout      time.Duration
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// HTTPClient calls the external analysis service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("IA_ANALYZER_URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := &http.Client{Timeout: timeout}
	if opts.TokenURL != "" && opts.ClientID != "" && opts.ClientSecret != "" {
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
		hc = cc.Client(ctx)
		hc.Timeout = timeout
	}
	return &HTTPClient{baseURL: base, httpClient: hc}, nil
}

type analyzeRequest struct {
	EmprendedorID string                     `json:"emprendedorId"`
	Emprendedor   *entrepreneurs.Emprendedor `json:"emprendedor,omitempty"`
}

type analyzeResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Report  *entrepreneurs.Report `json:"informe"`
	Detail  json.RawMessage       `json:"detail"`
	Error   string                `json:"error"`
}

// Analyze posts the record to {base}/analyze and returns the report from the
// response body.
func (c *HTTPClient) Analyze(ctx context.Context, req Request) (entrepreneurs.Report, error) {
	payload, err := json.Marshal(analyzeRequest{
		EmprendedorID: req.EmprendedorID,
		Emprendedor:   snapshot(req),
	})
	if err != nil {
		return entrepreneurs.Report{}, fmt.Errorf("encode analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(payload))
	if err != nil {
		return entrepreneurs.Report{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := telemetry.RequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-Id", id)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return entrepreneurs.Report{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return entrepreneurs.Report{}, fmt.Errorf("no se pudo contactar el servicio de análisis: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return entrepreneurs.Report{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return entrepreneurs.Report{}, fmt.Errorf("read analyze response: %w", err)
	}
	telemetry.Info("analyzer.response", map[string]any{
		"emprendedor_id": req.EmprendedorID,
		"status":         resp.StatusCode,
		"duration_ms":    time.Since(started).Milliseconds(),
	})

	var parsed analyzeResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := ""
		if decodeErr == nil {
			detail = parsed.detail()
		}
		return entrepreneurs.Report{}, &StatusError{StatusCode: resp.StatusCode, Detail: detail}
	}
	if decodeErr != nil {
		return entrepreneurs.Report{}, fmt.Errorf("respuesta inválida del servicio de análisis: %w", decodeErr)
	}
	if !parsed.Success {
		msg := parsed.detail()
		if msg == "" {
			msg = "sin detalle"
		}
		return entrepreneurs.Report{}, fmt.Errorf("el servicio de análisis reportó un fallo: %s", msg)
	}
	if parsed.Report == nil {
		return entrepreneurs.Report{}, errors.New("el servicio de análisis no devolvió un informe")
	}
	return normalizeReport(*parsed.Report)
}

// normalizeReport fills a missing viability score with DefaultViability and
// rejects scores outside [0, 100].
func normalizeReport(report entrepreneurs.Report) (entrepreneurs.Report, error) {
	if report.Viability == nil {
		v := DefaultViability
		report.Viability = &v
		return report, nil
	}
	v := *report.Viability
	if math.IsNaN(v) || v < 0 || v > 100 {
		return entrepreneurs.Report{}, fmt.Errorf("%w: %v", ErrViabilityOutOfRange, v)
	}
	return report, nil
}

// detail extracts a human-readable reason. "detail" may be a string or a
// validation error list.
func (r analyzeResponse) detail() string {
	if len(r.Detail) > 0 {
		var s string
		if err := json.Unmarshal(r.Detail, &s); err == nil {
			return s
		}
		return string(r.Detail)
	}
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

func snapshot(req Request) *entrepreneurs.Emprendedor {
	if req.Emprendedor.ID == "" {
		return nil
	}
	rec := req.Emprendedor
	return &rec
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
