package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vampirenirmal/serialist/internal/contract"
	"github.com/vampirenirmal/serialist/internal/narrative"
)

// Client talks to an OpenAI-compatible chat completion endpoint and maps its
// JSON output onto the engine's proposal/result types.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}
}

func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithModel(baseURL, model string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		c.model = model
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With("component", "generate_client")
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o-mini",
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:  slog.Default().With("component", "generate_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProposeReveal implements Generator.
func (c *Client) ProposeReveal(ctx context.Context, req ProposalRequest) (*contract.Proposal, error) {
	prompt := buildProposalPrompt(req)
	raw, err := c.completeJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var p contract.Proposal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: decoding proposal: %v", ErrTransient, err)
	}
	return &p, nil
}

// GenerateEpisode implements Generator.
func (c *Client) GenerateEpisode(ctx context.Context, req Request) (*Result, error) {
	prompt := buildEpisodePrompt(req)
	raw, err := c.completeJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("%w: decoding episode result: %v", ErrTransient, err)
	}
	if strings.TrimSpace(res.Draft) == "" {
		return nil, fmt.Errorf("%w: empty draft in response", ErrTransient)
	}
	return &res, nil
}

func (c *Client) completeJSON(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	requestBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": "Respond with a single valid JSON object and nothing else."},
			{"role": "user", "content": prompt},
		},
		"max_tokens":      4096,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, truncate(string(respBody), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error: status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: decoding response envelope: %v", ErrTransient, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: response has no choices", ErrTransient)
	}

	c.logger.Debug("completion finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(parsed.Choices[0].Message.Content))

	return parsed.Choices[0].Message.Content, nil
}

func buildProposalPrompt(req ProposalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose the structural reveal for episode %d of a serialized story.\n", req.EpisodeIndex)
	b.WriteString(`Return JSON: {"type": one of FACT|INFO|RELATION|IDENTITY, "scope": one of PROTAGONIST|ANTAGONIST|WORLD, "summary": one sentence}.` + "\n")
	if len(req.Avoid) > 0 {
		b.WriteString("Avoid repeating these recent reveals:\n")
		for _, r := range req.Avoid {
			fmt.Fprintf(&b, "- episode %d: %s about the %s\n", r.Episode, r.Type, r.Scope)
		}
	}
	appendStateContext(&b, req.State)
	appendFactsContext(&b, req.RecentFacts)
	return b.String()
}

func buildEpisodePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write episode %d of %q.\nPremise: %s\n", req.EpisodeIndex, req.ProjectTitle, req.Premise)
	b.WriteString("Satisfy every slot:\n")
	for _, s := range req.Slots {
		fmt.Fprintf(&b, "- [%s] %s (at least %d characters)\n", s.Name, s.Instruction, s.MinLength)
	}
	if req.UserInstruction != "" {
		fmt.Fprintf(&b, "Additional instruction: %s\n", req.UserInstruction)
	}
	appendStateContext(&b, req.State)
	appendFactsContext(&b, req.RecentFacts)
	b.WriteString(`Return JSON: {"draft": prose, "state_delta": proposed changes, "facts": {"events","reveals","items","injuries","promises" each a list of at most 3 strings of at most 80 chars}, "alignment": {"severity": PASS|WARN|FAIL, "notes": []}}.` + "\n")
	return b.String()
}

func appendStateContext(b *strings.Builder, state *narrative.State) {
	if state == nil {
		return
	}
	fmt.Fprintf(b, "Conflict ladder: immediate=%s, mid_term=%s, end_game=%s. Phase: %s.\n",
		state.Conflicts.Immediate.Status, state.Conflicts.MidTerm.Status,
		state.Conflicts.EndGame.Status, state.Phase)
	for name, cs := range state.Characters {
		fmt.Fprintf(b, "Character %s (%s): status %s.\n", name, cs.Role, cs.Status)
	}
	for _, rule := range state.WorldRules.Immutable {
		fmt.Fprintf(b, "World rule (never violate): %s\n", rule)
	}
}

func appendFactsContext(b *strings.Builder, history []narrative.FactsRecord) {
	for _, rec := range history {
		for _, ev := range rec.Facts.Events {
			fmt.Fprintf(b, "Episode %d event: %s\n", rec.EpisodeIndex, ev)
		}
		for _, rv := range rec.Facts.Reveals {
			fmt.Fprintf(b, "Episode %d reveal (irreversible): %s\n", rec.EpisodeIndex, rv)
		}
		for _, in := range rec.Facts.Injuries {
			fmt.Fprintf(b, "Episode %d injury: %s\n", rec.EpisodeIndex, in)
		}
		for _, pr := range rec.Facts.Promises {
			fmt.Fprintf(b, "Episode %d open promise: %s\n", rec.EpisodeIndex, pr)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
