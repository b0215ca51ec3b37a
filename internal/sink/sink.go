package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/peep-indexer/internal/peep"
)

// PeepPayload is the data passed to sinks.
type PeepPayload struct {
	RuleID   string
	SourceID string
	CallKind string
	peep.Record
}

type Sender interface {
	Send(ctx context.Context, payload PeepPayload) error
}

// encoder turns the rendered message and its peep into a request body.
type encoder func(text string, p PeepPayload) any

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	encode  encoder
	client  *http.Client
	headers map[string]string
}

func newHTTPSender(url, method, tmpl string, headers map[string]string, encode encoder) (Sender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	hdrs := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		hdrs[k] = v
	}
	return &httpSender{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		encode:  encode,
		client:  defaultClient(),
		headers: hdrs,
	}, nil
}

// NewWebhookSender builds a generic HTTP sink. The body carries the rendered
// text next to the full peep record.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	return newHTTPSender(url, method, tmpl, headers, webhookBody)
}

// NewSlackSender builds a Slack incoming-webhook sink using Block Kit.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return newHTTPSender(url, http.MethodPost, tmpl, nil, slackBody)
}

// NewTeamsSender builds a Teams incoming-webhook sink posting a MessageCard.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	return newHTTPSender(url, http.MethodPost, tmpl, nil, teamsBody)
}

func (s *httpSender) Send(ctx context.Context, payload PeepPayload) error {
	text, err := executeTemplate(s.render, payload)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(s.encode(text, payload))
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink http status %d", resp.StatusCode)
	}
	return nil
}

type webhookMessage struct {
	Text   string      `json:"text"`
	Rule   string      `json:"rule"`
	Source string      `json:"source"`
	Kind   string      `json:"kind"`
	Peep   peep.Record `json:"peep"`
}

func webhookBody(text string, p PeepPayload) any {
	return webhookMessage{Text: text, Rule: p.RuleID, Source: p.SourceID, Kind: p.CallKind, Peep: p.Record}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func slackBody(text string, p PeepPayload) any {
	header := fmt.Sprintf("*%s #%d* by `%s`", variantLabel(p.Variant), p.Number, shortAddr(p.Account))
	if ref := peepRef(p.Record); ref != "" {
		header += " " + ref
	}
	return slackMessage{
		Text: text,
		Blocks: []slackBlock{
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}},
			{Type: "context", Elements: []slackText{{
				Type: "mrkdwn",
				Text: fmt.Sprintf("block %d | tx `%s` | rule %s", p.CreatedInBlock, p.CreatedInTx, p.RuleID),
			}}},
		},
	}
}

type teamsCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	ThemeColor string `json:"themeColor"`
	Summary    string `json:"summary"`
	Title      string `json:"title"`
	Text       string `json:"text"`
}

func teamsBody(text string, p PeepPayload) any {
	title := fmt.Sprintf("%s #%d", variantLabel(p.Variant), p.Number)
	return teamsCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: variantColor(p.Variant),
		Summary:    title,
		Title:      title,
		Text:       text,
	}
}

func variantLabel(v peep.Variant) string {
	switch v {
	case peep.VariantShare:
		return "Shared peep"
	case peep.VariantReply:
		return "Reply"
	default:
		return "New peep"
	}
}

func variantColor(v peep.Variant) string {
	switch v {
	case peep.VariantShare:
		return "2EB67D"
	case peep.VariantReply:
		return "ECB22E"
	default:
		return "0076D7"
	}
}

// peepRef names the peep a share or reply points at.
func peepRef(r peep.Record) string {
	if id, ok := r.ReplyTo.Get(); ok {
		return "replying to " + id
	}
	if id, ok := r.Share.Get(); ok {
		return "sharing " + id
	}
	return ""
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

const defaultTemplate = `PEEP #{{.Number}} {{.Variant}} by {{short_addr .Account}}{{with opt .Content}}: {{.}}{{end}} ({{.ID}})`

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": shortAddr,
		"opt": func(o peep.Optional[string]) string {
			return o.OrZero()
		},
	}
	t, err := template.New("msg").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}
