// Package chatbot answers operator questions about the current capture.
// When an OpenAI API key is configured the question goes to the model
// first; otherwise, or when the request fails, an ordered rule table over
// question keywords produces the answer.
package chatbot

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"netscope/internal/analysis"
)

const (
	sourceAI   = "ai"
	sourceRule = "rule"

	systemPrompt = "You are an expert in network analysis and packet capture. " +
		"Answer the user's question concisely and with technical accuracy."
)

// Answer is the chatbot response payload.
type Answer struct {
	Answer string `json:"answer"`
	Source string `json:"source"`
}

// Responder produces answers from the model or the rule table.
type Responder struct {
	log    *logrus.Logger
	client *openai.Client
	model  string
}

// New builds a responder. An empty apiKey disables the model path and an
// empty model selects the default.
func New(log *logrus.Logger, apiKey, model string) *Responder {
	r := &Responder{log: log, model: model}
	if r.model == "" {
		r.model = openai.GPT4oMini
	}
	if apiKey != "" {
		r.client = openai.NewClient(apiKey)
	}
	return r
}

// Configured reports whether the model path is available.
func (r *Responder) Configured() bool {
	return r != nil && r.client != nil
}

// Respond answers a question, giving the model first shot when configured
// and falling back to the rule table on any failure.
func (r *Responder) Respond(ctx context.Context, question string, stats analysis.Statistics) Answer {
	if r.Configured() {
		text, err := r.askModel(ctx, question, stats)
		if err == nil {
			return Answer{Answer: text, Source: sourceAI}
		}
		r.log.WithError(err).Warn("chatbot model request failed, falling back to rules")
	}
	return r.ruleAnswer(question, stats)
}

func (r *Responder) askModel(ctx context.Context, question string, stats analysis.Statistics) (string, error) {
	summary := fmt.Sprintf("Current capture: %d packets recorded, %d anomaly warnings.",
		stats.TotalPackets, len(stats.AnomalyDetection.Warnings))
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: summary + "\n\nQuestion: " + question},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ruleAnswer walks the rule table in order and returns the first match.
// The final entry always matches.
func (r *Responder) ruleAnswer(question string, stats analysis.Statistics) Answer {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "capture") && (strings.Contains(q, "what") || strings.Contains(q, "how")):
		return rule("Packet capture records and analyses the data packets crossing your network.\n\n" +
			"Pick an interface on the capture tab and press start to try it.")

	case strings.Contains(q, "statistic") || strings.Contains(q, "analysis"):
		if stats.TotalPackets > 0 {
			return rule(fmt.Sprintf("Current capture statistics:\npackets: %d\nprotocol distribution: %v\nanomaly warnings: %d",
				stats.TotalPackets, stats.ProtocolDistribution, len(stats.AnomalyDetection.Warnings)))
		}
		return rule("No capture has run yet. Start a capture first, then ask again.")

	case strings.Contains(q, "tcp") && strings.Contains(q, "udp"):
		return rule("TCP favours reliability, UDP favours speed. Applications pick one to match their needs.")

	case strings.Contains(q, "https") || strings.Contains(q, "ssl") || strings.Contains(q, "tls"):
		return rule("HTTPS is HTTP encrypted with SSL/TLS. The payload is protected in transit, " +
			"but certificate validity still matters.")

	case strings.Contains(q, "port") && (strings.Contains(q, "what") || strings.Contains(q, "which")):
		return rule("A port number identifies a service on a host.\nExamples: 80=HTTP, 443=HTTPS, 22=SSH")

	case strings.Contains(q, "suspicious") && strings.Contains(q, "port"):
		return rule("Traffic on commonly abused ports (1337, 4444, 6667 and similar) deserves a closer look.\n" +
			"The statistics view flags these automatically.")

	case strings.Contains(q, "error") || strings.Contains(q, "fail") ||
		strings.Contains(q, "cannot") || strings.Contains(q, "problem"):
		return rule("Check that the process has capture privileges and that the backend is reachable.")

	default:
		return rule("Thanks for the question. Could you be more specific? " +
			"For example: \"how do I start a capture\" or \"what is this IP doing\".")
	}
}

func rule(text string) Answer {
	return Answer{Answer: text, Source: sourceRule}
}
