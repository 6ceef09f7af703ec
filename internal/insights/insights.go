// Package insights produces a short generative summary of a user's routine
// logs via the Gemini API. Entirely optional: the service is nil when no API
// key is configured and the endpoint reports itself unavailable.
package insights

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"routin0/api/internal/store"
)

const defaultModel = "gemini-2.5-flash"

type Service struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey string) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Service{client: client, model: defaultModel}, nil
}

// Generate summarizes the given logs. Returns a fixed message when there is
// nothing to analyze, without calling the model.
func (s *Service) Generate(ctx context.Context, logs []store.LogEntry) (string, error) {
	if len(logs) == 0 {
		return "No activity data to analyze.", nil
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(logs), genai.RoleUser),
	}
	result, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate insight: %w", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty insight response")
	}
	return text, nil
}

func buildPrompt(logs []store.LogEntry) string {
	var lines []string
	for _, entry := range logs {
		value := ""
		if entry.Value != nil {
			value = fmt.Sprintf("%g", *entry.Value)
		}
		lines = append(lines, fmt.Sprintf("Routine: %s (Parent: %s) | Action: %s | Value: %s | Date: %s",
			entry.RoutineTitle, entry.ParentTitle, entry.Action, value, entry.DateKey))
	}

	return fmt.Sprintf(`Analyze the following routine completion data and provide insights. Format your response with clear sections using **bold** for headers.

User Routine Logs:
%s

Provide your response in this exact format:

**Key Patterns & Trends**
- [Bullet point about completion rates, streaks, consistency]
- [Bullet point about patterns observed]

**Strengths**
- [Area where the user is doing well]

**Areas to Improve**
- [Weakest routine or area]

**One Actionable Improvement**
[One specific, concrete suggestion to improve routine adherence.]

Keep it brief, motivating, and data-driven. Use bullet points.`, strings.Join(lines, "\n"))
}
