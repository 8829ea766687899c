package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fabot/models"
)

const (
	analysisTemperature = 0.3
	analysisMaxTokens   = 1500
)

// AnalysisResult distinguishes a real analysis from the placeholder the
// service degrades to when the model's reply does not parse. Callers that
// only care about the UI can ignore Degraded; tests and logs should not.
type AnalysisResult struct {
	Analysis models.ConversationAnalysis
	Degraded bool
	Reason   string
}

// AnalyzerService derives the Visual Guide structure from a transcript by
// asking the completion gateway for a JSON summary. A malformed reply never
// becomes an error: the result degrades to a localized placeholder.
type AnalyzerService struct {
	completion *CompletionService
}

func NewAnalyzerService(completion *CompletionService) *AnalyzerService {
	return &AnalyzerService{completion: completion}
}

// Analyze runs one analysis pass over the full transcript. It returns an
// error only when no gateway reply was obtainable at all.
func (a *AnalyzerService) Analyze(ctx context.Context, messages []ChatMessage, language string) (AnalysisResult, error) {
	transcript := renderTranscript(messages, language)
	if transcript == "" {
		return degraded(language, "empty transcript"), nil
	}

	prompt := []ChatMessage{
		{Role: "system", Content: systemPrompt(language)},
		{Role: "user", Content: analysisPrompt(transcript, language)},
	}

	reply, _, err := a.completion.Complete(ctx, prompt, Options{
		Temperature: analysisTemperature,
		MaxTokens:   analysisMaxTokens,
	})
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("analysis request failed: %w", err)
	}

	var analysis models.ConversationAnalysis
	if err := json.Unmarshal([]byte(stripCodeFences(reply)), &analysis); err != nil {
		return degraded(language, "model reply was not valid JSON"), nil
	}

	normalize(&analysis)
	return AnalysisResult{Analysis: analysis}, nil
}

// renderTranscript flattens the message list into human-labelled lines.
func renderTranscript(messages []ChatMessage, language string) string {
	userLabel, aiLabel := "User", "AI"
	if language == "pt" {
		userLabel, aiLabel = "Usuário", "IA"
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		label := aiLabel
		if msg.Role == "user" {
			label = userLabel
		}
		lines = append(lines, label+": "+msg.Content)
	}
	return strings.Join(lines, "\n\n")
}

func systemPrompt(language string) string {
	if language == "pt" {
		return "Você é um assistente especializado em análise de conversas e extração de informações estruturadas. Sempre retorne respostas em JSON válido."
	}
	return "You are an assistant specialized in conversation analysis and structured information extraction. Always respond with valid JSON."
}

func analysisPrompt(transcript, language string) string {
	if language == "pt" {
		return fmt.Sprintf(`Analise a seguinte conversa e extraia informações estruturadas como um sistema de Visual Guide inteligente.

Conversa:
%s

Por favor, retorne um JSON com a seguinte estrutura:
{
  "keyPoints": ["Ponto principal 1", "Ponto principal 2"],
  "topics": [{"name": "Tópico identificado", "importance": "high|medium|low", "summary": "Breve resumo do tópico"}],
  "actionItems": ["Item de ação 1"],
  "questions": ["Pergunta relevante 1"],
  "summary": "Resumo geral da conversa em 1-2 frases",
  "nextSteps": "Próximos passos sugeridos"
}

Foque em extrair os pontos mais importantes e relevantes da conversa.`, transcript)
	}
	return fmt.Sprintf(`Analyze the following conversation and extract structured information as an intelligent Visual Guide system.

Conversation:
%s

Please return a JSON object with the following structure:
{
  "keyPoints": ["Key point 1", "Key point 2"],
  "topics": [{"name": "Identified topic", "importance": "high|medium|low", "summary": "Short topic summary"}],
  "actionItems": ["Action item 1"],
  "questions": ["Relevant question 1"],
  "summary": "Overall summary of the conversation in 1-2 sentences",
  "nextSteps": "Suggested next steps"
}

Focus on extracting the most important and relevant points of the conversation.`, transcript)
}

func degraded(language, reason string) AnalysisResult {
	return AnalysisResult{
		Analysis: placeholderAnalysis(language),
		Degraded: true,
		Reason:   reason,
	}
}

// placeholderAnalysis is the fixed fallback structure; non-empty defaults so
// the guide panel always has something to show.
func placeholderAnalysis(language string) models.ConversationAnalysis {
	if language == "pt" {
		return models.ConversationAnalysis{
			KeyPoints:   []string{"Conversa em andamento..."},
			Topics:      []models.Topic{},
			ActionItems: []string{},
			Questions:   []string{},
			Summary:     "Análise da conversa em progresso",
			NextSteps:   "Continue a conversa para mais insights",
		}
	}
	return models.ConversationAnalysis{
		KeyPoints:   []string{"Conversation in progress..."},
		Topics:      []models.Topic{},
		ActionItems: []string{},
		Questions:   []string{},
		Summary:     "Conversation analysis in progress",
		NextSteps:   "Keep the conversation going for more insights",
	}
}

// stripCodeFences tolerates models that wrap their JSON in ```json fences.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func normalize(a *models.ConversationAnalysis) {
	if a.KeyPoints == nil {
		a.KeyPoints = []string{}
	}
	if a.Topics == nil {
		a.Topics = []models.Topic{}
	}
	if a.ActionItems == nil {
		a.ActionItems = []string{}
	}
	if a.Questions == nil {
		a.Questions = []string{}
	}
}
