// Package gemini generates round questions with the Gemini API.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"quiz-squad/internal/domain"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image"
)

const systemPrompt = `Você é o mestre supremo do Battle Royale e cria desafios técnicos de elite para um squad.
Cada rodada traz uma pergunta objetiva sobre táticas de combate, armas (M4A1, AK47, AWM) ou mecânicas de jogo,
a menos que um tema seja pedido. O tom é épico e focado em Esports. Responda apenas com o JSON pedido.`

type Config struct {
	APIKey     string
	TextModel  string
	ImageModel string
	// Images adds a generated scene to each question as a data URL.
	Images bool
}

// Generator asks Gemini for one question per round.
type Generator struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("genai api key not configured")
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Generator{client: client, cfg: cfg, logger: logger}, nil
}

func (g *Generator) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.StoryNode, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.TextModel, genai.Text(Prompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    questionSchema(),
	})
	if err != nil {
		return domain.StoryNode{}, fmt.Errorf("generate question: %w", err)
	}
	node, err := ParseNode(resp.Text())
	if err != nil {
		return domain.StoryNode{}, err
	}

	if g.cfg.Images {
		url, err := g.generateImage(ctx, node.Text)
		if err != nil {
			// the question is still usable without its scene
			g.logger.Warn("image generation failed", "round", req.Round, "error", err)
		}
		node.ImageURL = url
	}
	return node, nil
}

func (g *Generator) generateImage(ctx context.Context, scene string) (string, error) {
	prompt := "Battle Royale competitive game scene, professional esports style, dramatic lighting, orange and blue accents, 16:9: " + scene
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.ImageModel, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no image candidate")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return DataURL(part.InlineData.MIMEType, part.InlineData.Data), nil
		}
	}
	return "", errors.New("no inline image data")
}

// Prompt renders the user turn for a round.
func Prompt(req domain.QuestionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rodada %d. Dificuldade: %s. ", req.Round, req.Difficulty)
	if req.Mode == domain.ModeTrueFalse {
		b.WriteString(`Crie uma afirmação de verdadeiro ou falso com exatamente 2 opções: ["Verdadeiro", "Falso"]. `)
	} else {
		b.WriteString("Crie uma pergunta de múltipla escolha com exatamente 4 opções. ")
	}
	if topic := strings.TrimSpace(req.Topic); topic != "" {
		fmt.Fprintf(&b, "Tema obrigatório: %s. ", topic)
	}
	b.WriteString("Informe o índice da opção correta em correctAnswerIndex.")
	return b.String()
}

// ParseNode decodes the model's JSON answer.
func ParseNode(text string) (domain.StoryNode, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.StoryNode{}, fmt.Errorf("%w: empty response", domain.ErrInvalidQuestion)
	}
	var node domain.StoryNode
	if err := json.Unmarshal([]byte(text), &node); err != nil {
		return domain.StoryNode{}, fmt.Errorf("%w: %v", domain.ErrInvalidQuestion, err)
	}
	return node, nil
}

// DataURL encodes image bytes for direct use as an imageUrl.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func questionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"text":               {Type: genai.TypeString},
			"choices":            {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"correctAnswerIndex": {Type: genai.TypeInteger},
		},
		Required: []string{"text", "choices", "correctAnswerIndex"},
	}
}
