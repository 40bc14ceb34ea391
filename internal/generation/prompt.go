package generation

import (
	"fmt"
	"strings"

	"slidegate/internal/slide"
)

const (
	defaultMaxTokens   = 2000
	defaultTemperature = 0.7

	degradedTemperature = 0.3
	minDegradedTokens   = 600
)

// Prompt is the structured input handed to a Generator.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
	Degraded    bool

	req slide.GenerationRequest
}

const systemPrompt = `Você é um professor que escreve aulas em slides. Responda somente com um objeto JSON válido, sem markdown e sem texto fora do JSON.`

// BuildPrompt renders the full prompt for one slide of the lesson.
func BuildPrompt(req slide.GenerationRequest) Prompt {
	return Prompt{
		System:      systemPrompt,
		User:        renderUser(req, false),
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		req:         req,
	}
}

// DegradePrompt trades richness for a better chance of well-formed output:
// fewer tokens, lower temperature and a reduced instruction set.
func DegradePrompt(p Prompt) Prompt {
	p.MaxTokens = max(p.MaxTokens/2, minDegradedTokens)
	p.Temperature = min(p.Temperature, degradedTemperature)
	p.User = renderUser(p.req, true)
	p.Degraded = true
	return p
}

func renderUser(req slide.GenerationRequest, compact bool) string {
	var b strings.Builder
	typ := slide.TypeFor(req.SlideIndex)

	fmt.Fprintf(&b, "Tema da aula: %s\n", req.Topic)
	fmt.Fprintf(&b, "Slide %d de %d: %q (tipo %s)\n", req.SlideIndex, slide.TotalSlides, slide.OutlineTitle(req.SlideIndex), typ)

	if !compact {
		if req.SchoolContext != "" {
			fmt.Fprintf(&b, "Contexto da escola: %s\n", req.SchoolContext)
		}
		b.WriteString("Escreva um conteúdo claro e didático, com exemplos concretos, em 3 a 5 parágrafos curtos.\n")
		if slide.WantsImage(req.SlideIndex) {
			b.WriteString("Inclua \"imageQuery\" com 2 a 4 palavras em inglês para buscar uma imagem ilustrativa.\n")
		}
	} else {
		b.WriteString("Seja breve: no máximo 2 parágrafos curtos.\n")
	}
	if req.CustomInstructions != "" {
		fmt.Fprintf(&b, "Instruções adicionais: %s\n", req.CustomInstructions)
	}

	b.WriteString("Formato: ")
	switch typ {
	case slide.TypeQuiz:
		n := 3
		if compact {
			n = 1
		}
		fmt.Fprintf(&b, `{"number":%d,"title":"...","content":"...","type":"quiz","questions":[{"q":"...","options":["...","...","...","..."],"correct":0,"explanation":"..."}]} com %d pergunta(s), cada uma com exatamente 4 opções e "correct" entre 0 e 3.`, req.SlideIndex, n)
	default:
		fmt.Fprintf(&b, `{"number":%d,"title":"...","content":"...","type":"%s","imageQuery":"..."}`, req.SlideIndex, typ)
	}
	return b.String()
}
