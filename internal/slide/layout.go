package slide

import "slices"

// TotalSlides is the fixed length of a lesson.
const TotalSlides = 14

var (
	quizSlides  = []int{7, 12}
	imageSlides = []int{1, 8, 14}
)

var outlineTitles = [TotalSlides]string{
	"Abertura: Tema e Objetivos",
	"Conceitos Fundamentais",
	"Desenvolvimento dos Processos",
	"Aplicações Práticas",
	"Variações e Adaptações",
	"Conexões Avançadas",
	"Quiz: Conceitos Básicos",
	"Aprofundamento",
	"Exemplos Práticos",
	"Análise Crítica",
	"Síntese Intermediária",
	"Quiz: Análise Situacional",
	"Aplicações Futuras",
	"Encerramento: Síntese Final",
}

// TypeFor reports the slide type the lesson layout assigns to index.
func TypeFor(index int) Type {
	switch {
	case slices.Contains(quizSlides, index):
		return TypeQuiz
	case index == TotalSlides:
		return TypeClosing
	default:
		return TypeContent
	}
}

// WantsImage reports whether the slide at index is illustrated.
func WantsImage(index int) bool {
	return slices.Contains(imageSlides, index)
}

// OutlineTitle returns the planned title of slide index, or "" when index is
// outside the lesson.
func OutlineTitle(index int) string {
	if index < 1 || index > TotalSlides {
		return ""
	}
	return outlineTitles[index-1]
}

// Placeholder is one entry of a lesson skeleton, before its content exists.
type Placeholder struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Type  Type   `json:"type"`
	Image bool   `json:"image"`
}

// Skeleton lays out the full lesson so a client can render navigation
// before any slide has been generated.
func Skeleton() []Placeholder {
	out := make([]Placeholder, 0, TotalSlides)
	for i := 1; i <= TotalSlides; i++ {
		out = append(out, Placeholder{
			Index: i,
			Title: OutlineTitle(i),
			Type:  TypeFor(i),
			Image: WantsImage(i),
		})
	}
	return out
}
