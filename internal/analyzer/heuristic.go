package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"unicornio-backend/internal/entrepreneurs"
	"unicornio-backend/internal/shared/telemetry"
)

const (
	defaultSector      = "Tecnología"
	defaultStage       = "idea"
	defaultMarketValue = 5_000_000
	maxViability       = 95
	maxSimilar         = 3
	peerScanLimit      = 50
)

// PeerLister returns records to compare against. *entrepreneurs.Service
// satisfies it.
type PeerLister interface {
	List(ctx context.Context, filter entrepreneurs.ListFilter, page, limit int) (entrepreneurs.ListResult, error)
}

// HeuristicClient scores a record locally from its stage, description and
// registered peers in the same sector. It backs ANALYZER_MODE=local.
type HeuristicClient struct {
	Peers PeerLister
}

// Analyze builds a report without calling any external service.
func (h HeuristicClient) Analyze(ctx context.Context, req Request) (entrepreneurs.Report, error) {
	if err := ctx.Err(); err != nil {
		return entrepreneurs.Report{}, err
	}
	rec := req.Emprendedor
	sector := strings.TrimSpace(rec.Project.Sector)
	if sector == "" {
		sector = defaultSector
	}
	stage := strings.ToLower(strings.TrimSpace(rec.Project.Stage))
	if stage == "" {
		stage = defaultStage
	}

	similar := h.similarProjects(ctx, rec, sector)

	viability := 50.0
	switch stage {
	case "mvp", "lanzamiento":
		viability += 15
	case "crecimiento", "escalado":
		viability += 25
	}
	if len(similar) > 0 {
		viability += 10
	}
	if len([]rune(rec.Project.Description)) > 100 {
		viability += 5
	}
	viability = math.Min(viability, maxViability)

	marketValue := float64(defaultMarketValue)
	if avg, ok := averageValuation(similar); ok {
		marketValue = math.Trunc(avg * 0.1)
	}

	name := strings.TrimSpace(rec.Project.Name)
	if name == "" {
		name = "Sin nombre"
	}

	return entrepreneurs.Report{
		State:           entrepreneurs.StateCompleted,
		Viability:       &viability,
		MarketValue:     &marketValue,
		SimilarProjects: similar,
		Strengths: []string{
			fmt.Sprintf("Proyecto en sector %s con potencial de crecimiento", sector),
			fmt.Sprintf("Etapa %s adecuada para el desarrollo", stage),
			"Idea innovadora con enfoque claro",
		},
		Weaknesses: []string{
			"Necesita validación de mercado más profunda",
			"Requiere desarrollo de plan financiero detallado",
			"Falta información sobre competencia directa",
		},
		Opportunities: []string{
			fmt.Sprintf("Mercado %s en expansión global", sector),
			"Posibilidad de escalamiento internacional",
			"Tendencias favorables en el sector",
		},
		Threats: []string{
			"Alta competencia en el mercado",
			"Cambios regulatorios potenciales",
			"Necesidad de inversión significativa",
		},
		Recommendations: []string{
			"Validar el problema con usuarios reales",
			"Desarrollar MVP funcional lo antes posible",
			"Buscar mentores en el sector",
			"Crear pitch deck profesional",
			"Identificar early adopters",
		},
		Pivots: []string{
			"Enfocarse en un nicho específico del mercado",
			fmt.Sprintf("Explorar modelo B2B en lugar de B2C para %s", sector),
			"Considerar partnerships estratégicos con empresas establecidas",
		},
		FullAnalysis: fmt.Sprintf(
			"El proyecto '%s' presenta una viabilidad del %s%% en su etapa actual (%s). "+
				"El sector %s muestra oportunidades interesantes, especialmente considerando las tendencias actuales del mercado. "+
				"Se recomienda enfocarse en la validación del problema y desarrollo del MVP para aumentar las probabilidades de éxito. "+
				"El valor de mercado estimado en 3-5 años es de $%s USD, basado en comparables del sector y proyecciones de crecimiento.",
			name, strconv.FormatFloat(viability, 'f', -1, 64), stage, sector, groupThousands(marketValue),
		),
	}, nil
}

// similarProjects scores registered peers in the same sector. A peer lookup
// failure degrades to an empty list.
func (h HeuristicClient) similarProjects(ctx context.Context, rec entrepreneurs.Emprendedor, sector string) []entrepreneurs.SimilarProject {
	if h.Peers == nil || strings.TrimSpace(rec.Project.Sector) == "" {
		return nil
	}
	res, err := h.Peers.List(ctx, entrepreneurs.ListFilter{Sector: rec.Project.Sector}, 1, peerScanLimit)
	if err != nil {
		telemetry.Warn("analyzer.peers_failed", map[string]any{
			"emprendedor_id": rec.ID,
			"error":          err,
		})
		return nil
	}

	type scored struct {
		project entrepreneurs.SimilarProject
		score   float64
	}
	var candidates []scored
	for _, peer := range res.Items {
		if peer.ID == rec.ID {
			continue
		}
		score := similarity(rec, peer)
		valuation := 0.0
		if peer.Financials != nil {
			valuation = peer.Financials.InvestmentCurrent
		}
		candidates = append(candidates, scored{
			project: entrepreneurs.SimilarProject{
				Name:       peer.Project.Name,
				Sector:     peer.Project.Sector,
				Country:    peer.Country,
				Valuation:  valuation,
				Similarity: math.Round(score*1000) / 10,
			},
			score: score,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxSimilar {
		candidates = candidates[:maxSimilar]
	}
	out := make([]entrepreneurs.SimilarProject, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.project)
	}
	return out
}

// similarity is 0.5 for a shared sector plus 0.25 each for a shared stage and
// country.
func similarity(a, b entrepreneurs.Emprendedor) float64 {
	score := 0.0
	if strings.EqualFold(a.Project.Sector, b.Project.Sector) {
		score += 0.5
	}
	if a.Project.Stage != "" && strings.EqualFold(a.Project.Stage, b.Project.Stage) {
		score += 0.25
	}
	if a.Country != "" && strings.EqualFold(a.Country, b.Country) {
		score += 0.25
	}
	return score
}

func averageValuation(similar []entrepreneurs.SimilarProject) (float64, bool) {
	var sum float64
	var n int
	for _, p := range similar {
		if p.Valuation > 0 {
			sum += p.Valuation
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func groupThousands(v float64) string {
	digits := strconv.FormatFloat(math.Round(v), 'f', 0, 64)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
