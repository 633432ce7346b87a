package entrepreneurs

import "time"

const (
	AccountActive    = "activo"
	AccountInactive  = "inactivo"
	AccountSuspended = "suspendido"
)

// Emprendedor is the persisted entrepreneur document. JSON names follow the
// public API contract.
type Emprendedor struct {
	ID           string      `json:"id"`
	FirstName    string      `json:"nombre,omitempty"`
	LastName     string      `json:"apellidos,omitempty"`
	Email        string      `json:"correo"`
	Phone        string      `json:"telefono,omitempty"`
	Country      string      `json:"pais,omitempty"`
	City         string      `json:"ciudad,omitempty"`
	Username     string      `json:"usuario"`
	PasswordHash string      `json:"-"`
	Project      Project     `json:"proyecto"`
	Market       *Market     `json:"mercado,omitempty"`
	Financials   *Financials `json:"financiero,omitempty"`
	Team         *Team       `json:"equipo,omitempty"`
	Technology   *Technology `json:"tecnologia,omitempty"`
	Traction     *Traction   `json:"traccion,omitempty"`
	Report       Report      `json:"informe"`
	Status       string      `json:"estado"`
	CreatedAt    time.Time   `json:"fechaRegistro"`
	UpdatedAt    time.Time   `json:"ultimaActualizacion"`
}

type Project struct {
	Name             string   `json:"nombre"`
	Description      string   `json:"descripcion,omitempty"`
	Sector           string   `json:"sector,omitempty"`
	Stage            string   `json:"etapa,omitempty"`
	StartDate        string   `json:"fechaInicio,omitempty"`
	Problem          string   `json:"problemaQueResuelve,omitempty"`
	Solution         string   `json:"solucionPropuesta,omitempty"`
	ValueProposition string   `json:"propuestaValor,omitempty"`
	BusinessModel    string   `json:"modeloNegocio,omitempty"`
	Competitors      []string `json:"competencia,omitempty"`
	CompetitiveEdges []string `json:"ventajasCompetitivas,omitempty"`
}

type Market struct {
	Size                 string   `json:"tamano,omitempty"`
	TargetSegment        string   `json:"segmentoObjetivo,omitempty"`
	DistributionChannels []string `json:"canalesDistribucion,omitempty"`
	MarketingStrategy    string   `json:"estrategiaMarketing,omitempty"`
}

type Financials struct {
	InvestmentNeeded  *float64  `json:"inversionNecesaria,omitempty"`
	InvestmentCurrent float64   `json:"inversionActual"`
	RevenueCurrent    float64   `json:"ingresosActuales"`
	RevenueProjection []float64 `json:"proyeccionIngresos,omitempty"`
	OperatingCosts    float64   `json:"gastosOperativos"`
	GrossMargin       *float64  `json:"margenBruto,omitempty"`
	BurnRate          *float64  `json:"burn_rate,omitempty"`
}

type Team struct {
	Founders    []string `json:"fundadores,omitempty"`
	Employees   int      `json:"empleados"`
	Advisors    []string `json:"asesores,omitempty"`
	HiringNeeds []string `json:"necesidadesContratacion,omitempty"`
}

type Technology struct {
	Stack                []string `json:"stack,omitempty"`
	IntellectualProperty bool     `json:"propiedadIntelectual"`
	Patents              []string `json:"patentes,omitempty"`
	Scalability          string   `json:"escalabilidad,omitempty"`
}

type Traction struct {
	Users         int            `json:"usuarios"`
	Customers     int            `json:"clientes"`
	MonthlyGrowth *float64       `json:"crecimientoMensual,omitempty"`
	Retention     *float64       `json:"retencion,omitempty"`
	NPS           *float64       `json:"nps,omitempty"`
	Metrics       map[string]any `json:"metricas,omitempty"`
}

// Report is the analysis status and result embedded in every record.
// Result fields are only populated once State is StateCompleted; ErrorMessage
// only when State is StateError.
type Report struct {
	State           ReportState      `json:"estado"`
	ErrorMessage    string           `json:"error,omitempty"`
	Viability       *float64         `json:"viabilidad,omitempty"`
	MarketValue     *float64         `json:"valorMercado,omitempty"`
	SimilarProjects []SimilarProject `json:"proyectosSimilares,omitempty"`
	Recommendations []string         `json:"recomendaciones,omitempty"`
	Pivots          []string         `json:"pivotesSugeridos,omitempty"`
	Strengths       []string         `json:"fortalezas,omitempty"`
	Weaknesses      []string         `json:"debilidades,omitempty"`
	Opportunities   []string         `json:"oportunidades,omitempty"`
	Threats         []string         `json:"amenazas,omitempty"`
	FullAnalysis    string           `json:"analisisCompleto,omitempty"`
	AnalyzedAt      *time.Time       `json:"fechaAnalisis,omitempty"`
}

type SimilarProject struct {
	Name       string  `json:"nombre"`
	Sector     string  `json:"sector,omitempty"`
	Country    string  `json:"pais,omitempty"`
	Valuation  float64 `json:"valoracion"`
	Similarity float64 `json:"similitud"`
}

// Summary is the short entrepreneur view returned next to a completed report.
type Summary struct {
	ID      string `json:"id"`
	Name    string `json:"nombre"`
	Project string `json:"proyecto"`
	Sector  string `json:"sector"`
}

// Summarize returns the short view of e.
func (e Emprendedor) Summarize() Summary {
	return Summary{
		ID:      e.ID,
		Name:    e.FirstName,
		Project: e.Project.Name,
		Sector:  e.Project.Sector,
	}
}

// CreateInput is the create payload. Email is also accepted under "email",
// and Password arrives in clear text and is hashed before persistence.
type CreateInput struct {
	Emprendedor
	EmailAlias     string  `json:"email,omitempty"`
	Password       string  `json:"contrasena,omitempty"`
	ReportOverride *Report `json:"informe,omitempty"`
}

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	Sector  string
	Stage   string
	Country string
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"pagina"`
	Limit      int `json:"limite"`
	TotalPages int `json:"totalPaginas"`
}

type ListResult struct {
	Items      []Emprendedor `json:"emprendedores"`
	Pagination Pagination    `json:"paginacion"`
}
