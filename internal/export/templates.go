package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var estimateTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/estimate.html")
	if err != nil {
		// Fallback to built-in template if file not found
		estimateTemplate = template.Must(template.New("estimate").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	estimateTemplate = template.Must(template.New("estimate").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for estimate template rendering
type TemplateData struct {
	Title        string
	Status       string
	ClientName   string
	SiteAddress  string
	CreatedAt    time.Time
	DecisionNote string
	Items        []TemplateItem
	Total        string
}

// TemplateItem holds one priced line for the template
type TemplateItem struct {
	Position    int
	Title       string
	PricingMode string
	Quantity    string
	UnitCost    string
	LineTotal   string
}

// RenderEstimateHTML renders the estimate template with provided data
func RenderEstimateHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := estimateTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid #ddd; }
    td.num, th.num { text-align: right; }
    .total { font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.ClientName}}{{if .SiteAddress}} | {{.SiteAddress}}{{end}} | {{.CreatedAt.Format "Jan 2, 2006"}} | {{.Status}}</div>
  <table>
    <tr><th>#</th><th>Item</th><th>Pricing</th><th class="num">Qty</th><th class="num">Unit</th><th class="num">Total</th></tr>
    {{range .Items}}
    <tr>
      <td>{{.Position}}</td>
      <td>{{.Title}}</td>
      <td>{{.PricingMode}}</td>
      <td class="num">{{.Quantity}}</td>
      <td class="num">{{.UnitCost}}</td>
      <td class="num">{{.LineTotal}}</td>
    </tr>
    {{end}}
    <tr class="total"><td colspan="5">Total</td><td class="num">{{.Total}}</td></tr>
  </table>
  {{if .DecisionNote}}<p><strong>Decision note:</strong> {{.DecisionNote}}</p>{{end}}
</body>
</html>`
