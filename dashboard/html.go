package dashboard

import "html/template"

// Each page clones the layout and fills in its own "content" block.
var (
	layout      = template.Must(template.New("layout").Parse(layoutHTML))
	summaryPage = template.Must(template.Must(layout.Clone()).Parse(summaryHTML))
	detailPage  = template.Must(template.Must(layout.Clone()).Parse(detailHTML))
)

const layoutHTML = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  {{if .Refresh}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}
  <title>{{.Title}}</title>
  <style>
    :root { --card-bg: #1f1f1f; --border-color: #333; --row-hover-bg: #2a2a2a; }
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #121212; color: #e0e0e0; padding: 20px; }
    header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 20px; }
    header h1 { font-size: 24px; font-weight: 600; }
    a { color: inherit; }
    .badge { font-size: 13px; color: #9aa; }
    .summary-grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(320px, 1fr)); gap: 16px; }
    .client-card { background: var(--card-bg); border: 1px solid var(--border-color); border-radius: 8px; padding: 14px; position: relative; }
    .client-card.error { border-color: #e74c3c; }
    .client-card.stale { border-color: #f39c12; }
    .summary-title { font-weight: 600; font-size: 17px; }
    .summary-meta { font-size: 13px; color: #aaa; }
    .summary-section { margin-top: 10px; }
    .summary-label { font-size: 12px; text-transform: uppercase; color: #888; margin-bottom: 4px; }
    .dot-row { display: flex; gap: 4px; flex-wrap: wrap; }
    .dot { width: 12px; height: 12px; border-radius: 50%; display: inline-block; }
    .dot.success { background: #2ecc71; }
    .dot.fail { background: #e74c3c; }
    .dot.warn { background: #555; }
    .summary-chip { font-size: 12px; background: #2a2a2a; border-radius: 10px; padding: 2px 8px; margin-right: 4px; }
    .pill { display: inline-block; font-size: 12px; border-radius: 10px; padding: 2px 8px; margin: 2px; }
    .pill-ok { background: #1e4d2b; color: #8fe3a8; }
    .pill-warn { background: #4d3d1e; color: #f3c969; }
    .pill-fail { background: #4d1e1e; color: #f38b8b; }
    .pill-unknown { background: #333; color: #aaa; }
    .pill-cta { background: #2d3e50; color: #cde; text-decoration: none; position: absolute; right: 12px; bottom: 12px; }
    .health-badge { display: inline-block; font-size: 12px; border-radius: 4px; padding: 2px 6px; margin: 2px; }
    .health-online { background: #1e4d2b; }
    .health-degraded { background: #4d3d1e; }
    .health-faulted { background: #4d1e1e; }
    .health-unknown { background: #333; }
    table { width: 100%; border-collapse: collapse; margin-top: 10px; }
    th { background: #333; text-align: left; padding: 8px; white-space: nowrap; }
    td { padding: 8px; border-bottom: 1px solid var(--border-color); white-space: nowrap; }
    tr:hover td { background: var(--row-hover-bg); }
    .status-SUCCESS, .t-ok { color: #2ecc71; }
    .status-ERROR, .status-FAIL, .t-err { color: #e74c3c; }
    .pagination-controls { display: flex; justify-content: center; align-items: center; gap: 16px; margin-top: 16px; }
    .pagination-controls .disabled { opacity: 0.5; pointer-events: none; }
    .message { text-align: center; padding: 16px; }
    .message.error { color: #e74c3c; }
    details { margin-top: 16px; }
    summary { cursor: pointer; font-weight: 600; }
  </style>
</head>
<body>
  <header>
    <h1>{{.Title}}</h1>
    <span class="badge" id="last-updated">Última atualização: {{.UpdatedAt}}</span>
  </header>
  {{block "content" .}}{{end}}
  <script>
    document.addEventListener("visibilitychange", function () {
      if (!document.hidden) location.reload();
    });
  </script>
</body>
</html>`

const summaryHTML = `{{define "content"}}
{{if .Error}}<div class="message error">Erro ao carregar dados</div>{{end}}
{{if .Loading}}<div class="message">Carregando dados...</div>
{{else if not .Cards}}{{if not .Error}}<div class="message">Nenhum dado disponível</div>{{end}}
{{else}}
<div class="summary-grid" id="summary-grid">
{{range .Cards}}
  <div class="{{.Classes}}" data-company="{{.Name}}">
    <div class="summary-header">
      <div class="summary-title">{{.Name}}</div>
      <div class="summary-meta">últ. backup: {{.LastBackup}}{{.WarnIcon}}</div>
    </div>
    <div class="summary-section summary-backups">
      <span class="summary-label">Backups</span>
      <div class="dot-row">{{range .Dots}}<span class="dot {{.Class}}" title="{{.Tip}}"></span>{{else}}<span style="color:#666">sem dados</span>{{end}}</div>
    </div>
    <div class="summary-section summary-row">
      <span class="summary-chip">24h ✔ {{.OK}}</span>
      <span class="summary-chip">24h ✖ {{.Fail}}</span>
      <span class="summary-chip">24h total {{.Total}}</span>
    </div>
    <div class="summary-section summary-repl">
      <div class="summary-label">Replicação</div>
      <div class="repl-pills">{{range .ReplPills}}<span class="pill {{.Class}}"{{if .Tip}} title="{{.Tip}}"{{end}}>{{.Text}}</span>{{end}}</div>
      <div class="summary-meta">Últ. replicação: {{.ReplLast}}</div>
    </div>
    <div class="summary-section summary-health">
      <div class="summary-label">Discos</div>
      {{if .NoDiskHealth}}<span class="pill pill-unknown">sem dados de discos</span>
      {{else if .HealthPills}}<div class="health-pills-row">{{range .HealthPills}}<span class="pill {{.Class}}" title="{{.Tip}}">{{.Text}}</span>{{end}}</div>{{end}}
    </div>
    <a class="pill pill-cta btn-vermais" href="{{.DetailURL}}">▸ Ver mais</a>
  </div>
{{end}}
</div>
{{end}}
{{end}}`

const detailHTML = `{{define "content"}}
<p><a href="/">◂ Voltar</a></p>
<h2>{{.Company}}</h2>
{{if .Error}}<div class="message error">Erro ao carregar dados: {{.Error}}</div>
{{else}}
{{if .Hosts}}
<section>
  <strong>Saúde do Armazenamento</strong>
  {{range .Hosts}}
  <div>
    <div>Host: {{.Host}}{{if .ReceivedAt}} <span class="badge">(atualizado: {{.ReceivedAt}})</span>{{end}}</div>
    <div class="health-grid">{{range .Badges}}<span class="{{.Class}}">{{.Text}}</span>{{else}}<span style="color:#aaa">sem dados de pools</span>{{end}}</div>
  </div>
  {{end}}
</section>
{{end}}
{{if .Backups}}
<table>
  <thead>
    <tr><th>Status</th><th>Host</th><th>VM/CT</th><th>Destino</th><th>Início</th><th>Fim</th><th>Duração</th><th>Escrito</th><th>Velocidade</th></tr>
  </thead>
  <tbody>
  {{range .Backups}}
    <tr>
      <td><span>{{.Icon}}</span> <span class="status-{{.Status}}">{{.Status}}</span></td>
      <td>{{.Host}}</td>
      <td>{{.VM}}</td>
      <td>{{.Target}}</td>
      <td class="cell-dt" title="{{.StartFull}}">{{.Start}}</td>
      <td class="cell-dt" title="{{.EndFull}}">{{.End}}</td>
      <td>{{.Duration}}</td>
      <td class="cell-num">{{.Written}}</td>
      <td class="cell-num">{{.Speed}}</td>
    </tr>
  {{end}}
  </tbody>
</table>
<div class="pagination-controls">
  <a id="prev-page" href="{{.Prev.URL}}"{{if .Prev.Disabled}} class="disabled"{{end}}>Anterior</a>
  <span>Página {{.Page}} de {{.TotalPages}}</span>
  <a id="next-page" href="{{.Next.URL}}"{{if .Next.Disabled}} class="disabled"{{end}}>Próximo</a>
</div>
{{else if .Empty}}
<div class="message">Nenhum dado para este cliente.</div>
{{end}}
{{if .Replication}}
<details>
  <summary>Replicação (últimos jobs)</summary>
  <table class="compact-table">
    <thead>
      <tr><th>VMID</th><th>Nome</th><th>Source</th><th>Target</th><th>Últ. Sync</th><th>Duração (s)</th><th>Fails</th><th>Status</th></tr>
    </thead>
    <tbody>
    {{range .Replication}}
      <tr><td>{{.VMID}}</td><td>{{.Name}}</td><td>{{.Source}}</td><td>{{.Target}}</td><td>{{.LastSync}}</td><td>{{.DurationSec}}</td><td>{{.Fails}}</td><td class="{{.Class}}">{{.Status}}</td></tr>
    {{end}}
    </tbody>
  </table>
</details>
{{end}}
{{end}}
{{end}}`
