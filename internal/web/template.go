package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/sweeney/speedometer/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"since": func(t, now time.Time) string {
		return humanize.RelTime(t, now, "ago", "from now")
	},
	"count": func(n uint64) string {
		return humanize.Comma(int64(n))
	},
	"hz": func(n int) string {
		return humanize.SI(float64(n), "Hz")
	},
	"ms": func(ms uint64) string {
		return (time.Duration(ms) * time.Millisecond).String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>Speedometer</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.speed { font-size: 1.6em; font-weight: bold; }
.uncalibrated { color: orange; }
.active { color: green; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Speedometer</h1>

<h2>Reading</h2>
<table>
<tr><th>Speed</th><td class="speed{{if not .Calibrated}} uncalibrated{{end}}">{{.SpeedText}}{{if .Calibrated}} km/h{{end}}</td></tr>
<tr><th>RPM</th><td>{{.Speed.RPM}}</td></tr>
<tr><th>Period</th><td>{{.Period.Ms}}ms</td></tr>
</table>

<h2>Calibration</h2>
<table>
<tr><th>Window</th><td{{if .Window.Active}} class="active"{{end}}>{{if .Window.Active}}open{{else}}closed{{end}}</td></tr>
{{if .Window.Active}}<tr><th>Samples</th><td>{{.Accumulator.Count}}</td></tr>{{end}}
<tr><th>Diameter</th><td>{{if .Calibrated}}{{printf "%.4f" .Diameter}} m{{else}}unset{{end}}</td></tr>
{{if .LastCalibration}}<tr><th>Last run</th><td>{{.LastCalibration.Samples}} samples, avg {{.LastCalibration.AverageRPM}} rpm over {{ms .LastCalibration.ElapsedMs}}{{if not .LastCalibration.OK}} (failed){{end}}</td></tr>
<tr><th>Finished</th><td>{{since .CalibratedAt .Now}}</td></tr>{{end}}
<tr><th>Distance</th><td>{{.Config.DistanceM}} m</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Pipeline</h2>
<table>
<tr><th>Batches</th><td>{{count .Counters.Batches}}</td></tr>
<tr><th>Dropped</th><td>{{count .Counters.Dropped}}</td></tr>
<tr><th>Edges</th><td>{{count .Counters.Edges}}</td></tr>
<tr><th>Invalid samples</th><td>{{count .Counters.InvalidSamples}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Sample rate</th><td>{{hz .Config.RateHz}}</td></tr>
<tr><th>Threshold</th><td>{{.Config.Threshold}} / {{.Config.Hysteresis}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		Calibrated bool
		SpeedText  string
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		Calibrated: snap.Calibrated(),
		SpeedText:  status.SpeedString(snap),
	}
	indexTmpl.Execute(w, data)
}
