package web

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/sweeney/homegraph/internal/graph"
	"github.com/sweeney/homegraph/internal/status"
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
	"output": func(v float64) string {
		if math.IsNaN(v) {
			return "unknown"
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	},
	"outputClass": func(v float64) string {
		switch {
		case math.IsNaN(v):
			return "unknown"
		case v == 0:
			return "off"
		}
		return "on"
	},
	"state": func(s graph.State) string {
		b, err := s.MarshalJSON()
		if err != nil {
			return "?"
		}
		return string(b)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>homegraph</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.fault { color: red; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>homegraph{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Nodes</h2>
<table>
<tr><th>Name</th><th>Kind</th><th>Output</th><th>State</th><th>Changes</th><th>Faults</th></tr>
{{range .Nodes}}<tr>
<td>{{.Name}}</td><td>{{.Kind}}</td>
<td id="out-{{.Name}}" class="{{outputClass .Output}}">{{output .Output}}</td>
<td id="state-{{.Name}}">{{state .State}}</td>
<td>{{.Changes}}</td>
<td{{if .Faults}} class="fault" title="{{.LastFault}}"{{end}}>{{.Faults}}</td>
</tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Main loop</h2>
<table>
<tr><th>Queued</th><td>{{.Loop.Queued}} / {{.Config.QueueSize}}</td></tr>
<tr><th>Dropped</th><td>{{.Loop.Dropped}}</td></tr>
<tr><th>Timers</th><td>{{.Loop.Timers}}</td></tr>
<tr><th>Timer fires</th><td>{{.Loop.TimerFires}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Boot ID</th><td>{{.Config.BootID}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.Simulate}}<tr><th>Hardware</th><td class="unknown">simulated</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.Topic}}/+/state";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function setNode(node) {
    var st = document.getElementById("state-" + node.name);
    var out = document.getElementById("out-" + node.name);
    if (!st || !out) return;
    st.textContent = JSON.stringify(node.state);
    var v = node.state["0"];
    out.textContent = v === null ? "unknown" : String(v);
    out.className = v === null ? "unknown" : v === 0 ? "off" : "on";
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.node) {
        setNode(msg.node);
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
