package main

import "net/http"

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>watchsync</title>
<meta name="description" content="Shared playback synchronization server">
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{
font-family:system-ui,-apple-system,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;
background:#141414;color:#e5e5e5;min-height:100vh;
display:flex;align-items:center;justify-content:center;padding:24px;
}
.card{max-width:420px;width:100%;background:#202020;border:1px solid #333;
border-radius:8px;padding:32px;text-align:center}
h1{font-size:1.4rem;margin-bottom:8px}
p{color:#8a8a8a;font-size:.9rem;margin-bottom:20px}
.status{display:inline-block;padding:4px 12px;border-radius:999px;font-size:.8rem}
.ok{background:#143d24;color:#6fdc8c}
.err{background:#3d1414;color:#dc6f6f}
table{width:100%;margin-top:20px;font-size:.85rem;color:#b0b0b0}
td{padding:4px 0}
td:last-child{text-align:right;color:#e5e5e5}
</style>
</head>
<body>
<div class="card">
<h1>watchsync</h1>
<p>Shared playback synchronization server</p>
<span id="status" class="status err">checking&hellip;</span>
<table>
<tr><td>Rooms</td><td id="rooms">&ndash;</td></tr>
<tr><td>Connections</td><td id="conns">&ndash;</td></tr>
</table>
</div>
<script>
(function(){
var s=document.getElementById('status');
function check(){
fetch('/stats').then(function(r){return r.json()}).then(function(j){
s.className='status ok';s.textContent='online';
document.getElementById('rooms').textContent=j.rooms;
document.getElementById('conns').textContent=j.connections;
}).catch(function(){s.className='status err';s.textContent='offline'});
}
check();setInterval(check,30000);
})();
</script>
</body>
</html>`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write([]byte(indexHTML))
}
